package types

// RPC procedure names. Each maps to POST /rpc/<name> on the reference
// backend; a hosted backend exposing the same contract works unchanged.
const (
	ProcSelectQuestion = "select_question"
	ProcRecordBuzz     = "record_buzzer_press"
	ProcSubmitAnswer   = "submit_answer"
	ProcSubmitWager    = "submit_wager"
	ProcSkipQuestion   = "skip_question"
)

type SelectQuestionRequest struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
}

type RecordBuzzRequest struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
}

type SubmitAnswerRequest struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
	Answer     string `json:"answer"`
}

type SubmitWagerRequest struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
	Amount     int    `json:"amount"`
}

type SkipQuestionRequest struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
}

// RPCResult is the single result shape every procedure returns. Failures are
// values, not errors: OK=false plus a reason, so callers must handle them.
// Seq carries the session sequence at the moment the call was applied, which
// lets optimistic client hints reconcile against later events.
type RPCResult struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Rank   int    `json:"rank,omitempty"`
	Points int    `json:"points,omitempty"`
	Seq    int64  `json:"seq,omitempty"`
}

// Rejection reasons shared by client-side guards and the server.
const (
	ReasonBuzzerNotEnabled = "buzzer not enabled"
	ReasonAlreadyBuzzed    = "already buzzed"
	ReasonAlreadySubmitted = "already submitted"
	ReasonWagerOutOfRange  = "wager out of range"
	ReasonNotYourTurn      = "not your turn"
	ReasonNotAnswering     = "not your answer window"
	ReasonStalePhase       = "stale phase"
	ReasonUnknownQuestion  = "unknown question"
)
