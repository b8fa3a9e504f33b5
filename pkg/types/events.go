package types

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EvtSnapshot         EventType = "Snapshot"
	EvtQuestionSelected EventType = "QuestionSelected"
	EvtBuzzerPress      EventType = "BuzzerPress"
	EvtBuzzerReset      EventType = "BuzzerReset"
	EvtWagerAccepted    EventType = "WagerAccepted"
	EvtAnswerJudged     EventType = "AnswerJudged"
	EvtScoreUpdate      EventType = "ScoreUpdate"
	EvtQuestionRetired  EventType = "QuestionRetired"
	EvtBoardComplete    EventType = "BoardComplete"
	EvtFinalStarted     EventType = "FinalStarted"
	EvtFinalResults     EventType = "FinalResults"
)

// Event is the realtime envelope. Scope names the channel the event belongs
// to ("session/<id>" or "session/<id>/question/<qid>"); Seq is the session's
// monotonic sequence number, shared with Snapshot.Seq.
type Event struct {
	Scope   string          `json:"scope"`
	Seq     int64           `json:"seq"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type QuestionSelectedPayload struct {
	Question       Question `json:"question"`
	SelectedByUser string   `json:"selected_by_user"`
}

type BuzzerPressPayload struct {
	QuestionID string      `json:"question_id"`
	Press      BuzzerPress `json:"press"`
}

type WagerAcceptedPayload struct {
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
}

type AnswerJudgedPayload struct {
	QuestionID  string `json:"question_id"`
	UserID      string `json:"user_id"`
	Correct     bool   `json:"correct"`
	PointsDelta int    `json:"points_delta"`
}

type ScoreUpdatePayload struct {
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
}

type QuestionRetiredPayload struct {
	QuestionID string `json:"question_id"`
	NextTurnID string `json:"next_turn_id"`
}

type FinalStartedPayload struct {
	Question Question `json:"question"`
	// DeadlineMS is the answer window in milliseconds from receipt, not a
	// wall-clock timestamp.
	DeadlineMS int64 `json:"deadline_ms"`
}

type FinalResultsPayload struct {
	Standings []Participant `json:"standings"`
}

// DecodeEvent converts a raw envelope into the typed payload for its tag.
// Events that carry no payload decode to nil. Unknown tags and malformed
// payloads return an error; callers log and drop them rather than crash.
func DecodeEvent(ev Event) (any, error) {
	unmarshal := func(dst any) (any, error) {
		if err := json.Unmarshal(ev.Payload, dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return dst, nil
	}

	switch ev.Type {
	case EvtSnapshot:
		return unmarshal(&Snapshot{})
	case EvtQuestionSelected:
		return unmarshal(&QuestionSelectedPayload{})
	case EvtBuzzerPress:
		return unmarshal(&BuzzerPressPayload{})
	case EvtWagerAccepted:
		return unmarshal(&WagerAcceptedPayload{})
	case EvtAnswerJudged:
		return unmarshal(&AnswerJudgedPayload{})
	case EvtScoreUpdate:
		return unmarshal(&ScoreUpdatePayload{})
	case EvtQuestionRetired:
		return unmarshal(&QuestionRetiredPayload{})
	case EvtFinalStarted:
		return unmarshal(&FinalStartedPayload{})
	case EvtFinalResults:
		return unmarshal(&FinalResultsPayload{})
	case EvtBuzzerReset, EvtBoardComplete:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// SessionScope and QuestionScope build the channel names used by both ends.
func SessionScope(sessionID string) string {
	return "session/" + sessionID
}

func QuestionScope(sessionID, questionID string) string {
	return "session/" + sessionID + "/question/" + questionID
}
