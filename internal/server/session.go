// Package server is the reference backend: a single-writer actor per game
// session. All mutation happens inside one goroutine's loop, so buzzer rank
// assignment, wager validation, and scoring are race-free by construction.
// That is the contract the client SDK assumes of any hosted backend.
package server

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scribecat/quizwire/internal/phase"
	"github.com/scribecat/quizwire/pkg/types"
)

type Msg interface{ isSessionMsg() }

// Join registers an event consumer at a scope; the current snapshot is sent
// immediately so late joiners and reconnects start from truth.
type Join struct {
	ClientID string
	UserID   string
	Scope    string
	Outbox   chan types.Event
}

type Leave struct{ ClientID string }

type Shutdown struct{}

type GetSnapshot struct {
	UserID string
	Reply  chan types.Snapshot
}

// GetView reflects internal state for tests without data races.
type GetView struct{ Reply chan View }

type SelectQuestion struct {
	UserID     string
	QuestionID string
	Reply      chan types.RPCResult
}

type RecordBuzz struct {
	UserID     string
	QuestionID string
	Reply      chan types.RPCResult
}

type SubmitAnswer struct {
	UserID     string
	QuestionID string
	Answer     string
	Reply      chan types.RPCResult
}

type SubmitWager struct {
	UserID     string
	QuestionID string
	Amount     int
	Reply      chan types.RPCResult
}

type SkipQuestion struct {
	UserID     string
	QuestionID string
	Reply      chan types.RPCResult
}

type finalTimeout struct{ gen int }

func (Join) isSessionMsg()           {}
func (Leave) isSessionMsg()          {}
func (Shutdown) isSessionMsg()       {}
func (GetSnapshot) isSessionMsg()    {}
func (GetView) isSessionMsg()        {}
func (SelectQuestion) isSessionMsg() {}
func (RecordBuzz) isSessionMsg()     {}
func (SubmitAnswer) isSessionMsg()   {}
func (SubmitWager) isSessionMsg()    {}
func (SkipQuestion) isSessionMsg()   {}
func (finalTimeout) isSessionMsg()   {}

type View struct {
	Seq        int64
	Phase      phase.State
	Session    types.GameSession
	Scores     map[string]int
	Buzzes     []types.BuzzerPress
	NumClients int
}

type Seat struct {
	UserID      string
	DisplayName string
}

type Config struct {
	ID            string
	Seats         []Seat
	Board         []types.Question
	FinalDuration time.Duration
	Log           *zap.Logger
	// OnComplete receives the terminal snapshot once, off the actor
	// goroutine, when the session finishes.
	OnComplete func(types.Snapshot)
}

type client struct {
	userID string
	scope  string
	outbox chan types.Event
}

type Session struct {
	inbox chan Msg
	ctx   context.Context
	caf   context.CancelFunc
	log   *zap.Logger

	id           string
	game         types.GameSession
	participants []types.Participant
	board        []types.Question
	state        phase.State
	seq          int64

	buzzes       []types.BuzzerPress
	wagers       map[string]int
	finalAnswers map[string]string
	clients      map[string]client

	finalDur   time.Duration
	timerGen   int
	finalTimer *time.Timer

	onComplete func(types.Snapshot)
}

func NewSession(parent context.Context, cfg Config) *Session {
	ctx, cancel := context.WithCancel(parent)
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	finalDur := cfg.FinalDuration
	if finalDur == 0 {
		finalDur = 30 * time.Second
	}

	s := &Session{
		inbox:        make(chan Msg, 64),
		ctx:          ctx,
		caf:          cancel,
		log:          log.With(zap.String("session", cfg.ID)),
		id:           cfg.ID,
		board:        cfg.Board,
		state:        phase.NewState(),
		wagers:       map[string]int{},
		finalAnswers: map[string]string{},
		clients:      map[string]client{},
		finalDur:     finalDur,
		onComplete:   cfg.OnComplete,
	}
	for _, seat := range cfg.Seats {
		s.participants = append(s.participants, types.Participant{
			UserID:      seat.UserID,
			DisplayName: seat.DisplayName,
		})
	}
	s.game = types.GameSession{ID: cfg.ID, GameType: "jeopardy", Status: types.StatusActive}
	if len(cfg.Seats) > 0 {
		s.game.CurrentTurnUserID = cfg.Seats[0].UserID
	}

	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) ID() string { return s.id }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ClientID] = client{userID: msg.UserID, scope: msg.Scope, outbox: msg.Outbox}
				snap := s.snapshotFor(msg.UserID)
				payload, _ := json.Marshal(snap)
				msg.Outbox <- types.Event{
					Scope:   types.SessionScope(s.id),
					Seq:     s.seq,
					Type:    types.EvtSnapshot,
					Payload: payload,
				}

			case Leave:
				delete(s.clients, msg.ClientID)

			case GetSnapshot:
				msg.Reply <- s.snapshotFor(msg.UserID)

			case GetView:
				scores := map[string]int{}
				for _, p := range s.participants {
					scores[p.UserID] = p.Score
				}
				msg.Reply <- View{
					Seq:        s.seq,
					Phase:      s.state,
					Session:    s.game,
					Scores:     scores,
					Buzzes:     append([]types.BuzzerPress(nil), s.buzzes...),
					NumClients: len(s.clients),
				}

			case SelectQuestion:
				msg.Reply <- s.handleSelect(msg.UserID, msg.QuestionID)
			case RecordBuzz:
				msg.Reply <- s.handleBuzz(msg.UserID, msg.QuestionID)
			case SubmitAnswer:
				msg.Reply <- s.handleAnswer(msg.UserID, msg.QuestionID, msg.Answer)
			case SubmitWager:
				msg.Reply <- s.handleWager(msg.UserID, msg.QuestionID, msg.Amount)
			case SkipQuestion:
				msg.Reply <- s.handleSkip(msg.UserID, msg.QuestionID)

			case finalTimeout:
				// Only the latest armed timer generation may act.
				if msg.gen == s.timerGen && s.state.Phase == phase.PhaseFinalQuestion {
					s.finishFinal()
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) shutdown() {
	if s.finalTimer != nil {
		s.finalTimer.Stop()
	}
	for id, c := range s.clients {
		close(c.outbox)
		delete(s.clients, id)
	}
	s.caf()
}

func reject(reason string) types.RPCResult {
	return types.RPCResult{Error: reason}
}

func (s *Session) handleSelect(userID, questionID string) types.RPCResult {
	if !phase.CanSelect(s.state, userID, s.game.CurrentTurnUserID) {
		if s.state.Phase != phase.PhaseBoard {
			return reject(types.ReasonStalePhase)
		}
		return reject(types.ReasonNotYourTurn)
	}
	q := s.question(questionID)
	if q == nil || q.Triggered || q.IsFinalRound {
		return reject(types.ReasonUnknownQuestion)
	}
	q.Revealed = true
	s.wagers = map[string]int{}

	public := *q
	public.CorrectAnswer = ""
	s.emit(types.SessionScope(s.id), types.EvtQuestionSelected, types.QuestionSelectedPayload{
		Question:       public,
		SelectedByUser: userID,
	})
	s.apply(phase.Event{
		Type:        phase.EvtQuestionSelected,
		UserID:      userID,
		QuestionID:  q.ID,
		DailyDouble: q.IsDailyDouble,
		PointValue:  q.PointValue,
	})
	return types.RPCResult{OK: true, Seq: s.seq}
}

func (s *Session) handleBuzz(userID, questionID string) types.RPCResult {
	if questionID != s.state.QuestionID {
		return reject(types.ReasonStalePhase)
	}
	if s.state.Phase != phase.PhaseBuzzerWait && s.state.Phase != phase.PhaseAnswering {
		return reject(types.ReasonBuzzerNotEnabled)
	}
	for _, b := range s.buzzes {
		if b.UserID == userID {
			return reject(types.ReasonAlreadyBuzzed)
		}
	}
	if s.state.Wrong[userID] {
		return reject(types.ReasonBuzzerNotEnabled)
	}

	press := types.BuzzerPress{UserID: userID, Rank: len(s.buzzes) + 1, At: time.Now().UTC()}
	s.buzzes = append(s.buzzes, press)
	s.emit(types.QuestionScope(s.id, questionID), types.EvtBuzzerPress, types.BuzzerPressPayload{
		QuestionID: questionID,
		Press:      press,
	})
	s.apply(phase.Event{Type: phase.EvtBuzzRecorded, UserID: userID, Rank: press.Rank})
	return types.RPCResult{OK: true, Rank: press.Rank, Seq: s.seq}
}

func (s *Session) handleAnswer(userID, questionID, answer string) types.RPCResult {
	if s.state.Phase == phase.PhaseFinalQuestion {
		return s.handleFinalAnswer(userID, answer)
	}
	if questionID != s.state.QuestionID {
		return reject(types.ReasonStalePhase)
	}
	if !phase.CanAnswer(s.state, userID) {
		return reject(types.ReasonNotAnswering)
	}
	q := s.question(questionID)
	if q == nil {
		return reject(types.ReasonUnknownQuestion)
	}

	stake := q.PointValue
	if q.IsDailyDouble {
		stake = s.wagers[userID]
	}
	correct := judge(answer, q.CorrectAnswer)
	delta := stake
	if !correct {
		delta = -stake
	}
	s.addScore(userID, delta)

	s.emit(types.QuestionScope(s.id, questionID), types.EvtAnswerJudged, types.AnswerJudgedPayload{
		QuestionID:  questionID,
		UserID:      userID,
		Correct:     correct,
		PointsDelta: delta,
	})
	s.emit(types.SessionScope(s.id), types.EvtScoreUpdate, types.ScoreUpdatePayload{
		UserID: userID,
		Score:  s.score(userID),
	})
	s.apply(phase.Event{Type: phase.EvtAnswerJudged, UserID: userID, Correct: correct})

	if correct {
		// Correct answerer takes the next selection.
		s.retireQuestion(questionID, userID)
		return types.RPCResult{OK: true, Points: delta, Seq: s.seq}
	}

	if q.IsDailyDouble || s.everyoneLockedOut() {
		// Nobody may answer anymore; the question dies on the board.
		s.retireQuestion(questionID, s.game.CurrentTurnUserID)
	} else if s.state.Phase == phase.PhaseBuzzerWait {
		// No ranked player left: clear ranks and reopen for the rest.
		s.buzzes = nil
		s.emit(types.QuestionScope(s.id, questionID), types.EvtBuzzerReset, nil)
	}
	return types.RPCResult{OK: true, Points: delta, Seq: s.seq}
}

func (s *Session) handleWager(userID, questionID string, amount int) types.RPCResult {
	if !phase.CanWager(s.state, userID) {
		return reject(types.ReasonStalePhase)
	}
	if _, dup := s.wagers[userID]; dup {
		return reject(types.ReasonAlreadySubmitted)
	}
	if amount < 0 || amount > maxWager(s.score(userID), boardMax(s.board)) {
		return reject(types.ReasonWagerOutOfRange)
	}
	s.wagers[userID] = amount

	scope := types.SessionScope(s.id)
	if s.state.Phase == phase.PhaseDailyDoubleWager {
		scope = types.QuestionScope(s.id, s.state.QuestionID)
	}
	s.emit(scope, types.EvtWagerAccepted, types.WagerAcceptedPayload{
		QuestionID: questionID,
		UserID:     userID,
	})
	s.apply(phase.Event{Type: phase.EvtWagerAccepted, UserID: userID})

	if s.state.Phase == phase.PhaseFinalWager && len(s.wagers) == len(s.participants) {
		s.startFinal()
	}
	return types.RPCResult{OK: true, Seq: s.seq}
}

func (s *Session) handleSkip(userID, questionID string) types.RPCResult {
	if questionID != s.state.QuestionID {
		return reject(types.ReasonStalePhase)
	}
	if userID != s.game.CurrentTurnUserID {
		return reject(types.ReasonNotYourTurn)
	}
	switch s.state.Phase {
	case phase.PhaseBuzzerWait, phase.PhaseAnswering, phase.PhaseDailyDoubleWager:
	default:
		return reject(types.ReasonStalePhase)
	}

	if len(s.buzzes) > 0 {
		s.buzzes = nil
		s.emit(types.QuestionScope(s.id, questionID), types.EvtBuzzerReset, nil)
	}
	s.retireQuestion(questionID, s.game.CurrentTurnUserID)
	return types.RPCResult{OK: true, Seq: s.seq}
}

func (s *Session) handleFinalAnswer(userID, answer string) types.RPCResult {
	if _, dup := s.finalAnswers[userID]; dup {
		return reject(types.ReasonAlreadySubmitted)
	}
	if s.participant(userID) == nil {
		return reject(types.ReasonNotAnswering)
	}
	s.finalAnswers[userID] = answer
	if len(s.finalAnswers) == len(s.participants) {
		s.finishFinal()
	}
	return types.RPCResult{OK: true, Seq: s.seq}
}

func (s *Session) startFinal() {
	fq := s.finalQuestion()
	if fq == nil {
		s.log.Error("board has no final question")
		return
	}
	fq.Revealed = true
	public := *fq
	public.CorrectAnswer = ""

	s.timerGen++
	gen := s.timerGen
	s.finalTimer = time.AfterFunc(s.finalDur, func() {
		select {
		case s.inbox <- finalTimeout{gen: gen}:
		case <-s.ctx.Done():
		}
	})

	s.emit(types.SessionScope(s.id), types.EvtFinalStarted, types.FinalStartedPayload{
		Question:   public,
		DeadlineMS: s.finalDur.Milliseconds(),
	})
	s.apply(phase.Event{Type: phase.EvtFinalStarted, QuestionID: fq.ID})
}

func (s *Session) finishFinal() {
	s.timerGen++ // invalidate any pending timer fire
	if s.finalTimer != nil {
		s.finalTimer.Stop()
	}

	fq := s.finalQuestion()
	for i := range s.participants {
		p := &s.participants[i]
		wager := s.wagers[p.UserID]
		answer, answered := s.finalAnswers[p.UserID]
		if fq != nil && answered && judge(answer, fq.CorrectAnswer) {
			p.Score += wager
		} else {
			// No answer before the deadline counts as wrong.
			p.Score -= wager
		}
		s.emit(types.SessionScope(s.id), types.EvtScoreUpdate, types.ScoreUpdatePayload{
			UserID: p.UserID,
			Score:  p.Score,
		})
	}
	if fq != nil {
		fq.Triggered = true
	}

	standings := append([]types.Participant(nil), s.participants...)
	sort.SliceStable(standings, func(i, j int) bool { return standings[i].Score > standings[j].Score })

	s.game.Status = types.StatusCompleted
	s.emit(types.SessionScope(s.id), types.EvtFinalResults, types.FinalResultsPayload{Standings: standings})
	s.apply(phase.Event{Type: phase.EvtFinalResults})

	if s.onComplete != nil {
		snap := s.snapshotFor("")
		go s.onComplete(snap)
	}
}

func (s *Session) retireQuestion(questionID, nextTurn string) {
	if q := s.question(questionID); q != nil {
		q.Triggered = true
	}
	s.buzzes = nil
	s.wagers = map[string]int{}
	s.game.CurrentTurnUserID = nextTurn

	s.emit(types.SessionScope(s.id), types.EvtQuestionRetired, types.QuestionRetiredPayload{
		QuestionID: questionID,
		NextTurnID: nextTurn,
	})
	s.apply(phase.Event{Type: phase.EvtQuestionRetired, QuestionID: questionID})

	if s.boardExhausted() {
		s.emit(types.SessionScope(s.id), types.EvtBoardComplete, nil)
		s.apply(phase.Event{Type: phase.EvtBoardComplete})
	}
}

// emit stamps the next sequence number and fans the event out to every
// client whose scope covers it. Slow clients are dropped, not waited on.
func (s *Session) emit(scope string, evType types.EventType, payload any) {
	s.seq++
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	ev := types.Event{Scope: scope, Seq: s.seq, Type: evType, Payload: raw}

	for id, c := range s.clients {
		if !scopeCovers(c.scope, scope) {
			continue
		}
		select {
		case c.outbox <- ev:
		default:
			close(c.outbox)
			delete(s.clients, id)
			s.log.Warn("dropping slow client", zap.String("client", id))
		}
	}
}

// scopeCovers reports whether a client listening at clientScope should see
// an event published at evScope: exact match, or the event scope is a
// parent of the client's (question-scope listeners still get session-wide
// events, but a session-scope listener never gets another question's).
func scopeCovers(clientScope, evScope string) bool {
	return clientScope == evScope || strings.HasPrefix(clientScope, evScope+"/")
}

func (s *Session) apply(ev phase.Event) {
	ns, err := phase.Apply(s.state, ev)
	if err != nil {
		s.log.Error("phase apply failed", zap.String("event", string(ev.Type)), zap.Error(err))
		return
	}
	s.state = ns
}

func (s *Session) snapshotFor(userID string) types.Snapshot {
	snap := types.Snapshot{
		Seq:          s.seq,
		Session:      s.game,
		Participants: append([]types.Participant(nil), s.participants...),
		Buzzes:       append([]types.BuzzerPress(nil), s.buzzes...),
	}
	for uid := range s.state.Wrong {
		snap.WrongAnswers = append(snap.WrongAnswers, uid)
	}
	for uid := range s.wagers {
		// Amounts stay hidden until scoring; presence is public.
		snap.Wagers = append(snap.Wagers, types.Wager{UserID: uid})
	}
	for _, q := range s.board {
		public := q
		public.CorrectAnswer = ""
		snap.Board = append(snap.Board, public)
	}
	if s.state.QuestionID != "" {
		if q := s.question(s.state.QuestionID); q != nil {
			public := *q
			public.CorrectAnswer = ""
			snap.Question = &public
		}
	}
	_ = userID // snapshots are identical for all players today
	return snap
}

func (s *Session) question(id string) *types.Question {
	for i := range s.board {
		if s.board[i].ID == id {
			return &s.board[i]
		}
	}
	return nil
}

func (s *Session) finalQuestion() *types.Question {
	for i := range s.board {
		if s.board[i].IsFinalRound {
			return &s.board[i]
		}
	}
	return nil
}

func (s *Session) participant(userID string) *types.Participant {
	for i := range s.participants {
		if s.participants[i].UserID == userID {
			return &s.participants[i]
		}
	}
	return nil
}

func (s *Session) score(userID string) int {
	if p := s.participant(userID); p != nil {
		return p.Score
	}
	return 0
}

func (s *Session) addScore(userID string, delta int) {
	if p := s.participant(userID); p != nil {
		p.Score += delta
	}
}

func (s *Session) everyoneLockedOut() bool {
	for _, p := range s.participants {
		if !s.state.Wrong[p.UserID] {
			return false
		}
	}
	return true
}

func (s *Session) boardExhausted() bool {
	for _, q := range s.board {
		if !q.IsFinalRound && !q.Triggered {
			return false
		}
	}
	return true
}

func maxWager(score, boardMax int) int {
	if score > boardMax {
		return score
	}
	return boardMax
}

func boardMax(board []types.Question) int {
	max := 0
	for _, q := range board {
		if !q.IsFinalRound && q.PointValue > max {
			max = q.PointValue
		}
	}
	return max
}

func judge(answer, correct string) bool {
	return normalize(answer) == normalize(correct)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, prefix := range []string{"what is ", "who is ", "what are ", "who are "} {
		s = strings.TrimPrefix(s, prefix)
	}
	return strings.TrimSuffix(s, "?")
}
