// Package client is the quizwire SDK facade. A Coordinator owns one
// player's view of one session: the mirrored server state, the realtime
// subscription, the action submitter and the reconnect policy. The UI reads
// state through the Coordinator and calls its action methods; everything
// else happens on internal goroutines.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scribecat/quizwire/internal/action"
	"github.com/scribecat/quizwire/internal/backoff"
	"github.com/scribecat/quizwire/internal/mirror"
	"github.com/scribecat/quizwire/internal/phase"
	"github.com/scribecat/quizwire/internal/realtime"
	"github.com/scribecat/quizwire/pkg/types"
)

var ErrNotConnected = errors.New("coordinator not connected")

type Config struct {
	BaseURL   string
	SessionID string
	UserID    string

	// Transport overrides the websocket transport; tests inject fakes here.
	Transport  realtime.Transport
	HTTPClient *http.Client
	Backoff    backoff.Config
	Log        *zap.Logger

	// OnChange fires after any state change the UI should re-render for.
	// It runs on an internal goroutine; keep it cheap and non-blocking.
	OnChange func()
	// OnStatus mirrors the connection lifecycle for the UI's banner.
	OnStatus func(backoff.State, error)
}

type Coordinator struct {
	cfg    Config
	log    *zap.Logger
	client *http.Client

	mirror *mirror.Mirror
	sub    *realtime.Subscriber
	submit *action.Submitter
	conn   *backoff.Manager

	mu           sync.Mutex
	state        phase.State
	ctx          context.Context
	countdown    *countdown
	desiredScope string
}

func New(cfg Config) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = backoff.DefaultConfig()
	}

	c := &Coordinator{
		cfg:    cfg,
		log:    log.With(zap.String("session", cfg.SessionID), zap.String("user", cfg.UserID)),
		client: hc,
		mirror: mirror.New(cfg.UserID),
		submit: action.NewSubmitter(cfg.BaseURL, cfg.UserID, hc, log),
		state:  phase.NewState(),
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &realtime.WSTransport{BaseURL: cfg.BaseURL, UserID: cfg.UserID, HTTPClient: hc, Log: log}
	}
	c.sub = realtime.NewSubscriber(transport, c.onTransportDrop, log)
	c.conn = backoff.New(cfg.Backoff, c.establish, c.onConnState, log)
	return c
}

// Connect brings the coordinator online: snapshot fetch, subscription,
// and automatic reconnects until Disconnect or the context ends.
func (c *Coordinator) Connect(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.conn.Connect(ctx)
}

// Disconnect tears everything down. No retry fires afterwards.
func (c *Coordinator) Disconnect() {
	c.conn.Disconnect()
	c.sub.Unsubscribe()
	c.stopCountdown()
}

// Reconnect resumes after the retry budget was exhausted (StateError).
func (c *Coordinator) Reconnect() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		return
	}
	c.conn.Connect(ctx)
}

func (c *Coordinator) ConnState() backoff.State { return c.conn.State() }

// establish is the backoff manager's connect callback: fetch a fresh
// authoritative snapshot, rebuild local phase from it, then attach the
// realtime feed. Local phase is never resumed across a gap; whatever
// happened while offline is already in the snapshot.
func (c *Coordinator) establish(ctx context.Context) error {
	snap, err := c.fetchSnapshot(ctx)
	if err != nil {
		return err
	}

	c.mirror.ApplySnapshot(snap)
	st := phase.FromSnapshot(snap)
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()

	scope := types.SessionScope(c.cfg.SessionID)
	if snap.Question != nil && !snap.Question.IsFinalRound {
		scope = types.QuestionScope(c.cfg.SessionID, snap.Question.ID)
	}
	c.mu.Lock()
	c.desiredScope = scope
	c.mu.Unlock()
	if err := c.sub.Subscribe(ctx, scope, c.handleEvent); err != nil {
		return fmt.Errorf("subscribe %s: %w", scope, err)
	}

	c.notify()
	return nil
}

func (c *Coordinator) fetchSnapshot(ctx context.Context) (types.Snapshot, error) {
	u := fmt.Sprintf("%s/sessions/%s/snapshot?user=%s", c.cfg.BaseURL, c.cfg.SessionID, c.cfg.UserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.Snapshot{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return types.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.Snapshot{}, fmt.Errorf("snapshot fetch: status %d", resp.StatusCode)
	}
	var snap types.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("snapshot decode: %w", err)
	}
	return snap, nil
}

func (c *Coordinator) onTransportDrop(err error) {
	c.conn.ConnectionLost(err)
}

func (c *Coordinator) onConnState(st backoff.State, err error) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(st, err)
	}
}

// handleEvent runs on the subscriber's read goroutine. Anything that needs
// to tear down or redial the subscription (scope switches, resyncs) is
// kicked to a fresh goroutine so the read loop can exit underneath it.
func (c *Coordinator) handleEvent(ev types.Event) {
	decoded, err := types.DecodeEvent(ev)
	if err != nil {
		c.log.Warn("dropping undecodable event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}

	if !c.mirror.Apply(ev, decoded) {
		c.log.Debug("dropping stale event",
			zap.String("type", string(ev.Type)), zap.Int64("seq", ev.Seq))
		return
	}

	if snap, ok := decoded.(*types.Snapshot); ok {
		st := phase.FromSnapshot(*snap)
		c.mu.Lock()
		c.state = st
		c.mu.Unlock()
		c.notify()
		return
	}

	pev, ok := toPhaseEvent(ev.Type, decoded)
	if ok {
		c.mu.Lock()
		next, err := phase.Apply(c.state, pev)
		if err == nil {
			c.state = next
		}
		c.mu.Unlock()
		if err != nil {
			// Local phase disagrees with the server's event stream; the
			// snapshot is the tiebreaker.
			c.log.Warn("phase desync, resyncing from snapshot",
				zap.String("event", string(ev.Type)), zap.Error(err))
			go c.resync()
			return
		}
	}

	c.afterEvent(ev.Type, decoded)
	c.notify()
}

// afterEvent handles the side effects that aren't phase transitions:
// subscription scope, idempotence guards, the final-round countdown.
func (c *Coordinator) afterEvent(t types.EventType, decoded any) {
	switch p := decoded.(type) {
	case *types.QuestionSelectedPayload:
		c.setDesiredScope(types.QuestionScope(c.cfg.SessionID, p.Question.ID))

	case *types.QuestionRetiredPayload:
		c.submit.Forget(p.QuestionID)
		c.setDesiredScope(types.SessionScope(c.cfg.SessionID))

	case *types.FinalStartedPayload:
		// DeadlineMS is a duration, not a wall clock; clocks never have to
		// agree across machines.
		c.startCountdown(p.Question.ID, time.Now().Add(time.Duration(p.DeadlineMS)*time.Millisecond))

	case *types.FinalResultsPayload:
		c.stopCountdown()

	case nil:
		if t == types.EvtBuzzerReset {
			// Re-armed window: my earlier press no longer counts, so the
			// idempotence guard must let me buzz again.
			c.mu.Lock()
			qid := c.state.QuestionID
			c.mu.Unlock()
			c.submit.ClearBuzz(qid)
		}
	}
}

// setDesiredScope records the scope the subscription should converge on and
// kicks the switch onto a fresh goroutine: Subscribe tears down the current
// reader, so it must never run on the reader's own goroutine.
func (c *Coordinator) setDesiredScope(scope string) {
	c.mu.Lock()
	c.desiredScope = scope
	c.mu.Unlock()
	go c.applyScope()
}

// applyScope redials the feed on the desired scope, then refetches the
// snapshot to cover any events broadcast there before we were attached. The
// mirror's sequence check makes the overlap harmless. If the desired scope
// moved again while dialing, it loops until they agree.
func (c *Coordinator) applyScope() {
	c.mu.Lock()
	scope := c.desiredScope
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil || ctx.Err() != nil || scope == "" {
		return
	}
	if c.sub.Scope() != scope {
		if err := c.sub.Subscribe(ctx, scope, c.handleEvent); err != nil {
			c.log.Warn("scope switch failed", zap.String("scope", scope), zap.Error(err))
			c.conn.ConnectionLost(err)
			return
		}
		go c.resync()
	}

	c.mu.Lock()
	moved := c.desiredScope != scope
	c.mu.Unlock()
	if moved {
		go c.applyScope()
	}
}

func (c *Coordinator) resync() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	snap, err := c.fetchSnapshot(ctx)
	if err != nil {
		c.log.Warn("resync fetch failed", zap.Error(err))
		return
	}
	c.mirror.ApplySnapshot(snap)
	st := phase.FromSnapshot(snap)
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) notify() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange()
	}
}

// Phase returns the current local phase state (a copy).
func (c *Coordinator) Phase() phase.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	st.Order = append([]string(nil), c.state.Order...)
	wrong := make(map[string]bool, len(c.state.Wrong))
	for k, v := range c.state.Wrong {
		wrong[k] = v
	}
	st.Wrong = wrong
	return st
}

func (c *Coordinator) Snapshot() types.Snapshot { return c.mirror.Snapshot() }
func (c *Coordinator) MyRank() int              { return c.mirror.MyRank() }

// Self returns my own participant row, nil before the first snapshot.
func (c *Coordinator) Self() *types.Participant {
	return c.mirror.Participant(c.cfg.UserID)
}

// MyTurn reports whether I hold board control.
func (c *Coordinator) MyTurn() bool {
	return c.mirror.Session().CurrentTurnUserID == c.cfg.UserID
}

// CanBuzz reports whether my buzzer control should be enabled right now.
func (c *Coordinator) CanBuzz() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return phase.CanBuzz(c.state, c.cfg.UserID)
}

func (c *Coordinator) CanAnswer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return phase.CanAnswer(c.state, c.cfg.UserID)
}

func (c *Coordinator) CanWager() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return phase.CanWager(c.state, c.cfg.UserID)
}

func (c *Coordinator) CanSelect() bool {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	return phase.CanSelect(st, c.cfg.UserID, c.mirror.Session().CurrentTurnUserID)
}

// SelectQuestion picks a question off the board. Only the turn holder's
// call succeeds; everyone else gets a rejection result.
func (c *Coordinator) SelectQuestion(ctx context.Context, questionID string) (types.RPCResult, error) {
	return c.submit.SelectQuestion(ctx, c.cfg.SessionID, questionID)
}

// Buzz presses the buzzer for the open question. The returned rank is an
// optimistic hint; the broadcast for the same press reconciles by sequence.
func (c *Coordinator) Buzz(ctx context.Context) (types.RPCResult, error) {
	qid := c.openQuestionID()
	if qid == "" {
		return types.RPCResult{}, ErrNotConnected
	}
	res, err := c.submit.Buzz(ctx, c.cfg.SessionID, qid)
	if err == nil && res.OK {
		c.mirror.ReconcileMyRank(res.Rank, res.Seq)
		c.notify()
	}
	return res, err
}

func (c *Coordinator) SubmitAnswer(ctx context.Context, answer string) (types.RPCResult, error) {
	qid := c.openQuestionID()
	if qid == "" {
		return types.RPCResult{}, ErrNotConnected
	}
	return c.submit.SubmitAnswer(ctx, c.cfg.SessionID, qid, answer)
}

// SubmitWager places a daily-double or final wager. Bounds are checked
// locally before the network: 0..max(score, highest board value).
func (c *Coordinator) SubmitWager(ctx context.Context, amount int) (types.RPCResult, error) {
	qid := c.openQuestionID()
	if qid == "" {
		// Final wagers are placed before the final question is revealed;
		// the board carries its ID.
		for _, q := range c.mirror.Snapshot().Board {
			if q.IsFinalRound {
				qid = q.ID
				break
			}
		}
	}
	if qid == "" {
		return types.RPCResult{}, ErrNotConnected
	}
	score, _ := c.mirror.Score(c.cfg.UserID)
	return c.submit.SubmitWager(ctx, c.cfg.SessionID, qid, amount, score, c.boardMax())
}

func (c *Coordinator) SkipQuestion(ctx context.Context) (types.RPCResult, error) {
	qid := c.openQuestionID()
	if qid == "" {
		return types.RPCResult{}, ErrNotConnected
	}
	return c.submit.SkipQuestion(ctx, c.cfg.SessionID, qid)
}

func (c *Coordinator) openQuestionID() string {
	if q := c.mirror.CurrentQuestion(); q != nil {
		return q.ID
	}
	return ""
}

func (c *Coordinator) boardMax() int {
	max := 0
	for _, q := range c.mirror.Snapshot().Board {
		if !q.IsFinalRound && q.PointValue > max {
			max = q.PointValue
		}
	}
	return max
}

func toPhaseEvent(t types.EventType, decoded any) (phase.Event, bool) {
	switch p := decoded.(type) {
	case *types.QuestionSelectedPayload:
		return phase.Event{
			Type:        phase.EvtQuestionSelected,
			UserID:      p.SelectedByUser,
			QuestionID:  p.Question.ID,
			DailyDouble: p.Question.IsDailyDouble,
			PointValue:  p.Question.PointValue,
		}, true
	case *types.BuzzerPressPayload:
		return phase.Event{Type: phase.EvtBuzzRecorded, UserID: p.Press.UserID, Rank: p.Press.Rank}, true
	case *types.WagerAcceptedPayload:
		return phase.Event{Type: phase.EvtWagerAccepted, UserID: p.UserID}, true
	case *types.AnswerJudgedPayload:
		return phase.Event{Type: phase.EvtAnswerJudged, UserID: p.UserID, Correct: p.Correct}, true
	case *types.QuestionRetiredPayload:
		return phase.Event{Type: phase.EvtQuestionRetired, QuestionID: p.QuestionID}, true
	case *types.FinalStartedPayload:
		return phase.Event{Type: phase.EvtFinalStarted, QuestionID: p.Question.ID, FinalRound: true}, true
	case *types.FinalResultsPayload:
		return phase.Event{Type: phase.EvtFinalResults}, true
	case nil:
		switch t {
		case types.EvtBuzzerReset:
			return phase.Event{Type: phase.EvtBuzzerReset}, true
		case types.EvtBoardComplete:
			return phase.Event{Type: phase.EvtBoardComplete}, true
		}
	}
	return phase.Event{}, false
}
