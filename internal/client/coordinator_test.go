package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scribecat/quizwire/internal/backoff"
	"github.com/scribecat/quizwire/internal/phase"
	"github.com/scribecat/quizwire/internal/realtime"
	"github.com/scribecat/quizwire/pkg/types"
)

const (
	testSession = "ABC123"
	testUser    = "alice"
)

var errFeedClosed = errors.New("feed closed")

// fakeFeed is one dialed realtime channel: the test pushes events in, the
// coordinator's subscriber reads them out.
type fakeFeed struct {
	scope  string
	events chan types.Event
	closed chan struct{}
	once   sync.Once
}

func (f *fakeFeed) Recv(ctx context.Context) (types.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.closed:
		return types.Event{}, errFeedClosed
	case <-ctx.Done():
		return types.Event{}, ctx.Err()
	}
}

func (f *fakeFeed) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeFeed) push(ev types.Event) { f.events <- ev }

// drop simulates the transport dying underneath the coordinator.
func (f *fakeFeed) drop() { _ = f.Close() }

type fakeFeedTransport struct {
	mu    sync.Mutex
	dials []string
	feeds []*fakeFeed
}

func (t *fakeFeedTransport) Dial(_ context.Context, scope string) (realtime.Conn, error) {
	f := &fakeFeed{scope: scope, events: make(chan types.Event, 16), closed: make(chan struct{})}
	t.mu.Lock()
	t.dials = append(t.dials, scope)
	t.feeds = append(t.feeds, f)
	t.mu.Unlock()
	return f, nil
}

func (t *fakeFeedTransport) lastFeed() *fakeFeed {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.feeds) == 0 {
		return nil
	}
	return t.feeds[len(t.feeds)-1]
}

func (t *fakeFeedTransport) dialScopes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dials...)
}

// backendStub is the HTTP side of the fake server: a mutable snapshot plus
// scripted RPC results, with call counting.
type backendStub struct {
	mu       sync.Mutex
	snapshot types.Snapshot
	results  map[string]types.RPCResult
	calls    map[string]int
	snapGets int
}

func newBackendStub() *backendStub {
	return &backendStub{
		results: map[string]types.RPCResult{},
		calls:   map[string]int{},
	}
}

func (b *backendStub) setSnapshot(s types.Snapshot) {
	b.mu.Lock()
	b.snapshot = s
	b.mu.Unlock()
}

func (b *backendStub) setResult(proc string, res types.RPCResult) {
	b.mu.Lock()
	b.results[proc] = res
	b.mu.Unlock()
}

func (b *backendStub) callCount(proc string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[proc]
}

func (b *backendStub) snapshotGets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapGets
}

func (b *backendStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.snapGets++
		snap := b.snapshot
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	mux.HandleFunc("/rpc/", func(w http.ResponseWriter, r *http.Request) {
		proc := strings.TrimPrefix(r.URL.Path, "/rpc/")
		b.mu.Lock()
		b.calls[proc]++
		res, ok := b.results[proc]
		b.mu.Unlock()
		if !ok {
			res = types.RPCResult{OK: true}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
	return mux
}

func boardSnapshot(seq int64) types.Snapshot {
	return types.Snapshot{
		Seq: seq,
		Session: types.GameSession{
			ID:                testSession,
			Status:            types.StatusActive,
			CurrentTurnUserID: testUser,
		},
		Participants: []types.Participant{
			{UserID: testUser, DisplayName: "Alice", Score: 400},
			{UserID: "bob", DisplayName: "Bob", Score: 200},
		},
		Board: []types.Question{
			{ID: "c1-q1", Category: "Capitals", PointValue: 200, Prompt: "Capital of France"},
			{ID: "c1-q2", Category: "Capitals", PointValue: 800, Prompt: "Capital of Ecuador"},
			{ID: "final", Prompt: "Largest moon of Saturn", IsFinalRound: true},
		},
	}
}

func event(scope string, seq int64, t types.EventType, payload any) types.Event {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return types.Event{Scope: scope, Seq: seq, Type: t, Payload: raw}
}

type harness struct {
	backend   *backendStub
	transport *fakeFeedTransport
	coord     *Coordinator
	changed   chan struct{}
	states    chan backoff.State
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, bo backoff.Config) *harness {
	t.Helper()
	backend := newBackendStub()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	ft := &fakeFeedTransport{}
	changed := make(chan struct{}, 64)
	states := make(chan backoff.State, 16)

	coord := New(Config{
		BaseURL:   srv.URL,
		SessionID: testSession,
		UserID:    testUser,
		Transport: ft,
		Backoff:   bo,
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
		OnStatus: func(st backoff.State, _ error) {
			select {
			case states <- st:
			default:
			}
		},
	})

	t.Cleanup(coord.Disconnect)
	return &harness{backend: backend, transport: ft, coord: coord, changed: changed, states: states}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	h.coord.Connect(ctx)
	h.waitState(t, backoff.StateConnected)
}

func (h *harness) waitState(t *testing.T, want backoff.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-h.states:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for connection state %s", want)
		}
	}
}

func (h *harness) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		select {
		case <-h.changed:
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatalf("condition never held")
}

func TestConnect_SnapshotThenSubscribe(t *testing.T) {
	h := newHarness(t, backoff.DefaultConfig())
	h.backend.setSnapshot(boardSnapshot(5))
	h.connect(t)

	require.Equal(t, phase.PhaseBoard, h.coord.Phase().Phase)
	require.Equal(t, int64(5), h.coord.Snapshot().Seq)
	require.Equal(t, []string{"session/" + testSession}, h.transport.dialScopes())
	require.True(t, h.coord.MyTurn())
}

func TestQuestionSelected_SwitchesScopeAndOpensBuzzer(t *testing.T) {
	h := newHarness(t, backoff.DefaultConfig())
	h.backend.setSnapshot(boardSnapshot(5))
	h.connect(t)

	feed := h.transport.lastFeed()
	q := types.Question{ID: "c1-q2", Category: "Capitals", PointValue: 800, Prompt: "Capital of Ecuador", Revealed: true}
	feed.push(event(types.SessionScope(testSession), 6, types.EvtQuestionSelected,
		types.QuestionSelectedPayload{Question: q, SelectedByUser: testUser}))

	h.waitFor(t, func() bool { return h.coord.Phase().Phase == phase.PhaseBuzzerWait })
	h.waitFor(t, func() bool {
		scopes := h.transport.dialScopes()
		return scopes[len(scopes)-1] == types.QuestionScope(testSession, "c1-q2")
	})
	require.True(t, h.coord.CanBuzz())
	require.NotNil(t, h.coord.Snapshot().Question)
}

func TestStaleEvent_Dropped(t *testing.T) {
	h := newHarness(t, backoff.DefaultConfig())
	h.backend.setSnapshot(boardSnapshot(10))
	h.connect(t)

	feed := h.transport.lastFeed()
	feed.push(event(types.SessionScope(testSession), 7, types.EvtScoreUpdate,
		types.ScoreUpdatePayload{UserID: "bob", Score: 9999}))
	feed.push(event(types.SessionScope(testSession), 11, types.EvtScoreUpdate,
		types.ScoreUpdatePayload{UserID: "bob", Score: 600}))

	h.waitFor(t, func() bool { return h.coord.Snapshot().Participants[1].Score == 600 })
	require.Equal(t, int64(11), h.coord.Snapshot().Seq)
}

func TestBuzz_OptimisticRankThenAuthoritativeBroadcast(t *testing.T) {
	h := newHarness(t, backoff.DefaultConfig())
	snap := boardSnapshot(5)
	q := snap.Board[1]
	q.Revealed = true
	snap.Question = &q
	h.backend.setSnapshot(snap)
	h.connect(t)

	h.backend.setResult(types.ProcRecordBuzz, types.RPCResult{OK: true, Rank: 2, Seq: 8})
	res, err := h.coord.Buzz(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 2, h.coord.MyRank())

	// The broadcast for the same press reconciles to the same value; the
	// two sources never merge into something new.
	feed := h.transport.lastFeed()
	feed.push(event(types.QuestionScope(testSession, "c1-q2"), 8, types.EvtBuzzerPress,
		types.BuzzerPressPayload{QuestionID: "c1-q2", Press: types.BuzzerPress{UserID: testUser, Rank: 2}}))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, h.coord.MyRank())

	// A second press is short-circuited client-side.
	res2, err := h.coord.Buzz(context.Background())
	require.NoError(t, err)
	require.False(t, res2.OK)
	require.Equal(t, types.ReasonAlreadyBuzzed, res2.Error)
	require.Equal(t, 1, h.backend.callCount(types.ProcRecordBuzz))
}

func TestFinalCountdown_ForcesSubmissionOnce(t *testing.T) {
	h := newHarness(t, backoff.DefaultConfig())
	snap := boardSnapshot(5)
	snap.Board[0].Triggered = true
	snap.Board[1].Triggered = true
	h.backend.setSnapshot(snap)
	h.connect(t)

	require.Equal(t, phase.PhaseFinalWager, h.coord.Phase().Phase)
	require.True(t, h.coord.CanWager())

	fq := types.Question{ID: "final", Prompt: "Largest moon of Saturn", Revealed: true, IsFinalRound: true}
	feed := h.transport.lastFeed()
	feed.push(event(types.SessionScope(testSession), 6, types.EvtFinalStarted,
		types.FinalStartedPayload{Question: fq, DeadlineMS: 150}))

	h.waitFor(t, func() bool { return h.coord.Phase().Phase == phase.PhaseFinalQuestion })
	require.Greater(t, h.coord.FinalTimeRemaining(), time.Duration(0))

	h.waitFor(t, func() bool { return h.backend.callCount(types.ProcSubmitAnswer) == 1 })
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, h.backend.callCount(types.ProcSubmitAnswer))

	// A manual submission after the forced one is short-circuited too.
	res, err := h.coord.SubmitAnswer(context.Background(), "Titan")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, 1, h.backend.callCount(types.ProcSubmitAnswer))
}

func TestManualAnswerBeforeDeadline_SuppressesForcedSubmission(t *testing.T) {
	h := newHarness(t, backoff.DefaultConfig())
	snap := boardSnapshot(5)
	snap.Board[0].Triggered = true
	snap.Board[1].Triggered = true
	h.backend.setSnapshot(snap)
	h.connect(t)

	fq := types.Question{ID: "final", Prompt: "Largest moon of Saturn", Revealed: true, IsFinalRound: true}
	h.transport.lastFeed().push(event(types.SessionScope(testSession), 6, types.EvtFinalStarted,
		types.FinalStartedPayload{Question: fq, DeadlineMS: 80}))
	h.waitFor(t, func() bool { return h.coord.Phase().Phase == phase.PhaseFinalQuestion })

	res, err := h.coord.SubmitAnswer(context.Background(), "Titan")
	require.NoError(t, err)
	require.True(t, res.OK)

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, h.backend.callCount(types.ProcSubmitAnswer))
}

func TestTransportDrop_ReconnectsAndResyncs(t *testing.T) {
	h := newHarness(t, backoff.Config{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, MaxAttempts: 6})
	h.backend.setSnapshot(boardSnapshot(5))
	h.connect(t)

	// The server moved on while we were down.
	moved := boardSnapshot(9)
	moved.Participants[1].Score = 1000
	h.backend.setSnapshot(moved)

	h.transport.lastFeed().drop()
	h.waitState(t, backoff.StateReconnecting)
	h.waitState(t, backoff.StateConnected)

	h.waitFor(t, func() bool { return h.coord.Snapshot().Seq == 9 })
	require.Equal(t, 1000, h.coord.Snapshot().Participants[1].Score)
	require.Equal(t, phase.PhaseBoard, h.coord.Phase().Phase)
	require.GreaterOrEqual(t, len(h.transport.dialScopes()), 2)
}

func TestDisconnect_NoRetryFires(t *testing.T) {
	h := newHarness(t, backoff.Config{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, MaxAttempts: 6})
	h.backend.setSnapshot(boardSnapshot(5))
	h.connect(t)

	dialsBefore := len(h.transport.dialScopes())
	h.coord.Disconnect()
	require.Equal(t, backoff.StateDisconnected, h.coord.ConnState())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, dialsBefore, len(h.transport.dialScopes()))
}

func TestWager_LocalBoundsCheck(t *testing.T) {
	h := newHarness(t, backoff.DefaultConfig())
	snap := boardSnapshot(5)
	snap.Board[0].Triggered = true
	snap.Board[1].Triggered = true
	h.backend.setSnapshot(snap)
	h.connect(t)

	// Alice has 400; highest board value is 800, so 800 is legal and 801 is not.
	res, err := h.coord.SubmitWager(context.Background(), 801)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, types.ReasonWagerOutOfRange, res.Error)
	require.Equal(t, 0, h.backend.callCount(types.ProcSubmitWager))

	res, err = h.coord.SubmitWager(context.Background(), 800)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 1, h.backend.callCount(types.ProcSubmitWager))
}
