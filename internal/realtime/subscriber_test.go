package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scribecat/quizwire/pkg/types"
)

var errConnClosed = errors.New("conn closed")

// fakeConn delivers an event only when the test grants a token on gate, so
// tests control exactly which events are "in flight" at teardown time.
type fakeConn struct {
	scope  string
	gate   chan struct{}
	queue  chan types.Event
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(scope string) *fakeConn {
	return &fakeConn{
		scope:  scope,
		gate:   make(chan struct{}, 8),
		queue:  make(chan types.Event, 8),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Recv(ctx context.Context) (types.Event, error) {
	select {
	case <-c.gate:
		select {
		case ev := <-c.queue:
			return ev, nil
		default:
			return types.Event{}, errConnClosed
		}
	case <-c.closed:
		return types.Event{}, errConnClosed
	case <-ctx.Done():
		return types.Event{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push makes one event deliverable immediately.
func (c *fakeConn) push(ev types.Event) {
	c.queue <- ev
	c.gate <- struct{}{}
}

type fakeTransport struct {
	mu    sync.Mutex
	dials []string
	conns map[string]*fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: map[string]*fakeConn{}}
}

func (t *fakeTransport) Dial(_ context.Context, scope string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := newFakeConn(scope)
	t.dials = append(t.dials, scope)
	t.conns[scope] = c
	return c, nil
}

func (t *fakeTransport) conn(scope string) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[scope]
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dials)
}

func recvEvent(t *testing.T, ch <-chan types.Event, within time.Duration) types.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return types.Event{}
	}
}

func recvNoEvent(t *testing.T, ch <-chan types.Event, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("expected no event within %v, got %+v", within, ev)
	case <-time.After(within):
	}
}

func TestSubscribe_DeliversInOrder(t *testing.T) {
	tr := newFakeTransport()
	sub := NewSubscriber(tr, nil, nil)
	got := make(chan types.Event, 8)

	if err := sub.Subscribe(context.Background(), "session/s1", func(ev types.Event) { got <- ev }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	conn := tr.conn("session/s1")
	for i := int64(1); i <= 3; i++ {
		conn.push(types.Event{Scope: "session/s1", Seq: i, Type: types.EvtScoreUpdate})
	}
	for i := int64(1); i <= 3; i++ {
		ev := recvEvent(t, got, time.Second)
		if ev.Seq != i {
			t.Fatalf("out of order: want seq %d, got %d", i, ev.Seq)
		}
	}
}

func TestSubscribe_SameScopeReplacesHandlerOnly(t *testing.T) {
	tr := newFakeTransport()
	sub := NewSubscriber(tr, nil, nil)
	first := make(chan types.Event, 4)
	second := make(chan types.Event, 4)

	_ = sub.Subscribe(context.Background(), "session/s1", func(ev types.Event) { first <- ev })
	_ = sub.Subscribe(context.Background(), "session/s1", func(ev types.Event) { second <- ev })
	defer sub.Unsubscribe()

	if tr.dialCount() != 1 {
		t.Fatalf("same-scope resubscribe must not redial, dials=%d", tr.dialCount())
	}

	tr.conn("session/s1").push(types.Event{Scope: "session/s1", Seq: 1})
	recvEvent(t, second, time.Second)
	recvNoEvent(t, first, 50*time.Millisecond)
}

func TestSubscribe_ScopeSwitchDropsInFlightOldScopeEvent(t *testing.T) {
	tr := newFakeTransport()
	sub := NewSubscriber(tr, nil, nil)
	got := make(chan types.Event, 8)
	handler := func(ev types.Event) { got <- ev }

	_ = sub.Subscribe(context.Background(), "session/s1/question/q1", handler)
	connA := tr.conn("session/s1/question/q1")

	connA.push(types.Event{Scope: "session/s1/question/q1", Seq: 1})
	recvEvent(t, got, time.Second)

	// Queue a "late" event on the old scope without making it deliverable,
	// then switch scopes. Teardown must win: the event never reaches the
	// handler, before or after the switch.
	connA.queue <- types.Event{Scope: "session/s1/question/q1", Seq: 2}

	if err := sub.Subscribe(context.Background(), "session/s1/question/q2", handler); err != nil {
		t.Fatalf("subscribe q2: %v", err)
	}
	defer sub.Unsubscribe()

	if sub.Scope() != "session/s1/question/q2" {
		t.Fatalf("active scope: got %q", sub.Scope())
	}

	tr.conn("session/s1/question/q2").push(types.Event{Scope: "session/s1/question/q2", Seq: 3})
	ev := recvEvent(t, got, time.Second)
	if ev.Scope != "session/s1/question/q2" || ev.Seq != 3 {
		t.Fatalf("want only the new scope's event, got %+v", ev)
	}
	recvNoEvent(t, got, 50*time.Millisecond)
}

func TestUnsubscribe_IdleIsSafeAndSilent(t *testing.T) {
	status := make(chan error, 4)
	sub := NewSubscriber(newFakeTransport(), func(err error) { status <- err }, nil)

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case err := <-status:
		t.Fatalf("idle unsubscribe must not report status, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransportDrop_ReportsStatusOnce(t *testing.T) {
	tr := newFakeTransport()
	status := make(chan error, 4)
	sub := NewSubscriber(tr, func(err error) { status <- err }, nil)

	_ = sub.Subscribe(context.Background(), "session/s1", func(types.Event) {})

	// Simulate the transport dying out from under us.
	tr.conn("session/s1").Close()

	select {
	case err := <-status:
		if !errors.Is(err, errConnClosed) {
			t.Fatalf("want conn-closed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("status callback never fired")
	}
}

func TestSubscribe_RedialsAfterTransportDrop(t *testing.T) {
	tr := newFakeTransport()
	status := make(chan error, 4)
	sub := NewSubscriber(tr, func(err error) { status <- err }, nil)

	_ = sub.Subscribe(context.Background(), "session/s1", func(types.Event) {})
	tr.conn("session/s1").Close()
	<-status

	if sub.Scope() != "" {
		t.Fatalf("dead conn must not stay active, scope=%q", sub.Scope())
	}

	// A dead conn must not be reused for the same scope.
	got := make(chan types.Event, 4)
	if err := sub.Subscribe(context.Background(), "session/s1", func(ev types.Event) { got <- ev }); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if tr.dialCount() != 2 {
		t.Fatalf("want a fresh dial after drop, dials=%d", tr.dialCount())
	}
	tr.conn("session/s1").push(types.Event{Scope: "session/s1", Seq: 1})
	recvEvent(t, got, time.Second)
}

func TestUnsubscribe_DeliberateTeardownIsSilent(t *testing.T) {
	tr := newFakeTransport()
	status := make(chan error, 4)
	sub := NewSubscriber(tr, func(err error) { status <- err }, nil)

	_ = sub.Subscribe(context.Background(), "session/s1", func(types.Event) {})
	sub.Unsubscribe()

	select {
	case err := <-status:
		t.Fatalf("deliberate unsubscribe must not hit the status callback: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}
