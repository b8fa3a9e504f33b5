// Package realtime maintains at most one active event subscription per
// scope and delivers inbound events, in arrival order, to the registered
// handler. It does not retry: transport failures are reported through the
// status callback, and the backoff manager decides what happens next.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/scribecat/quizwire/pkg/types"
)

// Conn is one open realtime channel. Recv blocks for the next event and
// returns an error once the channel is dead.
type Conn interface {
	Recv(ctx context.Context) (types.Event, error)
	Close() error
}

// Transport dials realtime channels. The websocket implementation lives in
// this package; tests substitute their own.
type Transport interface {
	Dial(ctx context.Context, scope string) (Conn, error)
}

type Handler func(types.Event)

// StatusFunc receives transport failures. It is never called for a
// deliberate Unsubscribe.
type StatusFunc func(err error)

type Subscriber struct {
	transport Transport
	onStatus  StatusFunc
	log       *zap.Logger

	mu      sync.Mutex
	scope   string
	handler Handler
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	// gen invalidates in-flight deliveries from a torn-down subscription:
	// an event read before teardown but not yet handed off is dropped.
	gen uint64
}

func NewSubscriber(t Transport, onStatus StatusFunc, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	if onStatus == nil {
		onStatus = func(error) {}
	}
	return &Subscriber{transport: t, onStatus: onStatus, log: log}
}

// Subscribe attaches to scope. Subscribing to the scope already active only
// replaces the handler. A different scope is fully torn down first: the old
// reader goroutine has exited before the new dial starts, so no stale event
// can cross scopes.
func (s *Subscriber) Subscribe(ctx context.Context, scope string, h Handler) error {
	s.mu.Lock()
	if s.conn != nil && s.scope == scope {
		s.handler = h
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.Unsubscribe()

	conn, err := s.transport.Dial(ctx, scope)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.scope = scope
	s.handler = h
	s.conn = conn
	s.cancel = cancel
	s.done = done
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.log.Debug("subscribed", zap.String("scope", scope))
	go s.readLoop(rctx, conn, gen, done)
	return nil
}

// Unsubscribe releases the channel. Safe to call when nothing is active.
// It returns only after the reader goroutine has exited.
func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return
	}
	scope := s.scope
	conn := s.conn
	cancel := s.cancel
	done := s.done
	s.gen++
	s.scope = ""
	s.conn = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	_ = conn.Close()
	<-done
	s.log.Debug("unsubscribed", zap.String("scope", scope))
}

// Scope returns the active scope, "" when unsubscribed.
func (s *Subscriber) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.scope
}

func (s *Subscriber) readLoop(ctx context.Context, conn Conn, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		ev, err := conn.Recv(ctx)
		if err != nil {
			s.mu.Lock()
			stale := s.gen != gen
			if !stale {
				// The channel died underneath us; drop it so the next
				// Subscribe on this scope redials instead of reusing a
				// dead conn.
				s.gen++
				s.scope = ""
				s.conn = nil
				if s.cancel != nil {
					s.cancel()
					s.cancel = nil
				}
				s.done = nil
			}
			s.mu.Unlock()
			_ = conn.Close()
			if !stale {
				s.onStatus(err)
			}
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			s.log.Debug("dropping event from torn-down scope",
				zap.String("scope", ev.Scope), zap.String("type", string(ev.Type)))
			return
		}
		h := s.handler
		s.mu.Unlock()
		h(ev)
	}
}
