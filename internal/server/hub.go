package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scribecat/quizwire/pkg/types"
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Config Config
	Reply  chan *Session
}

type GetSession struct {
	ID    string
	Reply chan *Session
}

type RemoveSession struct {
	ID string
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

// Hub owns the session registry. Like the sessions themselves it is an
// actor: one goroutine, typed messages, no locks.
type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*Session
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
	// onComplete and finalDur are threaded into every created session.
	onComplete func(types.Snapshot)
	finalDur   time.Duration
}

func NewHub(parent context.Context, log *zap.Logger, onComplete func(types.Snapshot), finalDur time.Duration) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:      make(chan HubMsg, 64),
		sessions:   make(map[string]*Session),
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
		onComplete: onComplete,
		finalDur:   finalDur,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				if sess := h.sessions[msg.Config.ID]; sess != nil {
					msg.Reply <- sess
					break
				}
				cfg := msg.Config
				if cfg.Log == nil {
					cfg.Log = h.log
				}
				if cfg.OnComplete == nil {
					cfg.OnComplete = h.onComplete
				}
				if cfg.FinalDuration == 0 {
					cfg.FinalDuration = h.finalDur
				}
				sess := NewSession(h.ctx, cfg)
				h.sessions[cfg.ID] = sess
				h.log.Info("session created", zap.String("session", cfg.ID))
				msg.Reply <- sess

			case GetSession:
				msg.Reply <- h.sessions[msg.ID] // may be nil

			case RemoveSession:
				delete(h.sessions, msg.ID)

			case ShutdownHub:
				for _, sess := range h.sessions {
					sess.Inbox() <- Shutdown{}
				}
				clear(h.sessions)
				h.cancel()
				return
			}
		}
	}
}
