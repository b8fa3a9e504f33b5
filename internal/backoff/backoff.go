// Package backoff is the shared reconnection manager: exponential delays
// with a cap, a bounded attempt budget, and hard cancellation on explicit
// disconnect. It is parameterized by a connect callback so every
// subscription-based feature reuses the same policy instead of growing its
// own retry loop.
package backoff

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

type Config struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 6}
}

// Delay returns the wait before retry number attempt (1-based):
// min(base * 2^attempt, cap).
func Delay(cfg Config, attempt int) time.Duration {
	d := cfg.Base << attempt
	if d <= 0 || d > cfg.Cap {
		return cfg.Cap
	}
	return d
}

// Manager drives one connection through
// disconnected -> connecting -> connected, with connected -> reconnecting on
// drop and reconnecting -> error once attempts are exhausted. After an
// explicit Disconnect no scheduled retry may fire; after StateError only an
// explicit Connect resumes.
type Manager struct {
	cfg     Config
	connect func(ctx context.Context) error
	onState func(State, error)
	log     *zap.Logger

	mu      sync.Mutex
	state   State
	attempt int
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(cfg Config, connect func(ctx context.Context) error, onState func(State, error), log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if onState == nil {
		onState = func(State, error) {}
	}
	return &Manager{
		cfg:     cfg,
		connect: connect,
		onState: onState,
		log:     log,
		state:   StateDisconnected,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts (or restarts, after error/disconnect) the connection.
// The dial itself runs off the caller's goroutine.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected || m.state == StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.attempt = 0
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.state = StateConnecting
	m.mu.Unlock()

	m.onState(StateConnecting, nil)
	go m.try()
}

// ConnectionLost is the transport's drop signal; it schedules the first
// retry. No-op unless currently connected.
func (m *Manager) ConnectionLost(err error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.attempt = 1
	m.state = StateReconnecting
	d := Delay(m.cfg, m.attempt)
	m.timer = time.AfterFunc(d, m.try)
	m.mu.Unlock()

	m.log.Warn("connection lost, scheduling reconnect",
		zap.Duration("delay", d), zap.Error(err))
	m.onState(StateReconnecting, err)
}

// Disconnect tears the connection down for good. Any pending scheduled
// retry is cancelled and will not fire.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
	}
	already := m.state == StateDisconnected
	m.state = StateDisconnected
	m.attempt = 0
	m.mu.Unlock()

	if !already {
		m.onState(StateDisconnected, nil)
	}
}

func (m *Manager) try() {
	m.mu.Lock()
	if m.state != StateConnecting && m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	err := m.connect(ctx)

	m.mu.Lock()
	if m.state != StateConnecting && m.state != StateReconnecting {
		// Disconnected while dialing; the result no longer matters.
		m.mu.Unlock()
		return
	}
	if err == nil {
		m.state = StateConnected
		m.attempt = 0
		m.mu.Unlock()
		m.onState(StateConnected, nil)
		return
	}

	m.attempt++
	if m.attempt > m.cfg.MaxAttempts {
		m.state = StateError
		m.mu.Unlock()
		m.log.Error("reconnect attempts exhausted", zap.Error(err))
		m.onState(StateError, err)
		return
	}
	d := Delay(m.cfg, m.attempt)
	m.state = StateReconnecting
	m.timer = time.AfterFunc(d, m.try)
	m.mu.Unlock()

	m.log.Warn("connect failed, retrying",
		zap.Int("attempt", m.attempt), zap.Duration("delay", d), zap.Error(err))
	m.onState(StateReconnecting, err)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
