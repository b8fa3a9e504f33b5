package server

import (
	"context"
	"testing"
	"time"
)

func TestHub_CreateGetSamePointer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil, nil, 0)

	reply := make(chan *Session, 1)
	h.Inbox() <- CreateSession{Config: testConfig("QUIZ01"), Reply: reply}
	s1 := recvSession(t, reply)

	h.Inbox() <- GetSession{ID: "QUIZ01", Reply: reply}
	s2 := recvSession(t, reply)

	if s1 == nil || s1 != s2 {
		t.Fatalf("expected same session pointer")
	}

	// Creating the same id again returns the existing session.
	h.Inbox() <- CreateSession{Config: testConfig("QUIZ01"), Reply: reply}
	if s3 := recvSession(t, reply); s3 != s1 {
		t.Fatalf("duplicate create must return the original")
	}
}

func TestHub_GetUnknownIsNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil, nil, 0)

	reply := make(chan *Session, 1)
	h.Inbox() <- GetSession{ID: "NOPE", Reply: reply}
	if s := recvSession(t, reply); s != nil {
		t.Fatalf("unknown id must yield nil")
	}
}

func recvSession(t *testing.T, ch <-chan *Session) *Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for hub reply")
		return nil
	}
}
