// Package mirror holds the client's cached copy of authoritative server
// state. It performs no I/O: the subscription layer feeds it decoded events,
// the UI and phase machine read from it. All updates flow through one
// reconciliation function applying last-writer-wins by sequence number, so
// an optimistic RPC hint and the authoritative broadcast for the same fact
// can never interleave into a merged state.
package mirror

import (
	"sync"

	"github.com/scribecat/quizwire/pkg/types"
)

type Mirror struct {
	mu     sync.RWMutex
	userID string
	snap   types.Snapshot

	// Locally authoritative hint: my own buzzer rank, set optimistically
	// from the RPC return and overwritten by whichever source carries the
	// higher sequence.
	myRank    int
	myRankSeq int64
}

func New(userID string) *Mirror {
	return &Mirror{userID: userID}
}

// ApplySnapshot replaces the cached state wholesale. Partial fields are
// never merged in; the snapshot is the new truth.
func (m *Mirror) ApplySnapshot(snap types.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	if snap.Seq >= m.myRankSeq {
		m.myRank = rankOf(snap.Buzzes, m.userID)
		m.myRankSeq = snap.Seq
	}
}

// Apply folds one decoded event into the mirror. Events at or below the
// mirror's sequence are stale (already reflected by a snapshot or an earlier
// event) and are dropped; the return value reports whether state changed.
func (m *Mirror) Apply(ev types.Event, decoded any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Seq <= m.snap.Seq {
		return false
	}

	switch p := decoded.(type) {
	case *types.Snapshot:
		m.snap = *p
		if p.Seq >= m.myRankSeq {
			m.myRank = rankOf(p.Buzzes, m.userID)
			m.myRankSeq = p.Seq
		}
		return true

	case *types.QuestionSelectedPayload:
		q := p.Question
		m.snap.Question = &q
		m.snap.Buzzes = nil
		m.snap.Wagers = nil
		m.snap.WrongAnswers = nil
		m.setMyRank(0, ev.Seq)

	case *types.BuzzerPressPayload:
		// Deduplicate: a rank already known is not appended again.
		if rankOf(m.snap.Buzzes, p.Press.UserID) != 0 {
			break
		}
		m.snap.Buzzes = append(m.snap.Buzzes, p.Press)
		if p.Press.UserID == m.userID {
			m.setMyRank(p.Press.Rank, ev.Seq)
		}

	case *types.WagerAcceptedPayload:
		// Deduplicate like the buzz path: one wager row per user.
		if hasWager(m.snap.Wagers, p.UserID) {
			break
		}
		m.snap.Wagers = append(m.snap.Wagers, types.Wager{UserID: p.UserID})

	case *types.AnswerJudgedPayload:
		if !p.Correct {
			m.snap.WrongAnswers = append(m.snap.WrongAnswers, p.UserID)
		}

	case *types.ScoreUpdatePayload:
		for i := range m.snap.Participants {
			if m.snap.Participants[i].UserID == p.UserID {
				m.snap.Participants[i].Score = p.Score
			}
		}

	case *types.QuestionRetiredPayload:
		for i := range m.snap.Board {
			if m.snap.Board[i].ID == p.QuestionID {
				m.snap.Board[i].Triggered = true
			}
		}
		m.snap.Question = nil
		m.snap.Buzzes = nil
		m.snap.Wagers = nil
		m.snap.WrongAnswers = nil
		m.snap.Session.CurrentTurnUserID = p.NextTurnID
		m.setMyRank(0, ev.Seq)

	case *types.FinalStartedPayload:
		q := p.Question
		m.snap.Question = &q

	case *types.FinalResultsPayload:
		m.snap.Participants = p.Standings
		m.snap.Session.Status = types.StatusCompleted
		m.snap.Question = nil

	case nil:
		switch ev.Type {
		case types.EvtBuzzerReset:
			m.snap.Buzzes = nil
			m.setMyRank(0, ev.Seq)
		case types.EvtBoardComplete:
			// Phase-only event; nothing cached changes.
		default:
			return false
		}

	default:
		return false
	}

	m.snap.Seq = ev.Seq
	return true
}

// ReconcileMyRank accepts the optimistic rank from a buzz RPC. Whichever of
// the RPC return and the broadcast event carries the higher sequence wins;
// the value is overwritten, never merged.
func (m *Mirror) ReconcileMyRank(rank int, seq int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setMyRank(rank, seq)
}

func (m *Mirror) setMyRank(rank int, seq int64) {
	if seq >= m.myRankSeq {
		m.myRank = rank
		m.myRankSeq = seq
	}
}

// MyRank returns my buzzer rank for the current question, 0 if unranked.
func (m *Mirror) MyRank() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.myRank
}

// Participant returns a copy of the participant, nil on miss.
func (m *Mirror) Participant(userID string) *types.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.snap.Participants {
		if p.UserID == userID {
			cp := p
			return &cp
		}
	}
	return nil
}

// Score returns the participant's score; ok=false on miss.
func (m *Mirror) Score(userID string) (int, bool) {
	if p := m.Participant(userID); p != nil {
		return p.Score, true
	}
	return 0, false
}

// CurrentQuestion returns a copy of the open question, nil while on board.
func (m *Mirror) CurrentQuestion() *types.Question {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap.Question == nil {
		return nil
	}
	cp := *m.snap.Question
	return &cp
}

func (m *Mirror) Session() types.GameSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Session
}

func (m *Mirror) Seq() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Seq
}

// Snapshot returns a copy of the full cached state.
func (m *Mirror) Snapshot() types.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snap
	if m.snap.Question != nil {
		q := *m.snap.Question
		snap.Question = &q
	}
	snap.Participants = append([]types.Participant(nil), m.snap.Participants...)
	snap.Board = append([]types.Question(nil), m.snap.Board...)
	snap.Buzzes = append([]types.BuzzerPress(nil), m.snap.Buzzes...)
	snap.Wagers = append([]types.Wager(nil), m.snap.Wagers...)
	snap.WrongAnswers = append([]string(nil), m.snap.WrongAnswers...)
	return snap
}

func hasWager(wagers []types.Wager, userID string) bool {
	for _, w := range wagers {
		if w.UserID == userID {
			return true
		}
	}
	return false
}

func rankOf(buzzes []types.BuzzerPress, userID string) int {
	for _, b := range buzzes {
		if b.UserID == userID {
			return b.Rank
		}
	}
	return 0
}
