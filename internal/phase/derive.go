package phase

import "github.com/scribecat/quizwire/pkg/types"

// FromSnapshot rebuilds the machine from a fresh authoritative snapshot.
// This is the only way to recover the phase after a reconnect: a stale
// locally cached phase must never be resumed.
func FromSnapshot(snap types.Snapshot) State {
	s := NewState()
	for _, id := range snap.WrongAnswers {
		s.Wrong[id] = true
	}

	if snap.Session.Status == types.StatusCompleted {
		s.Phase = PhaseFinalResults
		return s
	}

	q := snap.Question
	if q == nil {
		if boardExhausted(snap.Board) {
			s.Phase = PhaseFinalWager
		}
		return s
	}

	s.QuestionID = q.ID
	s.DailyDouble = q.IsDailyDouble
	s.PointValue = q.PointValue

	if q.IsFinalRound {
		s.Phase = PhaseFinalQuestion
		return s
	}

	if q.IsDailyDouble {
		s.SelectorID = snap.Session.CurrentTurnUserID
		s.Answerer = s.SelectorID
		if wagered(snap.Wagers, s.SelectorID) {
			s.Phase = PhaseAnswering
		} else {
			s.Phase = PhaseDailyDoubleWager
		}
		return s
	}

	for _, p := range snap.Buzzes {
		s.Order = append(s.Order, p.UserID)
	}
	if next, ok := nextEligible(s.Order, s.Wrong); ok {
		s.Answerer = next
		s.Phase = PhaseAnswering
	} else {
		s.Phase = PhaseBuzzerWait
	}
	return s
}

func boardExhausted(board []types.Question) bool {
	for _, q := range board {
		if !q.IsFinalRound && !q.Triggered {
			return false
		}
	}
	return len(board) > 0
}

func wagered(wagers []types.Wager, userID string) bool {
	for _, w := range wagers {
		if w.UserID == userID {
			return true
		}
	}
	return false
}
