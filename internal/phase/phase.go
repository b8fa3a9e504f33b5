// Package phase is the pure turn/phase state machine. It performs no I/O:
// the server applies it to validate actions against authoritative state, and
// the client applies it to inbound events to decide which controls to enable.
// Transitions come exclusively from server-confirmed events; a rejected
// action never advances the local phase.
package phase

import (
	"errors"
	"slices"
)

var ErrBadTransition = errors.New("event not valid in current phase")
var ErrWrongAnswerer = errors.New("judgement for a player not answering")

type Phase string

const (
	PhaseBoard            Phase = "board"
	PhaseDailyDoubleWager Phase = "daily_double_wager"
	PhaseBuzzerWait       Phase = "buzzer_wait"
	PhaseAnswering        Phase = "answering"
	PhaseFeedback         Phase = "feedback"
	PhaseFinalWager       Phase = "final_wager"
	PhaseFinalQuestion    Phase = "final_question"
	PhaseFinalResults     Phase = "final_results"
)

// State is the machine's view of one session. Everything here is a
// derivation of server events, never a source of truth across reconnects:
// FromSnapshot rebuilds it from a fresh authoritative snapshot.
type State struct {
	Phase       Phase
	QuestionID  string
	SelectorID  string
	DailyDouble bool
	PointValue  int
	// Order is buzz arrival order (rank 1 first). Wrong marks players
	// already judged incorrect on this question; they stay excluded.
	Order    []string
	Wrong    map[string]bool
	Answerer string
}

type EventType string

const (
	EvtQuestionSelected EventType = "QuestionSelected"
	EvtBuzzRecorded     EventType = "BuzzRecorded"
	EvtBuzzerReset      EventType = "BuzzerReset"
	EvtWagerAccepted    EventType = "WagerAccepted"
	EvtAnswerJudged     EventType = "AnswerJudged"
	EvtQuestionRetired  EventType = "QuestionRetired"
	EvtBoardComplete    EventType = "BoardComplete"
	EvtFinalStarted     EventType = "FinalStarted"
	EvtFinalResults     EventType = "FinalResults"
)

type Event struct {
	Type        EventType
	UserID      string
	QuestionID  string
	Rank        int
	Correct     bool
	DailyDouble bool
	FinalRound  bool
	PointValue  int
}

func NewState() State {
	return State{Phase: PhaseBoard, Wrong: map[string]bool{}}
}

// Apply returns the state after one server-confirmed event. The input state
// is not mutated; callers replace their copy on success and keep it on error.
func Apply(s State, ev Event) (State, error) {
	ns := s
	ns.Order = slices.Clone(s.Order)
	ns.Wrong = cloneSet(s.Wrong)

	switch ev.Type {
	case EvtQuestionSelected:
		if s.Phase != PhaseBoard {
			return s, ErrBadTransition
		}
		ns.QuestionID = ev.QuestionID
		ns.SelectorID = ev.UserID
		ns.DailyDouble = ev.DailyDouble
		ns.PointValue = ev.PointValue
		ns.Order = nil
		ns.Wrong = map[string]bool{}
		if ev.DailyDouble {
			// Only the selector answers; the buzzer step is skipped.
			ns.Phase = PhaseDailyDoubleWager
			ns.Answerer = ev.UserID
		} else {
			ns.Phase = PhaseBuzzerWait
			ns.Answerer = ""
		}
		return ns, nil

	case EvtBuzzRecorded:
		// Later ranks keep arriving while rank 1 is already answering.
		if s.Phase != PhaseBuzzerWait && s.Phase != PhaseAnswering {
			return s, ErrBadTransition
		}
		if !slices.Contains(ns.Order, ev.UserID) {
			ns.Order = append(ns.Order, ev.UserID)
		}
		if s.Phase == PhaseBuzzerWait && s.Answerer == "" && !ns.Wrong[ev.UserID] {
			ns.Answerer = ev.UserID
			ns.Phase = PhaseAnswering
		}
		return ns, nil

	case EvtBuzzerReset:
		if s.Phase != PhaseBuzzerWait && s.Phase != PhaseAnswering {
			return s, ErrBadTransition
		}
		ns.Order = nil
		ns.Answerer = ""
		ns.Phase = PhaseBuzzerWait
		return ns, nil

	case EvtWagerAccepted:
		switch s.Phase {
		case PhaseDailyDoubleWager:
			if ev.UserID != s.SelectorID {
				return s, ErrWrongAnswerer
			}
			ns.Phase = PhaseAnswering
			return ns, nil
		case PhaseFinalWager:
			// Individual final wagers don't move the phase; FinalStarted
			// does once the server has them all.
			return ns, nil
		default:
			return s, ErrBadTransition
		}

	case EvtAnswerJudged:
		if s.Phase != PhaseAnswering {
			return s, ErrBadTransition
		}
		if ev.UserID != s.Answerer {
			return s, ErrWrongAnswerer
		}
		if ev.Correct {
			ns.Phase = PhaseFeedback
			return ns, nil
		}
		ns.Wrong[ev.UserID] = true
		if s.DailyDouble {
			// Nobody else may answer a Daily Double.
			ns.Phase = PhaseFeedback
			return ns, nil
		}
		// Promote the next unlocked rank directly; reopen the buzzer only
		// when nobody ranked remains eligible.
		if next, ok := nextEligible(ns.Order, ns.Wrong); ok {
			ns.Answerer = next
			return ns, nil
		}
		ns.Answerer = ""
		ns.Phase = PhaseBuzzerWait
		return ns, nil

	case EvtQuestionRetired:
		ns.Phase = PhaseBoard
		ns.QuestionID = ""
		ns.SelectorID = ""
		ns.DailyDouble = false
		ns.PointValue = 0
		ns.Order = nil
		ns.Wrong = map[string]bool{}
		ns.Answerer = ""
		return ns, nil

	case EvtBoardComplete:
		if s.Phase != PhaseBoard {
			return s, ErrBadTransition
		}
		ns.Phase = PhaseFinalWager
		return ns, nil

	case EvtFinalStarted:
		if s.Phase != PhaseFinalWager {
			return s, ErrBadTransition
		}
		ns.Phase = PhaseFinalQuestion
		ns.QuestionID = ev.QuestionID
		return ns, nil

	case EvtFinalResults:
		ns.Phase = PhaseFinalResults
		return ns, nil

	default:
		return s, ErrBadTransition
	}
}

func nextEligible(order []string, wrong map[string]bool) (string, bool) {
	for _, id := range order {
		if !wrong[id] {
			return id, true
		}
	}
	return "", false
}

func cloneSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CanSelect reports whether userID may pick a question off the board.
func CanSelect(s State, userID, currentTurnID string) bool {
	return s.Phase == PhaseBoard && userID == currentTurnID
}

// CanBuzz reports whether userID's buzzer is live: buzzer window open, not
// already ranked, not locked out by a wrong answer.
func CanBuzz(s State, userID string) bool {
	return s.Phase == PhaseBuzzerWait && !s.Wrong[userID] && !slices.Contains(s.Order, userID)
}

// CanAnswer reports whether userID holds the answer window.
func CanAnswer(s State, userID string) bool {
	if s.Phase == PhaseFinalQuestion {
		return !s.Wrong[userID]
	}
	return s.Phase == PhaseAnswering && s.Answerer == userID
}

// CanWager reports whether userID may submit a wager right now.
func CanWager(s State, userID string) bool {
	if s.Phase == PhaseDailyDoubleWager {
		return s.SelectorID == userID
	}
	return s.Phase == PhaseFinalWager
}

func Terminal(s State) bool { return s.Phase == PhaseFinalResults }
