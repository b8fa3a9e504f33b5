package mirror

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scribecat/quizwire/pkg/types"
)

func activeSnapshot(seq int64) types.Snapshot {
	return types.Snapshot{
		Seq:     seq,
		Session: types.GameSession{ID: "s1", Status: types.StatusActive, CurrentTurnUserID: "a"},
		Participants: []types.Participant{
			{UserID: "a", DisplayName: "Ada", Score: 200},
			{UserID: "b", DisplayName: "Ben", Score: 0},
		},
		Board: []types.Question{
			{ID: "q1", PointValue: 400},
			{ID: "fq", IsFinalRound: true},
		},
	}
}

func TestAccessors_MissReturnsNil(t *testing.T) {
	m := New("a")
	m.ApplySnapshot(activeSnapshot(1))

	require.Nil(t, m.Participant("nobody"))
	_, ok := m.Score("nobody")
	require.False(t, ok)
	require.Nil(t, m.CurrentQuestion())
}

func TestApplySnapshot_ReplacesWholesale(t *testing.T) {
	m := New("a")
	m.ApplySnapshot(activeSnapshot(1))

	next := activeSnapshot(5)
	next.Participants = []types.Participant{{UserID: "c", Score: 100}}
	m.ApplySnapshot(next)

	require.Nil(t, m.Participant("a"), "old participants must not survive a snapshot")
	score, ok := m.Score("c")
	require.True(t, ok)
	require.Equal(t, 100, score)
}

func TestApply_StaleEventDropped(t *testing.T) {
	m := New("a")
	m.ApplySnapshot(activeSnapshot(10))

	stale := types.Event{Seq: 10, Type: types.EvtScoreUpdate}
	changed := m.Apply(stale, &types.ScoreUpdatePayload{UserID: "a", Score: 9999})
	require.False(t, changed)

	score, _ := m.Score("a")
	require.Equal(t, 200, score)
}

func TestApply_BuzzDedup(t *testing.T) {
	m := New("a")
	m.ApplySnapshot(activeSnapshot(1))

	press := &types.BuzzerPressPayload{QuestionID: "q1", Press: types.BuzzerPress{UserID: "b", Rank: 1}}
	require.True(t, m.Apply(types.Event{Seq: 2, Type: types.EvtBuzzerPress}, press))
	// The same rank redelivered is ignored even at a newer sequence.
	require.True(t, m.Apply(types.Event{Seq: 3, Type: types.EvtBuzzerPress}, press))

	require.Len(t, m.Snapshot().Buzzes, 1)
}

func TestApply_WagerDedup(t *testing.T) {
	m := New("a")
	m.ApplySnapshot(activeSnapshot(1))

	accept := &types.WagerAcceptedPayload{QuestionID: "fq", UserID: "b"}
	require.True(t, m.Apply(types.Event{Seq: 2, Type: types.EvtWagerAccepted}, accept))
	// A redelivered accept for the same user must not double-append.
	require.True(t, m.Apply(types.Event{Seq: 3, Type: types.EvtWagerAccepted}, accept))

	require.Len(t, m.Snapshot().Wagers, 1)
	require.Equal(t, int64(3), m.Seq())
}

func TestMyRank_LastWriterWinsBySeq(t *testing.T) {
	m := New("a")
	m.ApplySnapshot(activeSnapshot(1))

	// Optimistic hint from the RPC return arrives first.
	m.ReconcileMyRank(2, 5)
	require.Equal(t, 2, m.MyRank())

	// Authoritative event with a lower sequence must not clobber it.
	ev := types.Event{Seq: 4, Type: types.EvtBuzzerPress}
	m.Apply(ev, &types.BuzzerPressPayload{Press: types.BuzzerPress{UserID: "a", Rank: 1}})
	require.Equal(t, 2, m.MyRank())

	// A later authoritative value overwrites the hint outright.
	ev = types.Event{Seq: 6, Type: types.EvtBuzzerPress}
	m.Apply(ev, &types.BuzzerPressPayload{Press: types.BuzzerPress{UserID: "a", Rank: 3}})
	require.Equal(t, 3, m.MyRank())
}

func TestApply_QuestionLifecycle(t *testing.T) {
	m := New("a")
	m.ApplySnapshot(activeSnapshot(1))

	sel := &types.QuestionSelectedPayload{
		Question:       types.Question{ID: "q1", PointValue: 400, Revealed: true},
		SelectedByUser: "a",
	}
	require.True(t, m.Apply(types.Event{Seq: 2, Type: types.EvtQuestionSelected}, sel))
	q := m.CurrentQuestion()
	require.NotNil(t, q)
	require.Equal(t, "q1", q.ID)

	m.Apply(types.Event{Seq: 3, Type: types.EvtBuzzerPress},
		&types.BuzzerPressPayload{Press: types.BuzzerPress{UserID: "a", Rank: 1}})
	require.Equal(t, 1, m.MyRank())

	m.Apply(types.Event{Seq: 4, Type: types.EvtScoreUpdate}, &types.ScoreUpdatePayload{UserID: "a", Score: 600})
	m.Apply(types.Event{Seq: 5, Type: types.EvtQuestionRetired},
		&types.QuestionRetiredPayload{QuestionID: "q1", NextTurnID: "b"})

	require.Nil(t, m.CurrentQuestion())
	require.Zero(t, m.MyRank(), "rank is per question and clears on retire")
	require.Equal(t, "b", m.Session().CurrentTurnUserID)

	snap := m.Snapshot()
	require.True(t, snap.Board[0].Triggered)
	require.Empty(t, snap.Buzzes)

	score, _ := m.Score("a")
	require.Equal(t, 600, score)
}

func TestApply_BuzzerResetClearsRanks(t *testing.T) {
	m := New("a")
	m.ApplySnapshot(activeSnapshot(1))
	m.Apply(types.Event{Seq: 2, Type: types.EvtBuzzerPress},
		&types.BuzzerPressPayload{Press: types.BuzzerPress{UserID: "a", Rank: 1}})

	require.True(t, m.Apply(types.Event{Seq: 3, Type: types.EvtBuzzerReset}, nil))
	require.Empty(t, m.Snapshot().Buzzes)
	require.Zero(t, m.MyRank())
}
