package server

import (
	"fmt"

	"github.com/scribecat/quizwire/pkg/types"
)

// BoardSpec describes one category column at setup time.
type BoardSpec struct {
	Category  string
	Questions []QuestionSpec
}

type QuestionSpec struct {
	PointValue    int
	Prompt        string
	CorrectAnswer string
	DailyDouble   bool
}

// BuildBoard flattens category specs into the session's question set and
// appends the final-round question. IDs are deterministic per board so
// clients can reference questions before any snapshot arrives.
func BuildBoard(specs []BoardSpec, final QuestionSpec) []types.Question {
	var board []types.Question
	for ci, spec := range specs {
		for qi, qs := range spec.Questions {
			board = append(board, types.Question{
				ID:            fmt.Sprintf("c%d-q%d", ci+1, qi+1),
				Category:      spec.Category,
				PointValue:    qs.PointValue,
				Prompt:        qs.Prompt,
				CorrectAnswer: qs.CorrectAnswer,
				IsDailyDouble: qs.DailyDouble,
			})
		}
	}
	board = append(board, types.Question{
		ID:            "final",
		Category:      "Final Round",
		Prompt:        final.Prompt,
		CorrectAnswer: final.CorrectAnswer,
		IsFinalRound:  true,
	})
	return board
}

// DefaultBoard is the demo board used by the dev server and the simulator.
func DefaultBoard() []types.Question {
	return BuildBoard([]BoardSpec{
		{
			Category: "World Capitals",
			Questions: []QuestionSpec{
				{PointValue: 200, Prompt: "This city on the Seine is the capital of France.", CorrectAnswer: "Paris"},
				{PointValue: 400, Prompt: "Canberra is this country's capital, not Sydney.", CorrectAnswer: "Australia"},
				{PointValue: 800, Prompt: "This Andean capital sits at 2,850 metres.", CorrectAnswer: "Quito", DailyDouble: true},
			},
		},
		{
			Category: "The Elements",
			Questions: []QuestionSpec{
				{PointValue: 200, Prompt: "Symbol Fe, essential to hemoglobin.", CorrectAnswer: "Iron"},
				{PointValue: 400, Prompt: "The lightest noble gas.", CorrectAnswer: "Helium"},
				{PointValue: 800, Prompt: "The only metal liquid at room temperature.", CorrectAnswer: "Mercury"},
			},
		},
	}, QuestionSpec{
		Prompt:        "This moon of Saturn has lakes of liquid methane.",
		CorrectAnswer: "Titan",
	})
}
