// Package types holds the wire-level entities shared by the quizwire client
// SDK and the reference backend. The server owns every persisted entity here;
// clients hold read-only copies replaced wholesale on each snapshot.
package types

import "time"

type GameStatus string

const (
	StatusWaiting   GameStatus = "waiting"
	StatusActive    GameStatus = "active"
	StatusCompleted GameStatus = "completed"
)

type GameSession struct {
	ID                string     `json:"id"`
	GameType          string     `json:"game_type"`
	Status            GameStatus `json:"status"`
	Round             int        `json:"round"`
	CurrentTurnUserID string     `json:"current_turn_user_id"`
}

type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
}

type Question struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	PointValue int    `json:"point_value"`
	Prompt     string `json:"prompt"`
	// CorrectAnswer is only populated server-side; snapshots sent to
	// non-privileged clients carry it empty until the reveal.
	CorrectAnswer string `json:"correct_answer,omitempty"`
	Revealed      bool   `json:"revealed"`
	Triggered     bool   `json:"triggered"`
	IsDailyDouble bool   `json:"is_daily_double"`
	IsFinalRound  bool   `json:"is_final_round"`
}

// BuzzerPress records one buzz-in. Rank is the 1-based arrival order assigned
// by the server; clients only display it.
type BuzzerPress struct {
	UserID string    `json:"user_id"`
	Rank   int       `json:"rank"`
	At     time.Time `json:"at"`
}

type Wager struct {
	UserID      string    `json:"user_id"`
	Amount      int       `json:"amount"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Snapshot is the authoritative server state pushed to clients on join and
// fetchable on demand for resync. Seq increases monotonically per session;
// a snapshot supersedes every event with a lower Seq.
type Snapshot struct {
	Seq          int64         `json:"seq"`
	Session      GameSession   `json:"session"`
	Participants []Participant `json:"participants"`
	Board        []Question    `json:"board"`
	// Question is the currently revealed question, nil while on the board.
	Question *Question     `json:"question,omitempty"`
	Buzzes   []BuzzerPress `json:"buzzes,omitempty"`
	Wagers   []Wager       `json:"wagers,omitempty"`
	// WrongAnswers lists players already judged wrong on the current
	// question; they stay locked out until the question retires.
	WrongAnswers []string `json:"wrong_answers,omitempty"`
}
