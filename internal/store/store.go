// Package store persists completed games to Postgres. It is optional: the
// dev server runs without it, and the session actors never block on it;
// results are written from the completion hook, off the actor goroutine.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/scribecat/quizwire/pkg/types"
)

type GameResult struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"uniqueIndex;size:16"`
	WinnerID    string `gorm:"size:64"`
	CompletedAt time.Time
	Players     []PlayerResult `gorm:"foreignKey:GameResultID"`
}

type PlayerResult struct {
	ID           uint   `gorm:"primaryKey"`
	GameResultID uint   `gorm:"index"`
	UserID       string `gorm:"index;size:64"`
	DisplayName  string `gorm:"size:128"`
	Score        int
	Place        int
}

type LeaderboardRow struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Wins        int    `json:"wins"`
	TotalScore  int    `json:"total_score"`
}

type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&GameResult{}, &PlayerResult{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordResult writes one completed session. Scores in the snapshot are
// final; place is dense rank by score.
func (s *Store) RecordResult(ctx context.Context, snap types.Snapshot) error {
	if snap.Session.Status != types.StatusCompleted {
		return fmt.Errorf("session %s not completed", snap.Session.ID)
	}

	standings := append([]types.Participant(nil), snap.Participants...)
	sort.SliceStable(standings, func(i, j int) bool { return standings[i].Score > standings[j].Score })

	result := GameResult{
		SessionID:   snap.Session.ID,
		CompletedAt: time.Now().UTC(),
	}
	if len(standings) > 0 {
		result.WinnerID = standings[0].UserID
	}
	for place, p := range standings {
		result.Players = append(result.Players, PlayerResult{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Place:       place + 1,
		})
	}

	return s.db.WithContext(ctx).Create(&result).Error
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	var rows []LeaderboardRow
	err := s.db.WithContext(ctx).
		Model(&PlayerResult{}).
		Select("player_results.user_id, max(player_results.display_name) as display_name, "+
			"sum(case when player_results.place = 1 then 1 else 0 end) as wins, "+
			"sum(player_results.score) as total_score").
		Group("player_results.user_id").
		Order("wins desc, total_score desc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return rows, nil
}
