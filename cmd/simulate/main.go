// Command simulate drives a complete game against a running quizwire server
// using the client SDK: it creates a session, connects one coordinator per
// bot, and lets them select, buzz, wager and answer until the final results
// land. Useful as an end-to-end smoke check and as SDK example code.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scribecat/quizwire/internal/backoff"
	"github.com/scribecat/quizwire/internal/client"
	"github.com/scribecat/quizwire/internal/phase"
	"github.com/scribecat/quizwire/internal/server"
)

var bots = []struct{ id, name string }{
	{"bot-ada", "Ada"},
	{"bot-grace", "Grace"},
	{"bot-edsger", "Edsger"},
}

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "quizwire server base URL")
	missRate := flag.Float64("miss", 0.3, "probability a bot fluffs an answer")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	sessionID, err := createSession(*baseURL)
	if err != nil {
		log.Fatal("creating session", zap.Error(err))
	}
	log.Info("session created", zap.String("session", sessionID))

	// The bots read the stock board's answers straight from the server
	// package; real clients never see them.
	key := map[string]string{}
	for _, q := range server.DefaultBoard() {
		key[q.ID] = q.CorrectAnswer
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bots {
		b := b
		g.Go(func() error { return runBot(gctx, *baseURL, sessionID, b.id, b.name, key, *missRate, log) })
	}
	if err := g.Wait(); err != nil {
		log.Fatal("simulation failed", zap.Error(err))
	}
	log.Info("simulation complete")
}

func createSession(baseURL string) (string, error) {
	var req struct {
		Players []struct {
			UserID      string `json:"user_id"`
			DisplayName string `json:"display_name"`
		} `json:"players"`
	}
	for _, b := range bots {
		req.Players = append(req.Players, struct {
			UserID      string `json:"user_id"`
			DisplayName string `json:"display_name"`
		}{b.id, b.name})
	}
	body, _ := json.Marshal(req)

	resp, err := http.Post(baseURL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create session: status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func runBot(ctx context.Context, baseURL, sessionID, userID, name string, key map[string]string, missRate float64, log *zap.Logger) error {
	blog := log.With(zap.String("bot", name))

	coord := client.New(client.Config{
		BaseURL:   baseURL,
		SessionID: sessionID,
		UserID:    userID,
		Backoff:   backoff.DefaultConfig(),
		Log:       blog,
		OnStatus: func(st backoff.State, err error) {
			blog.Info("connection state", zap.String("state", string(st)), zap.Error(err))
		},
	})
	coord.Connect(ctx)
	defer coord.Disconnect()

	// Poll-and-act: decisions happen on this goroutine, never inside the
	// coordinator's event callbacks.
	tick := time.NewTicker(150 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		st := coord.Phase()
		if phase.Terminal(st) {
			for _, p := range coord.Snapshot().Participants {
				blog.Info("final standing",
					zap.String("player", p.DisplayName), zap.Int("score", p.Score))
			}
			return nil
		}

		switch {
		case coord.CanSelect():
			if qid := pickQuestion(coord); qid != "" {
				if _, err := coord.SelectQuestion(ctx, qid); err != nil {
					blog.Warn("select failed", zap.Error(err))
				}
			}

		case coord.CanWager():
			amount := rand.Intn(201) // modest wagers keep scores readable
			if res, err := coord.SubmitWager(ctx, amount); err == nil && !res.OK && res.Error != "" {
				blog.Debug("wager rejected", zap.String("reason", res.Error))
			}

		case coord.CanBuzz():
			// Jitter so rank 1 rotates between bots.
			time.Sleep(time.Duration(rand.Intn(40)) * time.Millisecond)
			if res, err := coord.Buzz(ctx); err == nil && res.OK {
				blog.Info("buzzed", zap.Int("rank", res.Rank))
			}

		case coord.CanAnswer():
			q := coord.Snapshot().Question
			if q == nil {
				continue
			}
			answer := key[q.ID]
			if rand.Float64() < missRate {
				answer = "pass"
			}
			if res, err := coord.SubmitAnswer(ctx, answer); err == nil && res.OK {
				blog.Info("answered", zap.String("question", q.ID), zap.String("answer", answer))
			}
		}
	}
}

func pickQuestion(coord *client.Coordinator) string {
	for _, q := range coord.Snapshot().Board {
		if !q.Triggered && !q.IsFinalRound {
			return q.ID
		}
	}
	return ""
}
