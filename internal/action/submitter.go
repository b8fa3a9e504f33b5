// Package action turns user intents into RPC calls against the backend.
// Every intent is exactly one outbound call; results come back as values
// (RPCResult with an OK flag), never panics, and nothing here mutates the
// state mirror; the authoritative change arrives as a subscription event.
// Guard flags short-circuit duplicate submissions before any network call so
// a double-click never races the server's own idempotency checks.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/scribecat/quizwire/pkg/types"
)

type Submitter struct {
	baseURL string
	userID  string
	client  *http.Client
	log     *zap.Logger

	mu       sync.Mutex
	buzzed   map[string]bool
	answered map[string]bool
	wagered  map[string]bool
}

func NewSubmitter(baseURL, userID string, client *http.Client, log *zap.Logger) *Submitter {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{
		baseURL:  baseURL,
		userID:   userID,
		client:   client,
		log:      log,
		buzzed:   map[string]bool{},
		answered: map[string]bool{},
		wagered:  map[string]bool{},
	}
}

func (s *Submitter) SelectQuestion(ctx context.Context, sessionID, questionID string) (types.RPCResult, error) {
	return s.call(ctx, types.ProcSelectQuestion, types.SelectQuestionRequest{
		SessionID: sessionID, QuestionID: questionID, UserID: s.userID,
	})
}

// Buzz records a buzzer press. On success the result carries the rank the
// server assigned; callers may surface it optimistically via
// Mirror.ReconcileMyRank before the broadcast arrives.
func (s *Submitter) Buzz(ctx context.Context, sessionID, questionID string) (types.RPCResult, error) {
	if !s.claim(s.buzzed, questionID) {
		return types.RPCResult{Error: types.ReasonAlreadyBuzzed}, nil
	}
	res, err := s.call(ctx, types.ProcRecordBuzz, types.RecordBuzzRequest{
		SessionID: sessionID, QuestionID: questionID, UserID: s.userID,
	})
	if err != nil || !res.OK {
		s.release(s.buzzed, questionID)
	}
	return res, err
}

func (s *Submitter) SubmitAnswer(ctx context.Context, sessionID, questionID, answer string) (types.RPCResult, error) {
	if !s.claim(s.answered, questionID) {
		return types.RPCResult{Error: types.ReasonAlreadySubmitted}, nil
	}
	res, err := s.call(ctx, types.ProcSubmitAnswer, types.SubmitAnswerRequest{
		SessionID: sessionID, QuestionID: questionID, UserID: s.userID, Answer: answer,
	})
	if err != nil || !res.OK {
		// A rejection means the action is invalid right now, not forever;
		// the control re-enables and the player may resubmit.
		s.release(s.answered, questionID)
	}
	return res, err
}

// SubmitWager validates bounds client-side before spending a network call:
// the ceiling is max(current score, board maximum). The server re-validates
// and its verdict is authoritative.
func (s *Submitter) SubmitWager(ctx context.Context, sessionID, questionID string, amount, currentScore, boardMax int) (types.RPCResult, error) {
	if amount < 0 || amount > MaxWager(currentScore, boardMax) {
		return types.RPCResult{Error: types.ReasonWagerOutOfRange}, nil
	}
	if !s.claim(s.wagered, questionID) {
		return types.RPCResult{Error: types.ReasonAlreadySubmitted}, nil
	}
	res, err := s.call(ctx, types.ProcSubmitWager, types.SubmitWagerRequest{
		SessionID: sessionID, QuestionID: questionID, UserID: s.userID, Amount: amount,
	})
	if err != nil || !res.OK {
		s.release(s.wagered, questionID)
	}
	return res, err
}

func (s *Submitter) SkipQuestion(ctx context.Context, sessionID, questionID string) (types.RPCResult, error) {
	return s.call(ctx, types.ProcSkipQuestion, types.SkipQuestionRequest{
		SessionID: sessionID, QuestionID: questionID, UserID: s.userID,
	})
}

// ClearBuzz re-arms the buzz guard after a server-initiated rebuzz.
func (s *Submitter) ClearBuzz(questionID string) {
	s.release(s.buzzed, questionID)
}

// Forget drops every guard for a retired question.
func (s *Submitter) Forget(questionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buzzed, questionID)
	delete(s.answered, questionID)
	delete(s.wagered, questionID)
}

func MaxWager(currentScore, boardMax int) int {
	if currentScore > boardMax {
		return currentScore
	}
	return boardMax
}

// claim marks the guard before the network call starts so a second call for
// the same question short-circuits while the first is still pending.
func (s *Submitter) claim(guard map[string]bool, questionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guard[questionID] {
		return false
	}
	guard[questionID] = true
	return true
}

func (s *Submitter) release(guard map[string]bool, questionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(guard, questionID)
}

func (s *Submitter) call(ctx context.Context, proc string, payload any) (types.RPCResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.RPCResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rpc/"+proc, bytes.NewReader(body))
	if err != nil {
		return types.RPCResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return types.RPCResult{}, fmt.Errorf("rpc %s: %w", proc, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.RPCResult{}, fmt.Errorf("rpc %s: unexpected status %d", proc, resp.StatusCode)
	}

	var res types.RPCResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return types.RPCResult{}, fmt.Errorf("rpc %s: decode: %w", proc, err)
	}
	if !res.OK {
		s.log.Debug("rpc rejected", zap.String("proc", proc), zap.String("reason", res.Error))
	}
	return res, nil
}
