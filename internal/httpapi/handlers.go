package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scribecat/quizwire/internal/server"
	"github.com/scribecat/quizwire/internal/store"
	"github.com/scribecat/quizwire/pkg/types"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createSessionRequest struct {
	Players []struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	} `json:"players"`
}

func CreateSession(h *server.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Players) == 0 {
			http.Error(w, "players required", http.StatusBadRequest)
			return
		}

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			reply := make(chan *server.Session, 1)
			h.Inbox() <- server.GetSession{ID: c, Reply: reply}
			if <-reply == nil {
				code = c
				break
			}
			log.Info("collision on session code, regenerating")
		}

		cfg := server.Config{ID: code, Board: server.DefaultBoard()}
		for _, p := range req.Players {
			cfg.Seats = append(cfg.Seats, server.Seat{UserID: p.UserID, DisplayName: p.DisplayName})
		}

		reply := make(chan *server.Session, 1)
		h.Inbox() <- server.CreateSession{Config: cfg, Reply: reply}
		if <-reply == nil {
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			ID string `json:"id"`
		}{ID: code})
	}
}

func Snapshot(h *server.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := lookupSession(h, chi.URLParam(r, "id"))
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		reply := make(chan types.Snapshot, 1)
		sess.Inbox() <- server.GetSnapshot{UserID: r.URL.Query().Get("user"), Reply: reply}
		snap := <-reply

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// RPC bridges POST /rpc/<proc> onto the session actor. Validation failures
// are 200s with ok=false; only transport-level problems surface as HTTP
// errors, mirroring how a hosted RPC layer behaves.
func RPC(h *server.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proc := chi.URLParam(r, "proc")
		reply := make(chan types.RPCResult, 1)

		var sessionID string
		var msg server.Msg
		switch proc {
		case types.ProcSelectQuestion:
			var req types.SelectQuestionRequest
			if !decode(w, r, &req) {
				return
			}
			sessionID = req.SessionID
			msg = server.SelectQuestion{UserID: req.UserID, QuestionID: req.QuestionID, Reply: reply}
		case types.ProcRecordBuzz:
			var req types.RecordBuzzRequest
			if !decode(w, r, &req) {
				return
			}
			sessionID = req.SessionID
			msg = server.RecordBuzz{UserID: req.UserID, QuestionID: req.QuestionID, Reply: reply}
		case types.ProcSubmitAnswer:
			var req types.SubmitAnswerRequest
			if !decode(w, r, &req) {
				return
			}
			sessionID = req.SessionID
			msg = server.SubmitAnswer{UserID: req.UserID, QuestionID: req.QuestionID, Answer: req.Answer, Reply: reply}
		case types.ProcSubmitWager:
			var req types.SubmitWagerRequest
			if !decode(w, r, &req) {
				return
			}
			sessionID = req.SessionID
			msg = server.SubmitWager{UserID: req.UserID, QuestionID: req.QuestionID, Amount: req.Amount, Reply: reply}
		case types.ProcSkipQuestion:
			var req types.SkipQuestionRequest
			if !decode(w, r, &req) {
				return
			}
			sessionID = req.SessionID
			msg = server.SkipQuestion{UserID: req.UserID, QuestionID: req.QuestionID, Reply: reply}
		default:
			http.Error(w, "unknown procedure", http.StatusNotFound)
			return
		}

		sess := lookupSession(h, sessionID)
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		sess.Inbox() <- msg

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(<-reply)
	}
}

func Leaderboard(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, "results store not configured", http.StatusNotFound)
			return
		}
		rows, err := st.Leaderboard(r.Context(), 20)
		if err != nil {
			http.Error(w, "leaderboard query failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func lookupSession(h *server.Hub, id string) *server.Session {
	reply := make(chan *server.Session, 1)
	h.Inbox() <- server.GetSession{ID: id, Reply: reply}
	return <-reply
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}
