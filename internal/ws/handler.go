// Package ws serves the realtime event feed. Clients dial one socket per
// scope; commands never travel over the socket, they go through the RPC
// endpoints, so the feed is strictly server-to-client.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scribecat/quizwire/internal/server"
	"github.com/scribecat/quizwire/pkg/types"
)

func Handler(h *server.Hub, allowedOrigin string, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	accept := &websocket.AcceptOptions{}
	if allowedOrigin == "*" {
		accept.InsecureSkipVerify = true
	} else if allowedOrigin != "" {
		accept.OriginPatterns = []string{allowedOrigin}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		sessionID, ok := sessionFromScope(scope)
		if !ok {
			http.Error(w, "missing or malformed scope", http.StatusBadRequest)
			return
		}
		userID := r.URL.Query().Get("user")

		reply := make(chan *server.Session, 1)
		h.Inbox() <- server.GetSession{ID: sessionID, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, accept)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		events := make(chan types.Event, 16)
		clientID := uuid.NewString()

		sess.Inbox() <- server.Join{ClientID: clientID, UserID: userID, Scope: scope, Outbox: events}
		defer func() { sess.Inbox() <- server.Leave{ClientID: clientID} }()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for ev := range events {
				payload, err := json.Marshal(ev)
				if err != nil {
					log.Error("marshal event", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				werr := conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if werr != nil {
					return
				}
			}
			// Outbox closed: the session dropped us or shut down.
			conn.Close(websocket.StatusGoingAway, "session closed")
		}()

		// The read side only watches for the peer going away.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}
		}
	}
}

func sessionFromScope(scope string) (string, bool) {
	parts := strings.Split(scope, "/")
	if len(parts) < 2 || parts[0] != "session" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
