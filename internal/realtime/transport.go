package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/scribecat/quizwire/pkg/types"
)

// WSTransport dials the backend's websocket event feed at
// GET {base}/ws?scope=<scope>&user=<user>.
type WSTransport struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
	Log        *zap.Logger
}

func (t *WSTransport) Dial(ctx context.Context, scope string) (Conn, error) {
	u := t.BaseURL + "/ws?scope=" + url.QueryEscape(scope) + "&user=" + url.QueryEscape(t.UserID)
	c, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: t.HTTPClient})
	if err != nil {
		return nil, err
	}
	log := t.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &wsConn{c: c, log: log}, nil
}

type wsConn struct {
	c   *websocket.Conn
	log *zap.Logger
}

func (w *wsConn) Recv(ctx context.Context) (types.Event, error) {
	for {
		_, data, err := w.c.Read(ctx)
		if err != nil {
			return types.Event{}, err
		}
		var ev types.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed frames are logged and dropped, never fatal.
			w.log.Warn("dropping malformed realtime frame", zap.Error(err))
			continue
		}
		return ev, nil
	}
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "unsubscribe")
}
