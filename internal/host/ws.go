// Websocket layer.
//
// DESIGN: Clients connect to /ws with a session token and send JSON
// events {"event": "chat.message", "payload": {...}}. Each event is one
// unit of work: it gets its own ambient WS frame (socket, uid, event,
// payload), its payload is threaded through filter:<event>, and
// action:<event> notifies listeners fire-and-forget. The filtered payload
// is echoed back as {"event", "payload"}; a handler failure is reported
// as {"event", "error"} and ends neither the loop nor the connection's
// other events.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/forumkit/pluginhost/internal/reqctx"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	uid, ok := s.sessions.Get(token)
	if !ok {
		s.writeError(w, "invalid or expired session token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	log.Info().Str("uid", uid).Msg("websocket connected")
	ctx := r.Context()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, context.Canceled) {
				log.Debug().Str("uid", uid).Msg("websocket closed")
			} else {
				log.Warn().Err(err).Str("uid", uid).Msg("websocket read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		s.dispatchEvent(ctx, conn, uid, data)
	}
}

// dispatchEvent processes one inbound socket event under its own frame.
func (s *Server) dispatchEvent(ctx context.Context, conn *websocket.Conn, uid string, data []byte) {
	event := gjson.GetBytes(data, "event").String()
	if event == "" {
		s.writeEventError(ctx, conn, "", "event is required")
		return
	}
	payload := gjson.GetBytes(data, "payload").Raw
	if payload == "" {
		payload = "null"
	}

	frame := reqctx.Frame{
		WS: &reqctx.WSContext{
			Conn:    conn,
			UID:     uid,
			Event:   event,
			Payload: []byte(payload),
		},
	}

	err := reqctx.Run(ctx, frame, func(ctx context.Context) error {
		out, err := s.dispatcher.Filter(ctx, "filter:"+event, payload)
		if err != nil {
			return err
		}
		filtered, ok := out.(string)
		if !ok {
			return fmt.Errorf("filter:%s returned %T, want string", event, out)
		}

		if err := s.dispatcher.Fire(ctx, "action:"+event, filtered); err != nil {
			log.Warn().Err(err).Str("event", event).Msg("action not fully dispatched")
		}

		reply, _ := sjson.Set(`{}`, "event", event)
		reply, _ = sjson.SetRaw(reply, "payload", filtered)
		return conn.Write(ctx, websocket.MessageText, []byte(reply))
	})
	if err != nil {
		log.Error().Err(err).Str("event", event).Str("uid", uid).Msg("socket event failed")
		s.writeEventError(ctx, conn, event, "event rejected by plugin")
	}
}

func (s *Server) writeEventError(ctx context.Context, conn *websocket.Conn, event, msg string) {
	reply, _ := sjson.Set(`{}`, "event", event)
	reply, _ = sjson.Set(reply, "error", msg)
	if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
		log.Debug().Err(err).Msg("failed to write event error")
	}
}
