package host_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/forumkit/pluginhost/internal/hooks"
	"github.com/forumkit/pluginhost/internal/reqctx"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dialWS(t *testing.T, f *fixture, uid string) *websocket.Conn {
	t.Helper()

	token := "tok-" + uid
	require.NoError(t, f.sessions.Set(token, uid))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(f.srv.URL)+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestWS_RejectsMissingToken(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(f.srv.URL), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWS_EventThreadsFilterWithSocketFrame(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()

	require.NoError(t, f.registry.Register("filter:chat.message", "shout", hooks.FilterFunc(
		func(ctx context.Context, payload any) (any, error) {
			ws, ok := reqctx.WS(ctx)
			if !ok {
				t.Error("ws frame not visible to filter handler")
				return payload, nil
			}
			// The frame identifies the unit of work, not just the socket.
			assert.Equal(t, "chat.message", ws.Event)
			assert.Equal(t, "alice", ws.UID)

			doc := payload.(string)
			text := strings.ToUpper(gjson.Get(doc, "text").String())
			doc, _ = sjson.Set(doc, "text", text)
			doc, _ = sjson.Set(doc, "from", ws.UID)
			return doc, nil
		},
	), 10))

	conn := dialWS(t, f, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := conn.Write(ctx, websocket.MessageText,
		[]byte(`{"event":"chat.message","payload":{"text":"hello"}}`))
	require.NoError(t, err)

	_, reply, err := conn.Read(ctx)
	require.NoError(t, err)

	assert.Equal(t, "chat.message", gjson.GetBytes(reply, "event").String())
	assert.Equal(t, "HELLO", gjson.GetBytes(reply, "payload.text").String())
	assert.Equal(t, "alice", gjson.GetBytes(reply, "payload.from").String())
}

func TestWS_UnregisteredEventEchoesPayload(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()

	conn := dialWS(t, f, "bob")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := conn.Write(ctx, websocket.MessageText,
		[]byte(`{"event":"typing.start","payload":{"topic":42}}`))
	require.NoError(t, err)

	_, reply, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), gjson.GetBytes(reply, "payload.topic").Int())
	assert.False(t, gjson.GetBytes(reply, "error").Exists())
}

func TestWS_HandlerFailureReportedPerEvent(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()

	require.NoError(t, f.registry.Register("filter:chat.message", "strict", hooks.FilterFunc(
		func(_ context.Context, payload any) (any, error) {
			return nil, assert.AnError
		},
	), 10))

	conn := dialWS(t, f, "carol")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := conn.Write(ctx, websocket.MessageText,
		[]byte(`{"event":"chat.message","payload":{"text":"x"}}`))
	require.NoError(t, err)

	_, reply, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(reply, "error").Exists())

	// The connection survives; later events still work.
	err = conn.Write(ctx, websocket.MessageText,
		[]byte(`{"event":"typing.start","payload":null}`))
	require.NoError(t, err)
	_, reply, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "typing.start", gjson.GetBytes(reply, "event").String())
}

func TestWS_MissingEventName(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()

	conn := dialWS(t, f, "dave")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := conn.Write(ctx, websocket.MessageText, []byte(`{"payload":1}`))
	require.NoError(t, err)

	_, reply, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "event is required", gjson.GetBytes(reply, "error").String())
}
