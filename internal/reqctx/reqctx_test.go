package reqctx_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumkit/pluginhost/internal/reqctx"
)

func TestCurrent_AbsentByDefault(t *testing.T) {
	ctx := context.Background()

	_, ok := reqctx.Current(ctx)
	assert.False(t, ok)
	_, ok = reqctx.HTTP(ctx)
	assert.False(t, ok)
	_, ok = reqctx.WS(ctx)
	assert.False(t, ok)
	_, ok = reqctx.Value(ctx, "uid")
	assert.False(t, ok)
}

func TestHTTPFrame(t *testing.T) {
	req := httptest.NewRequest("GET", "/posts", nil)
	res := httptest.NewRecorder()

	err := reqctx.Run(context.Background(), reqctx.Frame{
		HTTP: &reqctx.HTTPContext{Req: req, Res: res},
	}, func(ctx context.Context) error {
		h, ok := reqctx.HTTP(ctx)
		require.True(t, ok)
		assert.Equal(t, "/posts", h.Req.URL.Path)

		// A websocket event has no HTTP frame; the reverse holds too.
		_, ok = reqctx.WS(ctx)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestNestedRunRestoresOuterFrame(t *testing.T) {
	outer := reqctx.Frame{Values: map[string]any{"uid": "alice"}}
	inner := reqctx.Frame{Values: map[string]any{"uid": "bob"}}

	err := reqctx.Run(context.Background(), outer, func(ctx context.Context) error {
		v, ok := reqctx.Value(ctx, "uid")
		require.True(t, ok)
		assert.Equal(t, "alice", v)

		err := reqctx.Run(ctx, inner, func(ctx context.Context) error {
			v, ok := reqctx.Value(ctx, "uid")
			require.True(t, ok)
			assert.Equal(t, "bob", v)
			return nil
		})
		require.NoError(t, err)

		// Back in the outer extent the outer frame is current again.
		v, ok = reqctx.Value(ctx, "uid")
		require.True(t, ok)
		assert.Equal(t, "alice", v)
		return nil
	})
	require.NoError(t, err)
}

func TestInnerFrameDoesNotInheritOuterValues(t *testing.T) {
	outer := reqctx.Frame{Values: map[string]any{"uid": "alice"}}
	inner := reqctx.Frame{Values: map[string]any{"trace": "t-1"}}

	_ = reqctx.Run(context.Background(), outer, func(ctx context.Context) error {
		return reqctx.Run(ctx, inner, func(ctx context.Context) error {
			_, ok := reqctx.Value(ctx, "uid")
			assert.False(t, ok, "inner frame must not leak outer values")
			return nil
		})
	})
}

func TestConcurrentUnitsAreIsolated(t *testing.T) {
	const units = 32
	var wg sync.WaitGroup
	wg.Add(units)

	for i := 0; i < units; i++ {
		uid := string(rune('a' + i%26))
		go func() {
			defer wg.Done()
			frame := reqctx.Frame{Values: map[string]any{"uid": uid}}
			_ = reqctx.Run(context.Background(), frame, func(ctx context.Context) error {
				for j := 0; j < 100; j++ {
					v, ok := reqctx.Value(ctx, "uid")
					if !ok || v != uid {
						t.Errorf("frame leaked across units: got %v", v)
						return nil
					}
				}
				return nil
			})
		}()
	}
	wg.Wait()
}
