package main

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/forumkit/pluginhost/internal/hooks"
	"github.com/forumkit/pluginhost/internal/plugins"
	"github.com/forumkit/pluginhost/internal/reqctx"
)

// registerBuiltins provides the handler libraries that ship with the host
// binary. A library only takes effect once a matching manifest under the
// plugin directory is activated.
func registerBuiltins(m *plugins.Manager) {
	m.Provide("audit", plugins.Library{
		"log_post": hooks.ActionFunc(func(ctx context.Context, args ...any) error {
			if len(args) == 0 {
				return nil
			}
			doc, _ := args[0].(string)
			ev := log.Info().Str("post", gjson.Get(doc, "id").String())
			if h, ok := reqctx.HTTP(ctx); ok {
				ev = ev.Str("remote", h.Req.RemoteAddr)
			}
			ev.Msg("post saved")
			return nil
		}),
		"log_event": hooks.ActionFunc(func(ctx context.Context, args ...any) error {
			if ws, ok := reqctx.WS(ctx); ok {
				log.Info().Str("uid", ws.UID).Str("event", ws.Event).Msg("socket event")
			}
			return nil
		}),
	})

	m.Provide("wordfilter", plugins.Library{
		"censor": hooks.FilterFunc(func(_ context.Context, payload any) (any, error) {
			doc, ok := payload.(string)
			if !ok {
				return payload, nil
			}
			content := gjson.Get(doc, "content").String()
			for _, word := range bannedWords {
				content = strings.ReplaceAll(content, word, strings.Repeat("*", len(word)))
			}
			return sjson.Set(doc, "content", content)
		}),
	})

	m.Provide("announce", plugins.Library{
		"ready": hooks.StaticFunc(func(_ context.Context, done func(error), _ ...any) {
			log.Info().Msg("host ready, plugins initialized")
			done(nil)
		}),
	})
}

var bannedWords = []string{"spamlink", "buynow"}
