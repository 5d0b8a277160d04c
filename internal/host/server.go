// Package host is the request/connection layer of the plugin host: an
// HTTP and websocket server whose processing points fire hooks through
// the dispatcher, with the ambient context frame established once per
// inbound unit of work.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/forumkit/pluginhost/internal/config"
	"github.com/forumkit/pluginhost/internal/hooks"
	"github.com/forumkit/pluginhost/internal/plugins"
	"github.com/forumkit/pluginhost/internal/store"
)

// MaxBodySize bounds request bodies accepted by the API.
const MaxBodySize = 1 << 20

// Server wires the dispatcher, plugin manager and session store behind
// the host's HTTP/WS surface.
type Server struct {
	cfg        *config.Config
	dispatcher *hooks.Dispatcher
	manager    *plugins.Manager
	sessions   store.Store
	httpSrv    *http.Server
}

// New creates the host server.
func New(cfg *config.Config, dispatcher *hooks.Dispatcher, manager *plugins.Manager, sessions store.Store) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		manager:    manager,
		sessions:   sessions,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler returns the host's HTTP handler with the middleware chain
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /api/session", s.handleSession)
	mux.HandleFunc("POST /api/posts", s.handleCreatePost)
	mux.HandleFunc("GET /api/plugins", s.handleListPlugins)
	mux.HandleFunc("GET /api/plugins/resources", s.handleResources)
	mux.HandleFunc("POST /api/plugins/{id}/activate", s.handleActivate)
	mux.HandleFunc("POST /api/plugins/{id}/deactivate", s.handleDeactivate)
	mux.HandleFunc("GET /ws", s.handleWS)

	return s.panicRecovery(s.logging(s.security(s.frame(mux))))
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// app.ready static hook fires once the listener is up, before traffic is
// served; plugins use it for one-shot initialization and a failure there
// aborts startup.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", s.cfg.Server.Addr).Msg("host listening")

	if err := s.dispatcher.FireStatic(ctx, "app.ready"); err != nil {
		ln.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.Metrics())
}

// handleSession issues a session token bound to a uid. Websocket clients
// present the token to bind their socket frames to that identity.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		s.writeError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	uid := gjson.GetBytes(body, "uid").String()
	if uid == "" {
		s.writeError(w, "uid is required", http.StatusBadRequest)
		return
	}

	token := uuid.New().String()
	if err := s.sessions.Set(token, uid); err != nil {
		s.writeError(w, "failed to store session", http.StatusInternalServerError)
		return
	}

	reply, _ := sjson.Set(`{}`, "token", token)
	s.writeRaw(w, http.StatusCreated, reply)
}

// handleCreatePost is the host's canonical extensible operation: the post
// document is threaded through filter:post.save, then action:post.save
// notifies listeners without delaying the response.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		s.writeError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !gjson.ValidBytes(body) {
		s.writeError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if !gjson.GetBytes(body, "title").Exists() || !gjson.GetBytes(body, "content").Exists() {
		s.writeError(w, "title and content are required", http.StatusBadRequest)
		return
	}

	doc := string(body)
	doc, _ = sjson.Set(doc, "id", uuid.New().String())
	doc, _ = sjson.Set(doc, "created_at", time.Now().UTC().Format(time.RFC3339))

	out, err := s.dispatcher.Filter(r.Context(), "filter:post.save", doc)
	if err != nil {
		// A broken filter handler aborts the operation that fired it.
		log.Error().Err(err).Msg("post.save filter failed")
		s.writeError(w, "post rejected by plugin", http.StatusInternalServerError)
		return
	}
	final, ok := out.(string)
	if !ok {
		s.writeError(w, "plugin returned malformed post", http.StatusInternalServerError)
		return
	}

	if err := s.dispatcher.Fire(r.Context(), "action:post.save", final); err != nil {
		// Fire-and-forget: a saturated action queue never fails the post.
		log.Warn().Err(err).Msg("action:post.save not fully dispatched")
	}

	s.writeRaw(w, http.StatusCreated, final)
}

func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Plugins())
}

func (s *Server) handleResources(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.StaticResources())
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Activate(r.Context(), id); err != nil {
		log.Error().Err(err).Str("plugin", id).Msg("activation failed")
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": true})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Deactivate(r.Context(), id); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": false})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeRaw(w http.ResponseWriter, status int, doc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, doc); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, msg string, status int) {
	body, _ := sjson.Set(`{}`, "error", msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
