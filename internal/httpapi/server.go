// Package httpapi implements the HTTP Control Plane: the REST surface the
// browser single-page app and the plan-submission interceptor use to
// create reviews, mutate comments, submit revisions, and poll status.
//
// Grounded on the teacher's internal/web/server.go (route wiring via
// http.ServeMux's Go 1.22 method patterns, withLogging middleware,
// graceful Shutdown) and internal/web/api.go (jsonResponse/jsonError
// helpers, json.NewDecoder request bodies, r.PathValue path params).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/arctek/reviewsrv/internal/gateway"
	"github.com/arctek/reviewsrv/review"
	"github.com/arctek/reviewsrv/reviewerr"
)

// PreferredPort is tried first on Listen; on EADDRINUSE the server falls
// back to an OS-assigned ephemeral port.
const PreferredPort = 3030

// IdleTimeout is how long the server waits with no inbound request before
// shutting the process down cleanly. Any request resets the timer.
const IdleTimeout = 30 * time.Minute

// Server is the stateless HTTP Control Plane. All durable state lives in
// the Engine's Store; the Server itself holds only wiring.
type Server struct {
	engine  *review.Engine
	gateway *gateway.Gateway
	logger  *slog.Logger

	server *http.Server

	idleMu      sync.Mutex
	idleTimer   *time.Timer
	onIdleOnce  sync.Once
	OnIdleClose func()

	// IdleTimeout overrides the package-level IdleTimeout default; set by
	// the caller before Serve if a non-default grace period is wanted.
	IdleTimeout time.Duration

	// MCPHandler, when set before Serve, mounts the Agent Tool Surface's
	// stateless HTTP transport at POST /mcp alongside the REST routes.
	MCPHandler http.Handler
}

// NewServer wires a Server to engine (the State Engine) and gw (the
// Subscriber Gateway, used for the /events endpoint). Both are expected to
// be constructed by the caller rather than reached via package-level
// singletons, so tests can spin up independent instances.
func NewServer(engine *review.Engine, gw *gateway.Gateway, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, gateway: gw, logger: logger, IdleTimeout: IdleTimeout}
}

// Listen binds to PreferredPort, falling back to an OS-assigned ephemeral
// port if that one is already in use. It does not start serving; call
// Serve with the returned listener.
func Listen() (net.Listener, int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:3030")
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, 0, err
		}
	}
	addr := ln.Addr().(*net.TCPAddr)
	return ln, addr.Port, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/reviews", s.createReview)
	mux.HandleFunc("GET /api/reviews/latest", s.getLatest)
	mux.HandleFunc("GET /api/reviews/{id}", s.getReview)
	mux.HandleFunc("GET /api/reviews/{id}/rendered", s.getRendered)

	mux.HandleFunc("POST /api/reviews/{id}/comments", s.addComment)
	mux.HandleFunc("PUT /api/reviews/{id}/comments/{cid}", s.editComment)
	mux.HandleFunc("DELETE /api/reviews/{id}/comments/{cid}", s.deleteComment)
	mux.HandleFunc("POST /api/reviews/{id}/comments/{cid}/answer", s.answerComment)

	mux.HandleFunc("PUT /api/reviews/{id}/plan", s.submitPlan)
	mux.HandleFunc("GET /api/reviews/{id}/versions", s.listVersions)
	mux.HandleFunc("GET /api/reviews/{id}/versions/{hash}", s.getVersion)
	mux.HandleFunc("GET /api/reviews/{id}/diff", s.getDiff)
	mux.HandleFunc("POST /api/reviews/{id}/rollback", s.rollback)

	mux.HandleFunc("POST /api/reviews/{id}/approve", s.approve)
	mux.HandleFunc("POST /api/reviews/{id}/request-changes", s.requestChanges)
	mux.HandleFunc("POST /api/reviews/{id}/ask-questions", s.askQuestions)

	mux.HandleFunc("GET /api/reviews/{id}/events", s.events)

	if s.MCPHandler != nil {
		mux.Handle("POST /mcp", s.MCPHandler)
	}

	return s.withIdleReset(s.withLogging(mux))
}

// Serve runs the Control Plane on ln until the process is asked to shut
// down. It blocks like http.Server.Serve.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the /events endpoint streams indefinitely
		IdleTimeout:  60 * time.Second,
	}
	s.armIdleTimer()
	s.logger.Info("control plane listening", "addr", ln.Addr().String())
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests (including open /events streams) to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.idleMu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleMu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) armIdleTimer() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	s.idleTimer = time.AfterFunc(s.IdleTimeout, s.fireIdle)
}

func (s *Server) fireIdle() {
	s.onIdleOnce.Do(func() {
		s.logger.Info("idle timeout reached, shutting down")
		if s.OnIdleClose != nil {
			s.OnIdleClose()
		}
	})
}

func (s *Server) resetIdleTimer() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.IdleTimeout)
	}
}

func (s *Server) withIdleReset(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.resetIdleTimer()
		next.ServeHTTP(w, r)
	})
}

// withLogging wraps a handler with request logging, matching the
// teacher's withLogging in internal/web/server.go.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// jsonResponse writes a 200 JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode json response", "error", err)
	}
}

// jsonError maps a reviewerr.Kind (or an unrecognized error) to an HTTP
// status and writes {"error": "..."}, per SPEC_FULL.md §7's propagation
// policy for the Control Plane.
func (s *Server) jsonError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := reviewerr.KindOf(err); ok {
		switch kind {
		case reviewerr.KindNotFound:
			status = http.StatusNotFound
		case reviewerr.KindValidationError, reviewerr.KindInvalidTransition:
			status = http.StatusBadRequest
		case reviewerr.KindStoreError:
			status = http.StatusInternalServerError
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); encErr != nil {
		s.logger.Error("failed to encode json error", "error", encErr)
	}
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.jsonError(w, reviewerr.ValidationError("%s", message))
}
