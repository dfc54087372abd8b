package track

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hazyhaar/dhtrack/archive"
)

// Config tunes the ingest listener.
type Config struct {
	// Port to bind on the loopback interface. 0 picks an ephemeral port.
	Port int
	// Token every request must present. Required.
	Token string
	// MaxBodyBytes caps POST bodies. Default: 32 MiB.
	MaxBodyBytes int64
}

func (c *Config) defaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
}

// Server is the ingest endpoint surface. It binds to loopback only; the
// capture script runs in a browser on the same machine.
type Server struct {
	archive *archive.Archive
	config  Config
	logger  *slog.Logger

	http     *http.Server
	listener net.Listener
}

// New creates a Server. Start binds the listener.
func New(a *archive.Archive, cfg Config, logger *slog.Logger) *Server {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{archive: a, config: cfg, logger: logger}
	s.http = &http.Server{Handler: s.Router()}
	return s
}

// Router assembles the chi router with the middleware chain: request id,
// body cap, token auth, then the handlers.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(maxBody(s.config.MaxBodyBytes))
	r.Use(s.tokenAuth)

	r.Post("/track-channel", s.handle(s.trackChannel))
	r.Post("/track-users", s.handle(s.trackUsers))
	r.Post("/track-messages", s.handle(s.trackMessages))
	r.Get("/get-attachment", s.handle(s.getAttachment))
	return r
}

// Start binds 127.0.0.1 and serves in the background. The returned address
// carries the actual port when an ephemeral one was requested.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.config.Port)))
	if err != nil {
		return "", fmt.Errorf("track: listen: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("track: serve", "error", err)
		}
	}()

	s.logger.Info("track: listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Shutdown stops accepting and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type contextKey string

const requestIDKey contextKey = "track_request_id"

// requestID tags every request with a correlation id for log lines.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func getRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// maxBody caps request bodies so a runaway capture script cannot exhaust
// memory.
func maxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenAuth enforces the per-session token: query parameter on GET, header
// on everything else. Mismatches are rejected before any handler or
// database work.
func (s *Server) tokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var presented string
		if r.Method == http.MethodGet {
			presented = r.URL.Query().Get("token")
		} else {
			presented = r.Header.Get("X-DHT-Token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.config.Token)) != 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
