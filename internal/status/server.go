// Package status serves the operator HTTP API of a running endpoint:
// Prometheus metrics, a JSON stats snapshot, control command injection and
// the QUIC certificate fingerprint.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/camlink/certs"
	"github.com/zsiec/camlink/control"
)

const shutdownTimeout = 2 * time.Second

// StatsFunc returns the JSON-serializable stats document for /api/stats.
type StatsFunc func() any

// Config wires the server to the endpoint it reports on. Nil fields
// disable the matching route's functionality.
type Config struct {
	Addr     string
	Gatherer prometheus.Gatherer
	Stats    StatsFunc
	// Control receives commands posted to /api/control.
	Control control.Handler
	// Cert is reported by /api/cert-hash for clients pinning a QUIC
	// listener.
	Cert   *certs.CertInfo
	Logger *slog.Logger
}

type Server struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log.With("component", "status")}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/stats", s.handleStats)
	r.Post("/api/control", s.handleControl)
	r.Get("/api/cert-hash", s.handleCertHash)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. A nil
// return means the server stopped because of ctx.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("status API listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	})
	defer stop()

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Stats())
}

type controlRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Control == nil {
		writeError(w, http.StatusNotImplemented, "control channel not available")
		return
	}
	var req controlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, ok := control.ParseLine(req.Key + "=" + req.Value)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown key "+req.Key)
		return
	}
	if err := s.cfg.Control.HandleCommand(r.Context(), cmd); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, control.ErrInvalidValue) || errors.Is(err, control.ErrUnknownKey) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	s.log.Debug("control command accepted", "command", cmd.String())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied", "command": cmd.String()})
}

type certHashResponse struct {
	Hash string `json:"hash"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Cert == nil {
		writeError(w, http.StatusNotFound, "no certificate")
		return
	}
	writeJSON(w, http.StatusOK, certHashResponse{Hash: s.cfg.Cert.FingerprintBase64()})
}
