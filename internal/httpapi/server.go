package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vitalwatch/internal/model"
	"vitalwatch/internal/service"
	"vitalwatch/internal/version"
)

const maxBodyBytes = 4 << 10

// Backend is the part of the service the HTTP surface drives.
type Backend interface {
	State() service.State
	Simulate(ctx context.Context, accidentType model.AccidentType) error
	Refresh(stream string) bool
}

// Server exposes derived state, operator actions and metrics over HTTP.
type Server struct {
	router  *mux.Router
	backend Backend
	metrics *service.Metrics
	logger  zerolog.Logger
}

// NewServer builds the router. metrics may be nil, in which case /metrics is
// not registered.
func NewServer(backend Backend, metrics *service.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		backend: backend,
		metrics: metrics,
		logger:  logger.With().Str("component", "http").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)
	s.router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/state", s.stateHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/simulate", s.simulateHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/refresh/{stream}", s.refreshHandler).Methods(http.MethodPost)
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http surface listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http surface stopped")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	st := s.backend.State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"scheduler":       st.Scheduler,
		"snapshot_status": st.SnapshotStatus,
		"history_status":  st.HistoryStatus,
		"version":         version.Version,
		"timestamp":       time.Now().UTC(),
	})
}

func (s *Server) stateHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.State())
}

type simulateRequest struct {
	AccidentType string `json:"accident_type"`
}

func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accidentType, err := model.ParseAccidentType(req.AccidentType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.backend.Simulate(r.Context(), accidentType); err != nil {
		if errors.Is(err, model.ErrUnknownAccidentType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":        "accepted",
		"accident_type": string(accidentType),
	})
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	stream := mux.Vars(r)["stream"]
	if stream != service.StreamSnapshot && stream != service.StreamHistory {
		writeError(w, http.StatusNotFound, "unknown stream "+strconv.Quote(stream))
		return
	}
	if !s.backend.Refresh(stream) {
		writeError(w, http.StatusServiceUnavailable, "poller is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "stream": stream})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		if s.metrics != nil {
			s.metrics.HTTPDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
			s.metrics.HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
