package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace/internal/capture"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/store"
)

const maxBatchBytes = 8 << 20

// summarizer is implemented by stores that keep the rendered text summary.
type summarizer interface {
	Summary(ctx context.Context, id string) (string, error)
}

type Server struct {
	store   store.Store
	address string
	logger  *zap.Logger
	hub     *Hub
	server  *http.Server

	mu      sync.RWMutex
	channel *capture.Channel
}

func NewServer(st store.Store, address string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	logger = logger.Named("server")
	return &Server{
		store:   st,
		address: address,
		logger:  logger,
		hub:     NewHub(logger),
	}
}

// Attach routes ingested occurrences into channel and streams its events to
// live feed clients.
func (s *Server) Attach(channel *capture.Channel) {
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()
	channel.Subscribe(s.hub.Broadcast)
}

func (s *Server) activeChannel() *capture.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	var batch capture.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, request.Body, maxBatchBytes)).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	for i, occurrence := range batch.Events {
		if !models.Kind(occurrence.Type).Valid() {
			http.Error(w, fmt.Sprintf("event %d: invalid event type %q", i, occurrence.Type), http.StatusBadRequest)
			return
		}
	}
	channel := s.activeChannel()
	if channel == nil {
		http.Error(w, "No recording in progress", http.StatusServiceUnavailable)
		return
	}

	accepted := 0
	for _, occurrence := range batch.Events {
		if _, ok := channel.Push(occurrence); ok {
			accepted++
		}
	}
	s.logger.Debug("Ingested batch", zap.Int("received", len(batch.Events)), zap.Int("accepted", accepted))
	w.WriteHeader(http.StatusNoContent) // success, no body
}

func (s *Server) handleSession(w http.ResponseWriter, request *http.Request) {
	log, ok := s.load(w, request)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(log); err != nil {
		s.logger.Warn("Failed to write session", zap.Error(err))
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if stored, ok := s.store.(summarizer); ok {
		body, err := stored.Summary(request.Context(), id)
		if err == nil {
			w.Write([]byte(body))
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Failed to read summary", zap.String("session", id), zap.Error(err))
			http.Error(w, "Failed to read summary", http.StatusInternalServerError)
			return
		}
	}

	log, ok := s.load(w, request)
	if !ok {
		return
	}
	if err := store.WriteSummary(w, log); err != nil {
		s.logger.Warn("Failed to write summary", zap.Error(err))
	}
}

func (s *Server) load(w http.ResponseWriter, request *http.Request) (*models.Log, bool) {
	id := chi.URLParam(request, "id")
	if err := store.ValidateID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	log, err := s.store.Load(request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to load session", zap.String("session", id), zap.Error(err))
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return nil, false
	}
	return log, true
}

func (s *Server) setupRoutes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogging(s.logger))

	router.Get("/healthz", s.handleHealthz)
	router.Post("/events", s.handleEvents)
	router.Get("/sessions/{id}", s.handleSession)
	router.Get("/sessions/{id}/summary", s.handleSummary)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/live", s.hub.ServeHTTP)
	return router
}

func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("Request completed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.address,
		Handler:     s.setupRoutes(),
		ReadTimeout: 5 * time.Second,
	}

	serveErrors := make(chan error, 1)
	go func() {
		s.logger.Info("BrowserTrace server listening", zap.String("address", s.address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrors <- err
		}
		close(serveErrors)
	}()

	select {
	case err := <-serveErrors:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	s.hub.Close()
	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("Server exited")
	return nil
}
