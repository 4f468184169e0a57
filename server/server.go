package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/signalpress/signalpress/batch"
	"github.com/signalpress/signalpress/budget"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/logger"
	"github.com/signalpress/signalpress/pipeline"
)

// Server is the orchestrator's HTTP surface
type Server struct {
	httpServer *http.Server
	hub        *Hub
	upgrader   websocket.Upgrader

	sessions  *batch.Store
	scheduler *batch.Scheduler
	governor  *budget.Governor
	runs      *pipeline.Store
	runner    *pipeline.Runner

	logger *zap.SugaredLogger
}

// New creates the HTTP server with all routes registered
func New(
	cfg config.ServerConfig,
	sessions *batch.Store,
	scheduler *batch.Scheduler,
	governor *budget.Governor,
	runs *pipeline.Store,
	runner *pipeline.Runner,
	hub *Hub,
) *Server {
	if hub == nil {
		hub = NewHub()
	}

	s := &Server{
		hub:       hub,
		sessions:  sessions,
		scheduler: scheduler,
		governor:  governor,
		runs:      runs,
		runner:    runner,
		logger:    logger.Named("server"),
	}

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analysis", s.handleStartAnalysis)
	mux.HandleFunc("GET /api/session/{id}/status", s.handleSessionStatus)
	mux.HandleFunc("POST /api/generation/{type}", s.handleStartGeneration)
	mux.HandleFunc("GET /api/generation/{id}/status", s.handleGenerationStatus)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Hub returns the server's event hub so other components can push alerts
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler exposes the route mux for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the hub and serves until the listener fails or Shutdown
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn)
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
