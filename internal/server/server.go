package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/config"
	"github.com/jbellec/veilguard/internal/guard"
	"github.com/jbellec/veilguard/internal/history"
	"github.com/jbellec/veilguard/internal/logger"
	"github.com/jbellec/veilguard/internal/profile"
	"github.com/jbellec/veilguard/internal/websocket"
)

// HistoryReader is what the history endpoints need from the store; nil
// when history is disabled.
type HistoryReader interface {
	List(ctx context.Context, guardType string, limit int) ([]history.Record, error)
	GetStats(ctx context.Context) (*history.Stats, error)
}

// Server hosts the masking API.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	service  *guard.Service
	store    profile.Store
	recorder history.Recorder
	reader   HistoryReader
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub
	started  time.Time

	limiterMu sync.Mutex
	limiters  map[string]*clientLimiter

	cancelJanitor context.CancelFunc
}

// New creates a new API server instance. reader may be nil when the
// history store is disabled; recorder must not be (use NopRecorder).
func New(cfg *config.Config, log *logger.Logger, service *guard.Service, store profile.Store, recorder history.Recorder, reader HistoryReader) *Server {
	wsHub := websocket.NewHub(&websocket.HubConfig{
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		MaxConnections: cfg.WebSocket.MaxConnections,
	}, log.WithComponent("websocket").Logger)

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		service:  service,
		store:    store,
		recorder: recorder,
		reader:   reader,
		router:   mux.NewRouter(),
		wsHub:    wsHub,
		started:  time.Now(),
		limiters: make(map[string]*clientLimiter),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	if s.config.Security.RateLimit.Enabled {
		api.Use(s.rateLimitMiddleware)
	}

	api.HandleFunc("/mask", s.handleMask).Methods("POST")
	api.HandleFunc("/finalize", s.handleFinalize).Methods("POST")
	api.HandleFunc("/process", s.handleProcess).Methods("POST")

	api.HandleFunc("/profiles", s.handleListProfiles).Methods("GET")
	api.HandleFunc("/profiles/reload", s.handleReloadProfiles).Methods("POST")
	api.HandleFunc("/profiles/{guard_type}", s.handleGetProfile).Methods("GET")
	api.HandleFunc("/examples/{guard_type}", s.handleExample).Methods("GET")

	if s.reader != nil {
		api.HandleFunc("/history", s.handleListHistory).Methods("GET")
		api.HandleFunc("/history/stats", s.handleHistoryStats).Methods("GET")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting veilguard API server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("llm_enabled", s.config.LLM.Enabled),
		zap.Bool("history_enabled", s.reader != nil),
	)

	if s.config.WebSocket.Enabled {
		go s.wsHub.Run()
	}

	if s.config.Security.RateLimit.Enabled {
		janitorCtx, cancel := context.WithCancel(context.Background())
		s.cancelJanitor = cancel
		go s.cleanupLimiters(janitorCtx)
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping veilguard API server")
	if s.cancelJanitor != nil {
		s.cancelJanitor()
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetWebSocketHub returns the hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}
