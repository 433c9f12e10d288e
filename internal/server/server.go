package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

type Server struct {
	engine    *engine.Engine
	store     *store.SQLiteStore
	port      int
	token     string
	tokenFile string
	router    *http.ServeMux
	startTime time.Time
	log       *slog.Logger
}

func New(e *engine.Engine, s *store.SQLiteStore, port int, tokenFile string) *Server {
	srv := &Server{
		engine:    e,
		store:     s,
		port:      port,
		token:     generateToken(),
		tokenFile: tokenFile,
		router:    http.NewServeMux(),
		startTime: time.Now(),
		log:       slog.Default(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/api/assign", s.handleAssign)
	s.router.HandleFunc("/api/convert", s.handleConvert)
	s.router.HandleFunc("/api/tests/active", s.handleActiveTests)
	s.router.HandleFunc("/api/assignments", s.handleUserAssignments)
	s.router.Handle("/metrics", promhttp.Handler())

	// Admin endpoints (protected)
	s.router.Handle("/api/tests", s.authMiddleware(http.HandlerFunc(s.handleTests)))
	s.router.Handle("/api/tests/", s.authMiddleware(http.HandlerFunc(s.handleTestByID)))
}

func (s *Server) Start() error {
	// Write token to file for the token command
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn("failed to write token file", "path", s.tokenFile, "error", err)
		}
	}

	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("server listening", "addr", addr)

	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a simple token if crypto/rand fails
		return "a1b2c3d4"
	}
	return hex.EncodeToString(bytes)
}
