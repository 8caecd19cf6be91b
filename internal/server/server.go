/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amtp-protocol/agentmail/internal/config"
	"github.com/amtp-protocol/agentmail/internal/logging"
	"github.com/amtp-protocol/agentmail/internal/metrics"
	"github.com/amtp-protocol/agentmail/internal/middleware"
	"github.com/amtp-protocol/agentmail/internal/service"
	"github.com/amtp-protocol/agentmail/internal/storage"
)

// Version is reported by the health endpoints
const Version = "1.0"

// Banner is returned by GET /
const Banner = "AI Agent Communication System is running"

// Server represents the mailbox HTTP server
type Server struct {
	config     *config.Config
	httpServer *http.Server
	router     *gin.Engine
	service    *service.MailboxService
	logger     *logging.Logger
	metrics    metrics.MetricsProvider

	// now supplies message creation times
	now func() time.Time
}

// New creates the storage backend, the mailbox service and the HTTP server
func New(cfg *config.Config) (*Server, error) {
	logger := logging.NewLogger(cfg.Logging)

	// Create metrics if enabled
	var metricsInstance metrics.MetricsProvider
	if cfg.MetricsEnabled() {
		metricsInstance = metrics.NewMetricsProvider()
	}

	store, err := storage.NewStorage(cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create mailbox storage: %w", err)
	}

	svc, err := service.New(context.Background(), store, service.Config{
		PreloadConcurrency: cfg.Storage.PreloadConcurrency,
	}, logger, metricsInstance)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to start mailbox service: %w", err)
	}

	return NewWithService(cfg, svc, logger, metricsInstance)
}

// NewWithService creates a server around an existing mailbox service
func NewWithService(cfg *config.Config, svc *service.MailboxService, logger *logging.Logger, m metrics.MetricsProvider) (*Server, error) {
	if logger == nil {
		logger = logging.NewLogger(cfg.Logging)
	}

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:  cfg,
		router:  gin.New(),
		service: svc,
		logger:  logger.WithComponent("server"),
		metrics: m,
		now:     time.Now,
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.TLS.Enabled {
		server.httpServer.TLSConfig = server.createTLSConfig()
	}

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Infof("Listening on %s", s.config.Server.Address)
	if s.config.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones and then
// releases storage
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.service.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close storage: %w", closeErr)
	}
	return err
}

// GetRouter returns the Gin router for testing purposes
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Service returns the mailbox service behind the server
func (s *Server) Service() *service.MailboxService {
	return s.service
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.Logger(s.config.Logging))
	s.router.Use(middleware.CORS(s.config.Auth.APIKeyHeader))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestSizeLimit(s.config.Message.MaxSize))
	s.router.Use(middleware.SecurityHeaders())
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api/mailbox")
	api.Use(middleware.APIKeyAuth(s.config.Auth))
	{
		api.POST("/send", s.withRequestMetrics(s.handleSendMessage))
		api.GET("/messages/:agent", s.withRequestMetrics(s.handleListMessages))
		api.DELETE("/messages/:agent/:message_id", s.withRequestMetrics(s.handleDeleteMessage))
		api.DELETE("/messages/:agent", s.withRequestMetrics(s.handleClearMailbox))
		api.GET("/agents", s.withRequestMetrics(s.handleListAgents))
		api.POST("/agents", s.withRequestMetrics(s.handleRegisterAgent))
	}
}

// createTLSConfig creates TLS configuration
func (s *Server) createTLSConfig() *tls.Config {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
	}

	switch s.config.TLS.MinVersion {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	default:
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig
}

// handleRoot handles GET /
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": Banner})
}

// handleHealth handles health check requests (liveness probe)
func (s *Server) handleHealth(c *gin.Context) {
	health := s.checkHealth()

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// handleReady handles readiness check requests (readiness probe)
func (s *Server) handleReady(c *gin.Context) {
	readiness := s.checkReadiness(c.Request.Context())

	statusCode := http.StatusOK
	if !readiness.Ready {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, readiness)
}

// HealthStatus represents the liveness of the server
type HealthStatus struct {
	Status     string            `json:"status"`
	Healthy    bool              `json:"healthy"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// ReadinessStatus represents whether the server can serve requests
type ReadinessStatus struct {
	Status       string            `json:"status"`
	Ready        bool              `json:"ready"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	Stats        *service.Stats    `json:"stats,omitempty"`
}

// checkHealth performs basic health checks (liveness)
func (s *Server) checkHealth() HealthStatus {
	healthy := true
	components := make(map[string]string)

	if s.router == nil {
		healthy = false
		components["router"] = "not_initialized"
	} else {
		components["router"] = "healthy"
	}

	if s.service == nil {
		healthy = false
		components["mailbox_service"] = "not_initialized"
	} else {
		components["mailbox_service"] = "healthy"
	}

	if s.metrics != nil {
		components["metrics"] = "healthy"
	} else {
		components["metrics"] = "not_configured"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthStatus{
		Status:     status,
		Healthy:    healthy,
		Timestamp:  time.Now().UTC(),
		Version:    Version,
		Components: components,
	}
}

// checkReadiness verifies that storage is usable
func (s *Server) checkReadiness(ctx context.Context) ReadinessStatus {
	ready := true
	dependencies := make(map[string]string)
	var stats *service.Stats

	if s.service != nil {
		if err := s.service.HealthCheck(ctx); err != nil {
			ready = false
			dependencies["storage"] = "unavailable"
			s.logger.WithContext(ctx).Error("Storage health check failed", err)
		} else {
			dependencies["storage"] = "ready"
		}

		current := s.service.Stats()
		stats = &current
	} else {
		ready = false
		dependencies["storage"] = "not_initialized"
	}

	status := "ready"
	if !ready {
		status = "not_ready"
	}

	return ReadinessStatus{
		Status:       status,
		Ready:        ready,
		Timestamp:    time.Now().UTC(),
		Version:      Version,
		Dependencies: dependencies,
		Stats:        stats,
	}
}
