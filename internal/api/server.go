package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/audit"
	"github.com/pgx-lims-server/internal/database"
	"github.com/pgx-lims-server/internal/domain"
	"github.com/pgx-lims-server/internal/service"
)

// Server is the HTTP front for the workflow services.
type Server struct {
	config  *domain.Config
	log     *logrus.Logger
	router  *gin.Engine
	server  *http.Server
	metrics *Metrics

	db            *database.DB
	auth          *service.AuthService
	confirmations *service.ConfirmationService
	reports       *service.ReportAssembler
	predictor     *service.Predictor
	rulebook      *service.Rulebook
	tat           *service.TATEvaluator

	requests domain.RequestStore
	patients domain.PatientStore
	blobs    domain.BlobStore
	audit    *audit.SQLiteStore
}

// Deps bundles everything the server serves.
type Deps struct {
	DB            *database.DB
	Auth          *service.AuthService
	Confirmations *service.ConfirmationService
	Reports       *service.ReportAssembler
	Predictor     *service.Predictor
	Rulebook      *service.Rulebook
	TAT           *service.TATEvaluator
	Requests      domain.RequestStore
	Patients      domain.PatientStore
	Blobs         domain.BlobStore
	Audit         *audit.SQLiteStore
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, deps Deps, logger *logrus.Logger) *Server {
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := NewMetrics(registry)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware())
	router.Use(metricsMiddleware(metrics))

	s := &Server{
		config:        config,
		log:           logger,
		router:        router,
		metrics:       metrics,
		db:            deps.DB,
		auth:          deps.Auth,
		confirmations: deps.Confirmations,
		reports:       deps.Reports,
		predictor:     deps.Predictor,
		rulebook:      deps.Rulebook,
		tat:           deps.TAT,
		requests:      deps.Requests,
		patients:      deps.Patients,
		blobs:         deps.Blobs,
		audit:         deps.Audit,
	}

	s.setupRoutes(registry)
	return s
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(registry *prometheus.Registry) {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	v1.POST("/auth/login", s.handleLogin)

	authed := v1.Group("")
	authed.Use(authMiddleware(s.auth))
	{
		authed.POST("/patients", s.handleCreatePatient)
		authed.GET("/patients/search", s.handleSearchPatients)

		authed.POST("/requests", s.handleCreateRequest)
		authed.GET("/requests", s.handleListRequests)
		authed.GET("/requests/search", s.handleSearchRequests)
		authed.GET("/requests/stats", s.handleRequestStats)
		authed.GET("/requests/:id", s.handleGetRequest)
		authed.PUT("/requests/:id/alleles", s.handleSaveAlleles)
		authed.POST("/requests/:id/complete", s.handleCompleteAlleles)
		authed.POST("/requests/:id/confirm", s.handleConfirm)
		authed.POST("/requests/:id/reject", s.handleReject)
		authed.DELETE("/requests/:id", requireRole(domain.RoleAdmin), s.handleDeleteRequest)

		authed.GET("/requests/:id/report", s.handleGetReport)
		authed.GET("/requests/:id/report/document", s.handleGetReportDocument)
		authed.GET("/requests/:id/tat", s.handleTAT)

		authed.GET("/rulebook/assays", s.handleAssayTypes)
		authed.GET("/rulebook/assays/:assay/slots/:slot/values", s.handlePossibleValues)
		authed.POST("/rulebook/refresh", requireRole(domain.RoleAdmin), s.handleRefreshRulebook)

		authed.GET("/audit", requireRole(domain.RoleAdmin), s.handleAuditTrail)
	}
}

// handleHealth reports service and database health.
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Health(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":            status,
		"rulebook_degraded": s.rulebook.Degraded(),
		"timestamp":         time.Now().UTC(),
	})
}
