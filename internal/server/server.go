// Package server wires the decision engine, the escalation orchestrator,
// and their stores into an HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/gatewarden/gatewarden/internal/capability"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/decision"
	"github.com/gatewarden/gatewarden/internal/escalation"
	"github.com/gatewarden/gatewarden/internal/health"
	"github.com/gatewarden/gatewarden/internal/history"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/ratelimit"
	"github.com/gatewarden/gatewarden/internal/realtime"
	"github.com/gatewarden/gatewarden/internal/security"
	"github.com/gatewarden/gatewarden/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	baselines    history.Store
	engine       *decision.Engine
	orchestrator *escalation.Orchestrator
	audit        decision.AuditStore
	outcomes     escalation.OutcomeStore
	collector    escalation.FactorCollector
	evaluator    escalation.RiskEvaluator
	healthReg    *health.Registry
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCollector sets a custom factor collector (for testing)
func WithCollector(c escalation.FactorCollector) Option {
	return func(s *Server) {
		s.collector = c
	}
}

// WithEvaluator sets a custom risk evaluator (for testing)
func WithEvaluator(e escalation.RiskEvaluator) Option {
	return func(s *Server) {
		s.evaluator = e
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set collector/evaluator/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		baselineStore := history.NewPostgresStore(db)
		if err := baselineStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate baseline store", "error", err)
		}
		s.baselines = baselineStore

		auditStore := decision.NewPostgresAuditStore(db)
		if err := auditStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate decision audit store", "error", err)
		}
		s.audit = auditStore

		outcomeStore := escalation.NewPostgresOutcomeStore(db)
		if err := outcomeStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate escalation outcome store", "error", err)
		}
		s.outcomes = outcomeStore

		s.healthReg.Register("database", db.PingContext)
	} else {
		s.baselines = history.NewMemoryStore()
		s.audit = decision.NewMemoryAuditStore()
		s.outcomes = escalation.NewMemoryOutcomeStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Capability providers: remote HTTP services when configured, in-process
	// demo providers otherwise
	if s.collector == nil || s.evaluator == nil {
		if cfg.CollectorURL != "" && cfg.EvaluatorURL != "" {
			if cfg.IsProduction() {
				if err := security.ValidateEndpointURL(cfg.CollectorURL); err != nil {
					return nil, fmt.Errorf("collector URL rejected: %w", err)
				}
				if err := security.ValidateEndpointURL(cfg.EvaluatorURL); err != nil {
					return nil, fmt.Errorf("evaluator URL rejected: %w", err)
				}
			}
			capCfg := capability.Config{
				CollectorURL: cfg.CollectorURL,
				EvaluatorURL: cfg.EvaluatorURL,
				APIKey:       cfg.CapabilityAPIKey,
				Timeout:      cfg.CapabilityTimeout,
			}
			if s.collector == nil {
				s.collector = capability.NewHTTPCollector(capCfg)
			}
			if s.evaluator == nil {
				s.evaluator = capability.NewHTTPEvaluator(capCfg)
			}
			s.logger.Info("remote capabilities enabled",
				"collector", cfg.CollectorURL, "evaluator", cfg.EvaluatorURL)
		} else {
			if s.collector == nil {
				s.collector = capability.StaticCollector{}
			}
			if s.evaluator == nil {
				s.evaluator = capability.ThresholdEvaluator{}
			}
			s.logger.Info("in-process capabilities enabled")
		}
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Decision engine over the baseline store
	pipeline := decision.NewPipeline().WithBaseRange(cfg.BaseRiskMin, cfg.BaseRiskMax)
	reasoner := decision.NewReasoner().WithThresholds(cfg.BlockThreshold, cfg.MFAThreshold)
	s.engine = decision.NewEngine(s.baselines,
		decision.WithLogger(s.logger),
		decision.WithAuditStore(s.audit),
		decision.WithPipeline(pipeline),
		decision.WithReasoner(reasoner),
		decision.OnDecision(func(rec *decision.Record) {
			s.realtimeHub.BroadcastDecision(realtime.DecisionEvent{
				ID:       rec.ID,
				Username: rec.Username,
				Action:   string(rec.Action),
				Score:    float64(rec.Score),
				Reason:   rec.Reason,
			})
		}),
	)

	// Escalation orchestrator over the capability providers
	s.orchestrator = escalation.New(s.collector, s.evaluator,
		escalation.WithLogger(s.logger),
		escalation.WithMaxRounds(cfg.MaxRounds),
		escalation.WithCallTimeout(cfg.CapabilityTimeout),
		escalation.WithOutcomeStore(s.outcomes),
		escalation.OnOutcome(func(res *escalation.Result) {
			s.realtimeHub.BroadcastEscalation(realtime.EscalationEvent{
				SessionID: res.SessionID,
				Username:  res.Username,
				Feature:   res.Feature,
				Outcome:   string(res.Outcome),
				Score:     res.RiskScore,
				Rounds:    res.RoundsUsed,
			})
		}),
	)

	if cfg.APIKey != "" {
		s.logger.Info("API authentication enabled")
	} else {
		s.logger.Warn("API authentication disabled (no API key configured)")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until a shutdown signal, a server
// error, or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Periodic DB pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
