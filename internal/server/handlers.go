package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/capability"
	"github.com/gatewarden/gatewarden/internal/decision"
	"github.com/gatewarden/gatewarden/internal/escalation"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/validation"
)

const version = "0.1.0"

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time decision/escalation streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :username URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.UsernameParamMiddleware())

	// PUBLIC ROUTES (read-only)
	v1.GET("/users/:username/baseline", s.baselineHandler)
	v1.GET("/users/:username/decisions", s.userDecisionsHandler)
	v1.GET("/users/:username/escalations", s.userEscalationsHandler)

	// PROTECTED ROUTES (require API key; decisions mutate baselines and
	// escalations trigger capability calls)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.cfg.APIKey))
	protected.Use(auth.RequireAuth(s.cfg.APIKey))
	{
		protected.POST("/decisions", s.decideHandler)
		protected.POST("/escalations", s.escalateHandler)
	}
}

// -----------------------------------------------------------------------------
// Decision endpoints
// -----------------------------------------------------------------------------

type decideRequest struct {
	Username    string    `json:"username"`
	IPAddress   string    `json:"ip_address"`
	DeviceID    string    `json:"device_id"`
	LoginMethod string    `json:"login_method"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Server) decideHandler(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("username", req.Username),
		validation.ValidUsername("username", req.Username),
		validation.Required("ip_address", req.IPAddress),
		validation.ValidIP("ip_address", req.IPAddress),
		validation.Required("device_id", req.DeviceID),
		validation.ValidDeviceID("device_id", req.DeviceID),
		validation.Required("login_method", req.LoginMethod),
		validation.OneOf("login_method", req.LoginMethod, "web", "mobile", "voice", "atm"),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	// Callers that replay historical events supply the timestamp; live
	// traffic usually omits it and gets server time.
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	login := &decision.LoginContext{
		Username:    req.Username,
		IPAddress:   req.IPAddress,
		DeviceID:    req.DeviceID,
		LoginMethod: req.LoginMethod,
		Timestamp:   ts.UTC(),
	}

	dec, rec, err := s.engine.Decide(c.Request.Context(), login)
	if err != nil {
		if errors.Is(err, decision.ErrTransient) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "transient_failure",
				"message": "Decision could not be committed, retry the login",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Decision pipeline failed",
		})
		return
	}

	c.JSON(http.StatusOK, decisionJSON(rec, dec))
}

func decisionJSON(rec *decision.Record, dec decision.Decision) gin.H {
	return gin.H{
		"id":           rec.ID,
		"username":     rec.Username,
		"action":       string(dec.Action),
		"explanation":  dec.Explanation,
		"score":        dec.Score,
		"ip_address":   rec.IPAddress,
		"device_id":    rec.DeviceID,
		"login_method": rec.Method,
		"created_at":   rec.DecidedAt.Format(time.RFC3339),
	}
}

func (s *Server) userDecisionsHandler(c *gin.Context) {
	username := c.Param("username")
	limit := parseLimit(c.Query("limit"), 20, 100)

	recs, err := s.audit.ListByUser(c.Request.Context(), username, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list decisions",
		})
		return
	}

	items := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		items = append(items, gin.H{
			"id":           rec.ID,
			"username":     rec.Username,
			"action":       string(rec.Action),
			"explanation":  rec.Reason,
			"score":        rec.Score,
			"ip_address":   rec.IPAddress,
			"device_id":    rec.DeviceID,
			"login_method": rec.Method,
			"created_at":   rec.DecidedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"username":  username,
		"decisions": items,
		"count":     len(items),
	})
}

// -----------------------------------------------------------------------------
// Escalation endpoints
// -----------------------------------------------------------------------------

type escalateRequest struct {
	Username    string `json:"username"`
	FeatureName string `json:"feature_name"`
}

func (s *Server) escalateHandler(c *gin.Context) {
	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("username", req.Username),
		validation.ValidUsername("username", req.Username),
		validation.Required("feature_name", req.FeatureName),
		validation.MaxLength("feature_name", req.FeatureName, 64),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	res, err := s.orchestrator.Authorize(c.Request.Context(), req.Username, req.FeatureName)
	if err != nil {
		if errors.Is(err, escalation.ErrCancelled) || errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "escalation_cancelled",
				"message": "Escalation did not complete",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Escalation failed",
		})
		return
	}

	c.JSON(http.StatusOK, escalationJSON(res))
}

func escalationJSON(res *escalation.Result) gin.H {
	obs := res.Observations
	if obs == nil {
		obs = []escalation.Observation{}
	}
	return gin.H{
		"id":           res.SessionID,
		"username":     res.Username,
		"feature":      res.Feature,
		"tier":         string(capability.TierFor(res.Feature)),
		"authorized":   res.Authorized,
		"outcome":      string(res.Outcome),
		"risk_score":   res.RiskScore,
		"rounds_used":  res.RoundsUsed,
		"observations": obs,
	}
}

func (s *Server) userEscalationsHandler(c *gin.Context) {
	username := c.Param("username")
	limit := parseLimit(c.Query("limit"), 20, 100)

	results, err := s.outcomes.ListByUser(c.Request.Context(), username, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list escalations",
		})
		return
	}

	items := make([]gin.H, 0, len(results))
	for _, res := range results {
		items = append(items, escalationJSON(res))
	}

	c.JSON(http.StatusOK, gin.H{
		"username":    username,
		"escalations": items,
		"count":       len(items),
	})
}

// -----------------------------------------------------------------------------
// Baseline endpoints
// -----------------------------------------------------------------------------

func (s *Server) baselineHandler(c *gin.Context) {
	username := c.Param("username")

	baseline, found, err := s.baselines.Get(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read baseline",
		})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No baseline recorded for user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username":   baseline.Username,
		"ips":        baseline.IPs.Values(),
		"devices":    baseline.Devices.Values(),
		"methods":    baseline.Methods.Values(),
		"last_login": baseline.LastLogin.Format(time.RFC3339),
		"updated_at": baseline.UpdatedAt.Format(time.RFC3339),
	})
}

// -----------------------------------------------------------------------------
// Health & info
// -----------------------------------------------------------------------------

// HealthResponse is the payload of GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, reports := s.healthReg.Run(ctx)

	checks := make(map[string]string)
	for _, rep := range reports {
		if rep.OK {
			checks[rep.Name] = "healthy"
		} else {
			checks[rep.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Gatewarden",
		"description": "Adaptive risk decisions and escalation for authentication events",
		"version":     version,
		"maxRounds":   s.cfg.MaxRounds,
	})
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
