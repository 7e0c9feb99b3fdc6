package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AutonomosCdM/vigia-sub003/pkg/audit"
	"github.com/AutonomosCdM/vigia-sub003/pkg/tokenization"
)

// Server is the orchestrator's HTTP API: the Tokenization API, an
// admin/audit query API over pkg/audit, and a health endpoint.
type Server struct {
	cfg      Config
	router   *gin.Engine
	tokens   TokenizationService
	auditLog AuditService
	checks   []HealthCheck
}

// New constructs a Server and registers its routes. webhooks, when
// non-nil, mounts the inbound transport route on the same router so the
// orchestrator runs one HTTP listener.
func New(cfg Config, auth Authenticator, tokens TokenizationService, auditLog AuditService, checks []HealthCheck, webhooks func(r gin.IRouter)) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery(), gin.Logger(), securityHeaders())

	s := &Server{cfg: cfg, router: router, tokens: tokens, auditLog: auditLog, checks: checks}

	router.GET("/health", s.health)

	if webhooks != nil {
		webhooks(router)
	}

	tokenAPI := router.Group("/tokens", bearerAuth(auth))
	tokenAPI.POST("", s.requestToken)
	tokenAPI.GET("/:token_id", s.resolveToken)
	tokenAPI.DELETE("/:token_id", s.revokeToken)
	tokenAPI.GET("/:token_id/bridge", s.bridgeLookup)
	tokenAPI.POST("/:token_id/source", s.bindSource)

	auditAPI := router.Group("/audit", bearerAuth(auth))
	auditAPI.GET("/by-token/:token_id", s.auditByToken)
	auditAPI.GET("/by-time-range", s.auditByTimeRange)

	return s
}

// Handler returns the underlying gin engine, for callers that drive their
// own http.Server (graceful shutdown, TLS, ...).
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	results := gin.H{}
	healthy := true
	for _, check := range s.checks {
		status, err := check.Check(ctx)
		results[check.Name] = status
		if err != nil {
			healthy = false
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "stores": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "stores": results})
}

type requestTokenBody struct {
	MRN              string `json:"mrn" binding:"required"`
	RequestingSystem string `json:"requesting_system" binding:"required"`
	TTLSeconds       int64  `json:"ttl_seconds"`
}

func (s *Server) requestToken(c *gin.Context) {
	var body requestTokenBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	caller := toTokenizationCaller(callerFrom(c))
	ttl := time.Duration(body.TTLSeconds) * time.Second
	result, err := s.tokens.RequestToken(ctx, caller, body.MRN, body.RequestingSystem, ttl)
	if err != nil {
		c.JSON(statusForTokenizationErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token_id":    result.TokenID,
		"token_alias": result.TokenAlias,
		"expires_at":  result.ExpiresAt,
	})
}

func (s *Server) resolveToken(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	caller := toTokenizationCaller(callerFrom(c))
	proj, err := s.tokens.ResolveToken(ctx, caller, c.Param("token_id"))
	if err != nil {
		c.JSON(statusForTokenizationErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"age_range":       proj.AgeRange,
		"gender_category": proj.GenderCategory,
		"risk_factors":    proj.RiskFactors,
	})
}

type revokeTokenBody struct {
	Reason string `json:"reason"`
}

func (s *Server) revokeToken(c *gin.Context) {
	var body revokeTokenBody
	_ = c.ShouldBindJSON(&body)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	caller := toTokenizationCaller(callerFrom(c))
	if err := s.tokens.RevokeToken(ctx, caller, c.Param("token_id"), body.Reason); err != nil {
		c.JSON(statusForTokenizationErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (s *Server) bridgeLookup(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	caller := toTokenizationCaller(callerFrom(c))
	mrn, err := s.tokens.BridgeLookup(ctx, caller, c.Param("token_id"))
	if err != nil {
		c.JSON(statusForTokenizationErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mrn": mrn})
}

type bindSourceBody struct {
	SourceID string `json:"source_id" binding:"required"`
}

// bindSource associates a transport sender handle with an already-issued
// token, so the Dispatcher can later resolve inbound traffic from that
// sender without itself ever touching hospital identity.
func (s *Server) bindSource(c *gin.Context) {
	var body bindSourceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	caller := toTokenizationCaller(callerFrom(c))
	if err := s.tokens.BindSource(ctx, caller, body.SourceID, c.Param("token_id")); err != nil {
		c.JSON(statusForTokenizationErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "bound"})
}

func (s *Server) auditByToken(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	caller := toAuditCaller(callerFrom(c))
	entries, err := s.auditLog.ByTokenID(ctx, caller, c.Param("token_id"))
	if err != nil {
		c.JSON(statusForAuditErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) auditByTimeRange(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' timestamp"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' timestamp"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	caller := toAuditCaller(callerFrom(c))
	entries, err := s.auditLog.ByTimeRange(ctx, caller, from, to)
	if err != nil {
		c.JSON(statusForAuditErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func toTokenizationCaller(c Caller) tokenization.Caller {
	roles := make([]tokenization.Role, 0, len(c.Roles))
	for _, r := range c.Roles {
		roles = append(roles, tokenization.Role(r))
	}
	return tokenization.Caller{ActorID: c.ActorID, Roles: roles}
}

func toAuditCaller(c Caller) audit.Caller {
	roles := make([]audit.Role, 0, len(c.Roles))
	for _, r := range c.Roles {
		roles = append(roles, audit.Role(r))
	}
	return audit.Caller{ActorID: c.ActorID, Roles: roles}
}

func statusForTokenizationErr(err error) int {
	switch {
	case errors.Is(err, tokenization.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tokenization.ErrMRNNotFound), errors.Is(err, tokenization.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, tokenization.ErrExpired):
		return http.StatusGone
	default:
		return http.StatusBadGateway
	}
}

func statusForAuditErr(err error) int {
	if errors.Is(err, audit.ErrForbidden) {
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}
