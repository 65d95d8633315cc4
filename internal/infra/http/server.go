// Package http exposes the consent platform's external surface: consent
// submission and OTP verification, fiduciary callbacks, verification APIs,
// the audit read API and webhook administration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gawravmehta/sahaj-os-sub001/internal/config"
	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	submit    *usecase.SubmitConsent
	otp       *usecase.OTPService
	callbacks *usecase.DFCallbacks
	verifier  *usecase.ConsentVerifier
	bulk      *usecase.BulkVerifier
	audit     *usecase.AuditLog
	webhooks  *usecase.WebhookManager
	tokens    usecase.NoticeTokenVerifier
	sessions  usecase.SessionStore

	rateLimiter     domain.RateLimiter
	rateLimitReqs   int
	rateLimitWindow time.Duration
}

type ServerDeps struct {
	Submit    *usecase.SubmitConsent
	OTP       *usecase.OTPService
	Callbacks *usecase.DFCallbacks
	Verifier  *usecase.ConsentVerifier
	Bulk      *usecase.BulkVerifier
	Audit     *usecase.AuditLog
	Webhooks  *usecase.WebhookManager
	Tokens    usecase.NoticeTokenVerifier
	Sessions  usecase.SessionStore

	RateLimiter domain.RateLimiter
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:           cfg,
		r:             r,
		submit:        deps.Submit,
		otp:           deps.OTP,
		callbacks:     deps.Callbacks,
		verifier:      deps.Verifier,
		bulk:          deps.Bulk,
		audit:         deps.Audit,
		webhooks:      deps.Webhooks,
		tokens:        deps.Tokens,
		sessions:      deps.Sessions,
		rateLimiter:   deps.RateLimiter,
		rateLimitReqs: cfg.RateLimitRequests,
	}
	if cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(cfg.RateLimitWindowSeconds) * time.Second
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.r.Group("/v1", s.rateLimit())
	{
		v1.POST("/submit-consent", s.handleSubmitConsent)
		v1.POST("/verify-otp", s.handleVerifyOTP)
		v1.POST("/resend-otp", s.handleResendOTP)

		signed := v1.Group("", s.requireDFSignature())
		signed.POST("/dp-verification-ack", s.handleDPVerificationAck)
		signed.POST("/consent-ack", s.handleConsentAck)

		external := v1.Group("", s.requireAPICredentials())
		external.POST("/verify-consent-external", s.handleVerifyConsent)
		external.POST("/verify-consent-external-bulk-api", s.handleBulkVerifyBatch)
		external.POST("/verify-consent-bulk-file", s.handleBulkVerifyFile)
		external.GET("/bulk-batches/:batch_id", s.handleGetBatch)

		v1.GET("/audit/:df_id/:dp_id", s.handleAuditChain)

		admin := v1.Group("/webhooks", s.requireAdminKey())
		admin.POST("", s.handleCreateWebhook)
		admin.GET("", s.handleListWebhooks)
		admin.POST("/:webhook_id/activate", s.handleActivateWebhook)
		admin.POST("/:webhook_id/deactivate", s.handleDeactivateWebhook)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.r
}
