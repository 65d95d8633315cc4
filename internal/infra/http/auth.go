package http

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	cryptoinfra "github.com/gawravmehta/sahaj-os-sub001/internal/infra/crypto"
)

const (
	headerDFSignature = "X-DF-Signature"
	headerAPIKey      = "X-API-Key"
	headerAPISecret   = "X-API-Secret"
	headerAdminKey    = "X-Admin-Key"
)

// requireDFSignature authenticates fiduciary callbacks. X-DF-Signature is
// hex(HMAC-SHA256(secret, canonical_json(body))), so an equivalent body with
// reordered keys still verifies. The body's `timestamp` field must be within
// the configured skew. A bad signature is a 401, a stale timestamp a 400.
func (s *Server) requireDFSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.DFSignatureSecret == "" {
			writeErrorCode(c, http.StatusInternalServerError, "CONFIG", "callback secret not configured")
			c.Abort()
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "unreadable body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ok, err := cryptoinfra.VerifyPayload(s.cfg.DFSignatureSecret, json.RawMessage(body), c.GetHeader(headerDFSignature))
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "body is not valid json")
			c.Abort()
			return
		}
		if !ok {
			writeErrorCode(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
			c.Abort()
			return
		}

		var envelope struct {
			Timestamp string `json:"timestamp"`
		}
		_ = json.Unmarshal(body, &envelope)
		ts, err := time.Parse(time.RFC3339, envelope.Timestamp)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_TIMESTAMP", "missing or unparseable timestamp")
			c.Abort()
			return
		}
		skew := time.Since(ts)
		if skew < 0 {
			skew = -skew
		}
		if skew > s.cfg.DFCallbackSkew {
			writeErrorCode(c, http.StatusBadRequest, "TIMESTAMP_SKEW", "timestamp outside accepted window")
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireAPICredentials guards the external verification surface with the
// issued key/secret pair.
func (s *Server) requireAPICredentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" || s.cfg.APISecret == "" {
			writeErrorCode(c, http.StatusInternalServerError, "CONFIG", "api credentials not configured")
			c.Abort()
			return
		}
		key := strings.TrimSpace(c.GetHeader(headerAPIKey))
		secret := strings.TrimSpace(c.GetHeader(headerAPISecret))
		keyOK := subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) == 1
		secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.APISecret)) == 1
		if !keyOK || !secretOK {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api credentials")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminAPIKey == "" {
			writeErrorCode(c, http.StatusInternalServerError, "CONFIG", "admin key not configured")
			c.Abort()
			return
		}
		key := strings.TrimSpace(c.GetHeader(headerAdminKey))
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.AdminAPIKey)) != 1 {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// rateLimit applies a fixed-window limit per client IP. No limiter or a zero
// limit disables it; limiter failures fail open.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil || s.rateLimitReqs <= 0 {
			c.Next()
			return
		}
		decision, err := s.rateLimiter.Allow(c.Request.Context(), c.ClientIP(), s.rateLimitReqs, s.rateLimitWindow)
		if err != nil {
			c.Next()
			return
		}
		if !decision.Allowed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
