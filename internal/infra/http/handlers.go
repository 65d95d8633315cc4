package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNoticeTokenInvalid):
		writeErrorCode(c, http.StatusUnauthorized, "INVALID_NOTICE_TOKEN", err.Error())
	case errors.Is(err, domain.ErrOTPLocked):
		writeErrorCode(c, http.StatusLocked, "OTP_LOCKED", "too many failed attempts")
	case errors.Is(err, domain.ErrOTPExpired):
		writeErrorCode(c, http.StatusBadRequest, "OTP_EXPIRED", "otp expired or never issued")
	case errors.Is(err, domain.ErrOTPMismatch), errors.Is(err, domain.ErrOTPFormat):
		writeErrorCode(c, http.StatusBadRequest, "OTP_INVALID", "otp did not match")
	case errors.Is(err, domain.ErrDuplicateWebhook):
		writeErrorCode(c, http.StatusConflict, "DUPLICATE_WEBHOOK", err.Error())
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrConflict):
		writeErrorCode(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	default:
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type submitConsentRequest struct {
	NoticeToken string                 `json:"notice_token"`
	Selected    []usecase.SelectedPair `json:"consent_scope"`
	Email       string                 `json:"email,omitempty"`
	Mobile      string                 `json:"mobile,omitempty"`
	Residency   string                 `json:"residency,omitempty"`
	DPSystemID  string                 `json:"dp_system_id,omitempty"`
}

func (s *Server) handleSubmitConsent(c *gin.Context) {
	var req submitConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.NoticeToken == "" {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "notice_token is required")
		return
	}
	headers := map[string]string{
		"User-Agent":      c.GetHeader("User-Agent"),
		"Accept-Language": c.GetHeader("Accept-Language"),
	}
	resp, err := s.submit.Execute(c.Request.Context(), usecase.SubmitConsentRequest{
		NoticeToken: req.NoticeToken,
		Selected:    req.Selected,
		IP:          c.ClientIP(),
		Headers:     headers,
		Email:       req.Email,
		Mobile:      req.Mobile,
		Residency:   req.Residency,
		DPSystemID:  req.DPSystemID,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleVerifyOTP(c *gin.Context) {
	rawToken := c.Query("token")
	otp := c.Query("otp")
	if rawToken == "" || otp == "" {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "token and otp are required")
		return
	}
	claims, err := s.tokens.Decode(rawToken)
	if err != nil {
		writeErrorCode(c, http.StatusUnauthorized, "INVALID_NOTICE_TOKEN", "invalid token")
		return
	}
	key := domain.SessionKey{DFID: claims.DFID, DPID: claims.DPID, RequestID: claims.RequestID}
	agreementID, err := s.otp.Verify(c.Request.Context(), key, otp)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verified":        true,
		"agreement_id":    agreementID,
		"redirection_url": s.cfg.RedirectionURL,
		"fallback_url":    s.cfg.FallbackURL,
	})
}

func (s *Server) handleResendOTP(c *gin.Context) {
	rawToken := c.Query("token")
	if rawToken == "" {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "token is required")
		return
	}
	claims, err := s.tokens.Decode(rawToken)
	if err != nil {
		writeErrorCode(c, http.StatusUnauthorized, "INVALID_NOTICE_TOKEN", "invalid token")
		return
	}
	key := domain.SessionKey{DFID: claims.DFID, DPID: claims.DPID, RequestID: claims.RequestID}
	// Only sessions with a submission in flight may request a resend.
	if _, err := s.sessions.GetPendingAgreement(c.Request.Context(), key); err != nil {
		writeDomainError(c, err)
		return
	}
	if _, err := s.otp.Issue(c.Request.Context(), key); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "otp_sent"})
}

func (s *Server) handleDPVerificationAck(c *gin.Context) {
	var ack usecase.DPVerificationAck
	if err := c.ShouldBindJSON(&ack); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	agreementID, err := s.callbacks.VerificationAck(c.Request.Context(), ack)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "agreement_id": agreementID})
}

func (s *Server) handleConsentAck(c *gin.Context) {
	var ack usecase.ConsentAck
	if err := c.ShouldBindJSON(&ack); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if err := s.callbacks.ConsentHaltAck(c.Request.Context(), ack); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (s *Server) handleVerifyConsent(c *gin.Context) {
	var req domain.VerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	result, err := s.verifier.Verify(c.Request.Context(), req, domain.VerificationExternal)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleBulkVerifyBatch(c *gin.Context) {
	var sub usecase.BulkSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	batchID, err := s.bulk.SubmitBatch(c.Request.Context(), sub)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "status": string(domain.BatchPending)})
}

func (s *Server) handleBulkVerifyFile(c *gin.Context) {
	dfID := c.Query("df_id")
	if dfID == "" {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "df_id is required")
		return
	}
	var data []byte
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_FILE", "unreadable upload")
			return
		}
		defer f.Close()
		if data, err = io.ReadAll(io.LimitReader(f, 32<<20)); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_FILE", "unreadable upload")
			return
		}
	} else {
		var rerr error
		if data, rerr = io.ReadAll(io.LimitReader(c.Request.Body, 32<<20)); rerr != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_FILE", "unreadable body")
			return
		}
	}
	batchID, err := s.bulk.SubmitFile(c.Request.Context(), dfID, data)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "status": string(domain.BatchPending)})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	batch, err := s.bulk.Batches.Get(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleAuditChain(c *gin.Context) {
	dfID := c.Param("df_id")
	dpID := c.Param("dp_id")
	records, err := s.audit.VerifyChain(c.Request.Context(), dpID, dfID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type createWebhookRequest struct {
	DFID             string              `json:"df_id"`
	DPRID            string              `json:"dpr_id,omitempty"`
	URL              string              `json:"url"`
	Environment      string              `json:"environment,omitempty"`
	SubscribedEvents []domain.EventType  `json:"subscribed_events"`
	WebhookFor       string              `json:"webhook_for,omitempty"`
	Auth             *domain.WebhookAuth `json:"auth,omitempty"`
	Activate         bool                `json:"activate,omitempty"`
}

func (s *Server) handleCreateWebhook(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	sub, err := s.webhooks.Register(c.Request.Context(), domain.WebhookSubscription{
		DFID:             req.DFID,
		DPRID:            req.DPRID,
		URL:              strings.TrimSpace(req.URL),
		Environment:      domain.WebhookEnvironment(req.Environment),
		SubscribedEvents: req.SubscribedEvents,
		WebhookFor:       domain.WebhookFor(req.WebhookFor),
		Auth:             req.Auth,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if req.Activate {
		if err := s.webhooks.Activate(c.Request.Context(), sub.WebhookID); err != nil {
			c.JSON(http.StatusCreated, gin.H{
				"webhook":          sub,
				"activation_error": err.Error(),
			})
			return
		}
		sub.Status = domain.SubscriptionActive
	}
	c.JSON(http.StatusCreated, gin.H{"webhook": sub})
}

func (s *Server) handleListWebhooks(c *gin.Context) {
	subs, err := s.webhooks.List(c.Request.Context(), c.Query("df_id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs})
}

func (s *Server) handleActivateWebhook(c *gin.Context) {
	if err := s.webhooks.Activate(c.Request.Context(), c.Param("webhook_id")); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(domain.SubscriptionActive)})
}

func (s *Server) handleDeactivateWebhook(c *gin.Context) {
	if err := s.webhooks.Deactivate(c.Request.Context(), c.Param("webhook_id")); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(domain.SubscriptionInactive)})
}
