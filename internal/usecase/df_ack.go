package usecase

import (
	"context"
	"fmt"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

// DPVerificationAck is the fiduciary callback confirming it verified the
// data principal out of band. It releases the pending agreement without an
// OTP round trip.
type DPVerificationAck struct {
	DFID      string `json:"df_id"`
	DPID      string `json:"dp_id"`
	RequestID string `json:"request_id"`
}

// ConsentAck is the fiduciary callback confirming that processing halted
// for a withdrawn or expired consent.
type ConsentAck struct {
	DFID        string         `json:"df_id"`
	DPID        string         `json:"dp_id"`
	AgreementID string         `json:"agreement_id"`
	EventType   string         `json:"event_type"`
	Details     map[string]any `json:"details,omitempty"`
}

// DFCallbacks handles the two signed fiduciary callbacks. Signature and
// timestamp-skew checks happen at the HTTP layer; here the payloads are
// already trusted.
type DFCallbacks struct {
	OTP           *OTPService
	Sessions      SessionStore
	Audit         *AuditLog
	Notifications *NotificationProjector
}

// VerificationAck marks the session verified and releases the pending
// agreement through the same indirection the OTP path uses.
func (c *DFCallbacks) VerificationAck(ctx context.Context, ack DPVerificationAck) (string, error) {
	if ack.DFID == "" || ack.DPID == "" || ack.RequestID == "" {
		return "", fmt.Errorf("%w: df_id, dp_id and request_id are required", domain.ErrValidation)
	}
	key := domain.SessionKey{DFID: ack.DFID, DPID: ack.DPID, RequestID: ack.RequestID}
	if err := c.Sessions.SetVerified(ctx, key, c.OTP.sessionTTL()); err != nil {
		return "", err
	}
	return c.OTP.ReleasePendingAgreement(ctx, key)
}

// ConsentHaltAck appends the acknowledgement to the audit chain and projects
// the halt notification for the data principal.
func (c *DFCallbacks) ConsentHaltAck(ctx context.Context, ack ConsentAck) error {
	if ack.DFID == "" || ack.DPID == "" || ack.AgreementID == "" {
		return fmt.Errorf("%w: df_id, dp_id and agreement_id are required", domain.ErrValidation)
	}
	event := map[string]any{
		"event":        string(domain.EventDFAcknowledged),
		"agreement_id": ack.AgreementID,
	}
	if ack.EventType != "" {
		event["acknowledged_for"] = ack.EventType
	}
	for k, v := range ack.Details {
		event[k] = v
	}
	if _, err := c.Audit.Append(ctx, ack.DPID, ack.DFID, event); err != nil {
		return err
	}
	return c.Notifications.OnDFAck(ctx, ack.DFID, ack.DPID, ack.AgreementID)
}
