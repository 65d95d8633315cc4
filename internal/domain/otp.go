package domain

import "fmt"

// SessionKey identifies one OTP/verification session.
type SessionKey struct {
	DFID      string
	DPID      string
	RequestID string
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.DFID, k.DPID, k.RequestID)
}

// OTPSession is the ephemeral verification state held in the session store.
type OTPSession struct {
	OTP      string `json:"otp"`
	Attempts int    `json:"attempts"`
	Locked   bool   `json:"locked"`
}

// NoticeClaims are the claims carried by the signed notice token.
type NoticeClaims struct {
	DFID                   string `json:"df_id"`
	DPID                   string `json:"dp_id"`
	CPID                   string `json:"cp_id"`
	RequestID              string `json:"request_id"`
	IsVerificationRequired bool   `json:"is_verification_required"`
}
