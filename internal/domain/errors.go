package domain

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrTransient          = errors.New("transient failure")
	ErrFatal              = errors.New("fatal failure")
	ErrStorage            = errors.New("storage unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrNoticeTokenInvalid = errors.New("notice token invalid")
	ErrTimestampSkew      = errors.New("timestamp skew exceeded")
	ErrOTPExpired         = errors.New("otp expired")
	ErrOTPLocked          = errors.New("otp locked")
	ErrOTPFormat          = errors.New("otp format invalid")
	ErrOTPMismatch        = errors.New("otp mismatch")
	ErrDuplicateWebhook   = errors.New("webhook url already registered")
	ErrVersionConflict    = errors.New("artifact version conflict")
)
