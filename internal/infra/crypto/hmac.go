package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/gawravmehta/sahaj-os-sub001/internal/canonical"
)

// SignPayload computes hex(HMAC-SHA256(secret, canonical_json(payload))).
// Both ingress signature checks and egress webhook auth headers use this.
func SignPayload(secret string, payload any) (string, error) {
	body, err := canonical.JSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignBytes computes hex(HMAC-SHA256(secret, data)) over raw bytes, used for
// signed callbacks where the wire body must be covered exactly as received.
func SignBytes(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyBytes checks a raw-byte HMAC signature in constant time.
func VerifyBytes(secret string, data []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(SignBytes(secret, data))
	return hmac.Equal(want, got)
}

// VerifyPayload checks a hex HMAC signature in constant time.
func VerifyPayload(secret string, payload any, signature string) (bool, error) {
	expected, err := SignPayload(secret, payload)
	if err != nil {
		return false, err
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	want, _ := hex.DecodeString(expected)
	return hmac.Equal(want, got), nil
}
