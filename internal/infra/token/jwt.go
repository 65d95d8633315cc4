// Package token decodes the signed notice tokens issued when a consent
// notice is presented to a data principal.
package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

type noticeClaims struct {
	DFID                   string `json:"df_id"`
	DPID                   string `json:"dp_id"`
	CPID                   string `json:"cp_id"`
	RequestID              string `json:"request_id"`
	IsVerificationRequired bool   `json:"is_verification_required"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	method string
}

func NewVerifier(secret, algorithm string) *Verifier {
	if algorithm == "" {
		algorithm = "HS256"
	}
	return &Verifier{secret: []byte(secret), method: algorithm}
}

// Decode validates the signature, algorithm and expiry, and returns the
// notice claims. Tokens without df/dp/cp/request identifiers are rejected
// even when the signature holds.
func (v *Verifier) Decode(raw string) (domain.NoticeClaims, error) {
	var claims noticeClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.method {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.method}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.NoticeClaims{}, fmt.Errorf("parse notice token: %w", err)
	}
	if claims.DFID == "" || claims.DPID == "" || claims.CPID == "" || claims.RequestID == "" {
		return domain.NoticeClaims{}, fmt.Errorf("notice token missing identifiers")
	}
	return domain.NoticeClaims{
		DFID:                   claims.DFID,
		DPID:                   claims.DPID,
		CPID:                   claims.CPID,
		RequestID:              claims.RequestID,
		IsVerificationRequired: claims.IsVerificationRequired,
	}, nil
}

// Issue signs a notice token, used by tests and by fiduciary tooling in
// development environments.
func (v *Verifier) Issue(claims domain.NoticeClaims, registered jwt.RegisteredClaims) (string, error) {
	method := jwt.GetSigningMethod(v.method)
	if method == nil {
		return "", fmt.Errorf("unknown signing method %s", v.method)
	}
	token := jwt.NewWithClaims(method, noticeClaims{
		DFID:                   claims.DFID,
		DPID:                   claims.DPID,
		CPID:                   claims.CPID,
		RequestID:              claims.RequestID,
		IsVerificationRequired: claims.IsVerificationRequired,
		RegisteredClaims:       registered,
	})
	return token.SignedString(v.secret)
}
