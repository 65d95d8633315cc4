package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// Signer signs audit record hashes with an ECDSA P-256 key. The key id is
// recorded alongside every signature so chains survive key rotation.
type Signer struct {
	key   *ecdsa.PrivateKey
	keyID string
}

func NewSigner(key *ecdsa.PrivateKey, keyID string) (*Signer, error) {
	if key == nil {
		return nil, errors.New("signing key required")
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("signing key must be P-256")
	}
	if keyID == "" {
		return nil, errors.New("key id required")
	}
	return &Signer{key: key, keyID: keyID}, nil
}

// LoadSignerFromPEM parses a PKCS#8 or SEC1 encoded ECDSA private key.
func LoadSignerFromPEM(pemData, keyID string) (*Signer, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block in signing key")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return NewSigner(key, keyID)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing key is not ECDSA")
	}
	return NewSigner(key, keyID)
}

// GenerateSigner creates an ephemeral P-256 signer. Used by tests and by
// dev-mode startup when no key is configured.
func GenerateSigner(keyID string) (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, keyID)
}

func (s *Signer) KeyID() string { return s.keyID }

func (s *Signer) Public() *ecdsa.PublicKey { return &s.key.PublicKey }

// Sign signs the SHA-256 digest of msg and returns an ASN.1 signature.
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return ecdsa.SignASN1(rand.Reader, s.key, digest[:])
}

// VerifySignature checks a signature against the signer's own public key,
// for chain reads served by the signing process.
func (s *Signer) VerifySignature(msg, sig []byte) bool {
	return Verify(&s.key.PublicKey, msg, sig)
}

// Verify checks an ASN.1 signature over the SHA-256 digest of msg.
func Verify(pub *ecdsa.PublicKey, msg, sig []byte) bool {
	if pub == nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
