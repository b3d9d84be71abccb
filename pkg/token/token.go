// Package token issues and verifies the HMAC-signed tokens embedded in
// subscriber emails: manage, cancel and portal links that grant
// one-click access without login.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long manage/cancel tokens stay valid.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrMalformed = errors.New("token malformed")
	ErrSignature = errors.New("token signature mismatch")
	ErrExpired   = errors.New("token expired")
)

// Signer mints and verifies tokens of the form
// base64url(subscriptionID:expiresUnix) + ":" + base64url(hmac-sha256).
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer over the platform session secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign issues a token for subscriptionID valid for ttl.
func (s *Signer) Sign(subscriptionID string, ttl time.Duration) string {
	expires := time.Now().UTC().Add(ttl).Unix()
	payload := fmt.Sprintf("%s:%d", subscriptionID, expires)
	sig := s.mac(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + ":" +
		base64.RawURLEncoding.EncodeToString(sig)
}

// Verify checks signature and expiry and returns the embedded
// subscription id. The id is UUID-validated after decode so a forged
// payload can never reach a repository lookup.
func (s *Signer) Verify(token string) (string, error) {
	idx := strings.LastIndex(token, ":")
	if idx <= 0 || idx == len(token)-1 {
		return "", ErrMalformed
	}
	payloadB64, sigB64 := token[:idx], token[idx+1:]

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return "", ErrMalformed
	}
	if !hmac.Equal(sig, s.mac(string(payloadBytes))) {
		return "", ErrSignature
	}

	parts := strings.Split(string(payloadBytes), ":")
	if len(parts) != 2 {
		return "", ErrMalformed
	}
	subscriptionID := parts[0]
	if _, err := uuid.Parse(subscriptionID); err != nil {
		return "", ErrMalformed
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrMalformed
	}
	if time.Now().UTC().Unix() > expires {
		return "", ErrExpired
	}
	return subscriptionID, nil
}

func (s *Signer) mac(payload string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
