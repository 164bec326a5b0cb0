// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package webhook verifies and decodes inbound media-server events. The
// scheme is an HMAC-SHA256 hexdigest over the raw request body with the
// shared API secret; no timestamp is involved, replay suppression comes
// from the idempotent teardown path behind it.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/rs/zerolog"
)

// Header carries the hexdigest on inbound requests.
const Header = "X-LiveKit-Signature"

var (
	ErrMissingSignature = errors.New("webhook signature missing")
	ErrBadSignature     = errors.New("webhook signature mismatch")
)

// Signature computes the hexdigest for body under secret.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks inbound signatures. allowUnsigned accepts requests with
// no signature header at all; that is a development convenience and must
// stay off in production.
type Verifier struct {
	secret        string
	allowUnsigned bool
	logger        zerolog.Logger
}

func NewVerifier(secret string, allowUnsigned bool, logger zerolog.Logger) *Verifier {
	return &Verifier{secret: secret, allowUnsigned: allowUnsigned, logger: logger}
}

// Verify returns nil when the signature matches the body. A forged
// signature and a wrong secret produce the same error.
func (v *Verifier) Verify(body []byte, signature string) error {
	if signature == "" {
		if v.allowUnsigned {
			v.logger.Warn().Msg("accepting unsigned webhook, unsigned delivery is enabled")
			return nil
		}
		return ErrMissingSignature
	}
	expected := Signature(v.secret, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}
