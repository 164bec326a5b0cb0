// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package token mints LiveKit room-join credentials. The session id doubles
// as the room name, so a token is scoped to exactly one session.
package token

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/ManuGH/voxd/internal/metrics"
)

const defaultTTL = 2 * time.Hour

// Issuer holds the LiveKit key material. It is stateless and safe for
// concurrent use.
type Issuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Issuer{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

// RoomJoin returns a JWT granting identity full publish/subscribe access to
// the given room. An empty identity gets a generated one so the token is
// still valid for anonymous callers.
func (i *Issuer) RoomJoin(room, identity string) (string, error) {
	if identity == "" {
		identity = fmt.Sprintf("user_%d", time.Now().Unix())
	}

	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(true)

	at := auth.NewAccessToken(i.apiKey, i.apiSecret).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(i.ttl).
		SetVideoGrant(grant)

	jwt, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("mint room token: %w", err)
	}
	metrics.IncTokenIssued()
	return jwt, nil
}
