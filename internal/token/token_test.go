// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jwtClaims struct {
	Iss   string `json:"iss"`
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Exp   int64  `json:"exp"`
	Video struct {
		Room           string `json:"room"`
		RoomJoin       bool   `json:"roomJoin"`
		CanPublish     *bool  `json:"canPublish"`
		CanSubscribe   *bool  `json:"canSubscribe"`
		CanPublishData *bool  `json:"canPublishData"`
	} `json:"video"`
}

func decodeClaims(t *testing.T, jwt string) jwtClaims {
	t.Helper()
	parts := strings.Split(jwt, ".")
	require.Len(t, parts, 3, "a JWT has three segments")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims jwtClaims
	require.NoError(t, json.Unmarshal(payload, &claims))
	return claims
}

func TestRoomJoinClaims(t *testing.T) {
	iss := NewIssuer("api_key", "api_secret_with_enough_length", time.Hour)

	jwt, err := iss.RoomJoin("session_1724500000000_abc123xyz", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, jwt)

	claims := decodeClaims(t, jwt)
	assert.Equal(t, "api_key", claims.Iss)
	assert.Equal(t, "alice", claims.Sub)
	assert.Equal(t, "alice", claims.Name)
	assert.Equal(t, "session_1724500000000_abc123xyz", claims.Video.Room)
	assert.True(t, claims.Video.RoomJoin)
	require.NotNil(t, claims.Video.CanPublish)
	assert.True(t, *claims.Video.CanPublish)
	require.NotNil(t, claims.Video.CanSubscribe)
	assert.True(t, *claims.Video.CanSubscribe)
	require.NotNil(t, claims.Video.CanPublishData)
	assert.True(t, *claims.Video.CanPublishData)

	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), claims.Exp, 120,
		"expiry should sit one TTL out")
}

func TestRoomJoinGeneratesIdentity(t *testing.T) {
	iss := NewIssuer("api_key", "api_secret_with_enough_length", time.Hour)

	jwt, err := iss.RoomJoin("session_1_a", "")
	require.NoError(t, err)

	claims := decodeClaims(t, jwt)
	assert.True(t, strings.HasPrefix(claims.Sub, "user_"), "got identity %q", claims.Sub)
}

func TestZeroTTLFallsBackToDefault(t *testing.T) {
	iss := NewIssuer("api_key", "api_secret_with_enough_length", 0)

	jwt, err := iss.RoomJoin("session_1_a", "alice")
	require.NoError(t, err)

	claims := decodeClaims(t, jwt)
	assert.InDelta(t, time.Now().Add(2*time.Hour).Unix(), claims.Exp, 120)
}
