package relay

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/internal/storage"
)

func TestProtocolMethodTags(t *testing.T) {
	tests := []struct {
		method      string
		request     int
		response    int
		requestTTL  time.Duration
		responseTTL time.Duration
	}{
		{"wc_sessionPropose", 1100, 1101, 300 * time.Second, 300 * time.Second},
		{"wc_sessionSettle", 1102, 1103, 300 * time.Second, 300 * time.Second},
		{"wc_sessionUpdate", 1104, 1105, 86400 * time.Second, 86400 * time.Second},
		{"wc_sessionExtend", 1106, 1107, 86400 * time.Second, 86400 * time.Second},
		{"wc_sessionRequest", 1108, 1109, 300 * time.Second, 300 * time.Second},
		{"wc_sessionEvent", 1110, 1111, 300 * time.Second, 300 * time.Second},
		{"wc_sessionDelete", 1112, 1113, 86400 * time.Second, 86400 * time.Second},
		{"wc_sessionPing", 1114, 1115, 30 * time.Second, 30 * time.Second},
		{"wc_sessionAuthenticate", 1116, 1117, time.Hour, time.Hour},
		{"wc_pairingDelete", 1000, 1001, 86400 * time.Second, 86400 * time.Second},
		{"wc_pairingPing", 1002, 1003, 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		m, ok := LookupMethod(tt.method)
		require.True(t, ok, tt.method)
		assert.Equal(t, tt.request, m.Request.Tag, tt.method)
		assert.Equal(t, tt.response, m.Response.Tag, tt.method)
		assert.Equal(t, tt.requestTTL, m.Request.TTL, tt.method)
		assert.Equal(t, tt.responseTTL, m.Response.TTL, tt.method)
	}
	assert.Equal(t, 1120, SessionPropose.errorConfig().Tag)
	assert.Equal(t, 1118, SessionAuthenticate.errorConfig().Tag)
	assert.Equal(t, 1113, SessionDelete.errorConfig().Tag)
}

func TestRelayJWT(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	token, err := SignRelayJWT(priv, "wss://relay.walletconnect.org", time.Unix(1700000000, 0))
	require.NoError(t, err)

	iss, err := VerifyRelayJWT(token)
	require.NoError(t, err)
	assert.Equal(t, EncodeDIDKey(priv.Public().(ed25519.PublicKey)), iss)
	assert.Regexp(t, `^did:key:z6Mk`, iss)

	pub, err := DecodeDIDKey(iss)
	require.NoError(t, err)
	assert.Equal(t, priv.Public(), pub)

	_, err = VerifyRelayJWT(token[:len(token)-4] + "AAAA")
	assert.Error(t, err)
}

func TestLoadOrCreateIdentity(t *testing.T) {
	kv := storage.NewMemoryStore()
	first, err := LoadOrCreateIdentity(context.Background(), kv)
	require.NoError(t, err)
	again, err := LoadOrCreateIdentity(context.Background(), kv)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}
