package cache

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/internal/config"
)

// needs a live redis, e.g. WC_TEST_REDIS=127.0.0.1:6379
func testRedis(t *testing.T) *config.DBCredential {
	addr := os.Getenv("WC_TEST_REDIS")
	if addr == "" {
		t.Skip("WC_TEST_REDIS not set")
	}
	host, port := addr, "6379"
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host, port = addr[:i], addr[i+1:]
			break
		}
	}
	return &config.DBCredential{Address: host, Port: port, Database: "15"}
}

func TestLimiter(t *testing.T) {
	client, err := Init(testRedis(t))
	require.NoError(t, err)
	defer Close(client)

	key := "test-" + t.Name()
	require.NoError(t, client.Del(context.Background(), rateKeyPrefix+key).Err())

	l := NewLimiter(client, 2)
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInitUnreachable(t *testing.T) {
	_, err := Init(&config.DBCredential{Address: "127.0.0.1", Port: "1"})
	assert.Error(t, err)
}
