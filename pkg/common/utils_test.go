package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewCutUUIDString(t *testing.T) {
	id := NewCutUUIDString()
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
}

func TestMustGetJSONString(t *testing.T) {
	assert.Equal(t, "{}", MustGetJSONString(nil))
	assert.Equal(t, `{"a":1}`, MustGetJSONString(map[string]int{"a": 1}))
	assert.Equal(t, "{}", MustGetJSONString(make(chan int)))
}

func TestTrimIP(t *testing.T) {
	assert.Equal(t, "127.0.0.1", TrimIP("127.0.0.1:8080"))
	assert.Equal(t, "127.0.0.1", TrimIP("127.0.0.1"))
	assert.Equal(t, "::1", TrimIP("::1"))
}

func TestUnixSeconds(t *testing.T) {
	assert.Zero(t, UnixSeconds(time.Time{}))
	assert.Equal(t, int64(100), UnixSeconds(time.Unix(100, 0)))
}

func TestSHA256HexString(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", SHA256HexString(nil))
}
