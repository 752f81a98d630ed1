package common

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"moff.io/walletconnect-sign/pkg/log"
)

// NewCutUUIDString returns uuid string that cut `-`.
func NewCutUUIDString() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// SHA256HexString returns the hex string that encoded from SHA256 hash of source text.
func SHA256HexString(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// MustGetJSONString 序列化失败时返回空对象，仅用于日志
func MustGetJSONString(m interface{}) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		log.Error(err)
		return "{}"
	}
	return string(data)
}

// UnixSeconds returns t as unix seconds; a zero t yields 0.
func UnixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// TrimIP strips the port part of host:port.
func TrimIP(ip string) string {
	last := strings.LastIndex(ip, ":")
	if last != -1 && !strings.HasSuffix(ip, "]") && strings.Count(ip, ":") == 1 {
		ip = ip[0:last]
	}
	return ip
}
