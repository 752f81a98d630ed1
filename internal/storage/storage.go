// Package storage defines the persistent key-value store the sign client
// keeps all protocol state in, and its backends.
package storage

import (
	"context"

	"moff.io/walletconnect-sign/pkg/errors"
)

// KeyValueStore is the only persistence capability the engine requires.
// Values are opaque bytes; Keys lists every key starting with prefix.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

var ErrUnknownDriver = errors.New("unknown storage driver")

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)
