package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/walletconnect-sign/internal/config"
	"moff.io/walletconnect-sign/pkg/common"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

// Init connects to redis and pings it once.
func Init(cred *config.DBCredential) (*redis.Client, error) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	client := redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Password: cred.Password,
		DB:       int(db),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping to redis")
	}
	log.Infof("Redis connected at %v...", cred.GetRedisAddress())
	return client, nil
}

func Close(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Warnf("close redis:%v", err)
	}
}

const rateKeyPrefix = "wc:rate:"

// Limiter 基于redis的令牌桶限流，多实例共享配额
type Limiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewLimiter allows perSecond requests per key, with a burst of the same size.
func NewLimiter(client redis.UniversalClient, perSecond int) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Limiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.PerSecond(perSecond),
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.limiter.Allow(ctx, rateKeyPrefix+common.TrimIP(key), l.limit)
	if err != nil {
		return false, errors.Wrap(err, "rate limit")
	}
	return res.Allowed > 0, nil
}
