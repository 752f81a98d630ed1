package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"moff.io/walletconnect-sign/internal/audit"
	"moff.io/walletconnect-sign/internal/aws"
	"moff.io/walletconnect-sign/internal/cache"
	"moff.io/walletconnect-sign/internal/config"
	"moff.io/walletconnect-sign/internal/database"
	"moff.io/walletconnect-sign/internal/databus"
	"moff.io/walletconnect-sign/internal/kms"
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/internal/sign"
	"moff.io/walletconnect-sign/internal/storage"
	"moff.io/walletconnect-sign/internal/walletservice"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

// app holds everything a command builds from the configuration.
type app struct {
	conf   *config.Configuration
	redis  *redis.Client
	db     *gorm.DB
	aws    *aws.Clients
	bus    *databus.DataBus
	trace  *databus.TraceSink
	relay  *relay.Dispatcher
	client *sign.Client
	sinks  []audit.Sink

	// the trace sink only flushes once started
	started bool
}

func loadConfig(path string) (*config.Configuration, error) {
	conf, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	log.SetLevelName(conf.LogLevel)
	if err := errors.NewSentryReporter(conf.SentryDSN, version); err != nil {
		log.Warnf("sentry reporter:%v", err)
	}
	errors.NewLarkReporter(conf.LarkAlarmWebhook, conf.Metadata.Name, time.Minute)
	return conf, nil
}

func newApp(ctx context.Context, conf *config.Configuration) (a *app, err error) {
	a = &app{conf: conf}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if conf.Aws.Enabled() {
		if a.aws, err = aws.Init(ctx, conf.Aws.Region); err != nil {
			return nil, err
		}
	}
	kv, err := a.openStorage()
	if err != nil {
		return nil, err
	}

	projectID := conf.Relay.ProjectID
	if projectID == "" && conf.Relay.ProjectIDSSMParam != "" {
		if a.aws == nil {
			return nil, errors.New("project id in ssm needs aws.region")
		}
		if projectID, err = a.aws.ProjectID(ctx, conf.Relay.ProjectIDSSMParam); err != nil {
			return nil, err
		}
	}
	if projectID == "" {
		return nil, errors.New("relay project id not present")
	}
	identity, err := relay.LoadOrCreateIdentity(ctx, kv)
	if err != nil {
		return nil, err
	}
	keys := kms.New(kv)
	a.relay = relay.NewDispatcher(relay.Options{
		Transport:          relay.NewWebSocketTransport(conf.Relay.URL, projectID, identity, conf.Metadata.URL),
		Codec:              keys,
		AckTimeout:         conf.Relay.AckTimeout,
		ReconnectPerSecond: conf.Relay.ReconnectRate,
	})

	opts := sign.Options{
		Relay:          a.relay,
		KMS:            keys,
		Storage:        kv,
		Metadata:       conf.Metadata,
		WalletServices: walletservice.NewRequester(conf.WalletService.Timeout),
		SessionTTL:     conf.Session.DefaultTTL,
		MaxTTL:         conf.Session.MaxTTL,
	}
	if conf.KafkaServer != "" {
		if a.bus, err = databus.NewDataBus(conf.KafkaServer); err != nil {
			return nil, err
		}
		a.trace = databus.NewTraceSink(a.bus, conf.KafkaTopic, 0)
		opts.Trace = a.trace
	}
	if a.aws != nil && conf.Aws.ArchiveBucket != "" {
		opts.Archiver = aws.NewSessionArchiver(a.aws, conf.Aws.ArchiveBucket)
	}
	if a.client, err = sign.NewClient(opts); err != nil {
		return nil, err
	}

	if a.db != nil {
		a.sinks = append(a.sinks, database.NewLifecycleEvents(a.db))
	}
	if a.aws != nil && conf.Aws.EventsQueueURL != "" {
		a.sinks = append(a.sinks, aws.NewEventForwarder(a.aws, ""))
	}
	return a, nil
}

func (a *app) openStorage() (storage.KeyValueStore, error) {
	var err error
	switch a.conf.Storage.Driver {
	case config.StorageRedis:
		if a.redis, err = cache.Init(&a.conf.RedisCredential); err != nil {
			return nil, err
		}
		return storage.NewRedisStore(a.redis, a.conf.Storage.KeyPrefix), nil
	case config.StoragePostgres:
		if a.db, err = database.Init(a.conf.Postgres.Dsn()); err != nil {
			return nil, err
		}
		return storage.NewPostgresStore(a.db), nil
	default:
		log.Warn("using in-memory storage, pairings and sessions are lost on exit")
		return storage.NewMemoryStore(), nil
	}
}

// close releases what newApp opened; the sign client and relay are stopped
// by the caller.
func (a *app) close() {
	if a.trace != nil && a.started {
		select {
		case <-a.trace.Done():
		case <-time.After(5 * time.Second):
			log.Warn("trace sink did not flush in time")
		}
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			log.Warnf("close kafka producer:%v", err)
		}
	}
	if a.db != nil {
		database.Close(a.db)
	}
	cache.Close(a.redis)
}
