package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v2"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

func (c *DBCredential) Dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s",
		c.Address, c.Port, c.User, c.Password, c.Database)
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

type Role string

const (
	RoleDapp   = Role("dapp")
	RoleWallet = Role("wallet")
)

type StorageDriver string

const (
	StorageMemory   = StorageDriver("memory")
	StorageRedis    = StorageDriver("redis")
	StoragePostgres = StorageDriver("postgres")
)

// Configuration struct
type Configuration struct {
	Relay            Relay             `yaml:"relay"`
	Metadata         store.AppMetadata `yaml:"metadata"`
	Role             Role              `yaml:"role"`
	Storage          Storage           `yaml:"storage"`
	RedisCredential  DBCredential      `yaml:"redis"`
	Postgres         DBCredential      `yaml:"postgres"`
	KafkaServer      string            `yaml:"kafka_server"`
	KafkaTopic       string            `yaml:"kafka_topic"`
	Aws              Aws               `yaml:"aws"`
	WalletService    WalletService     `yaml:"wallet_service"`
	HTTP             HTTP              `yaml:"http"`
	SentryDSN        string            `yaml:"sentry_dsn"`
	LarkAlarmWebhook string            `yaml:"lark_alarm_webhook"`
	LogLevel         string            `yaml:"log_level"`
	Session          Session           `yaml:"session"`
}

type Relay struct {
	URL string `yaml:"url"`
	// ProjectID wins over ProjectIDSSMParam when both are set.
	ProjectID         string        `yaml:"project_id"`
	ProjectIDSSMParam string        `yaml:"project_id_ssm_param"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	ReconnectRate     int           `yaml:"reconnect_rate"`
}

type Storage struct {
	Driver    StorageDriver `yaml:"driver"`
	KeyPrefix string        `yaml:"key_prefix"`
}

type Aws struct {
	Region         string `yaml:"region"`
	ArchiveBucket  string `yaml:"archive_bucket"`
	EventsQueueURL string `yaml:"events_queue_url"`
}

func (a Aws) Enabled() bool {
	return a.Region != ""
}

type WalletService struct {
	Timeout time.Duration `yaml:"timeout"`
}

type HTTP struct {
	Listen        string `yaml:"listen"`
	RatePerSecond int    `yaml:"rate_per_second"`
}

type Session struct {
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	MaxTTL        time.Duration `yaml:"max_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Default returns a configuration good for a local dapp with in-memory
// storage.
func Default() Configuration {
	return Configuration{
		Relay: Relay{
			URL:           "wss://relay.walletconnect.org",
			AckTimeout:    10 * time.Second,
			ReconnectRate: 1,
		},
		Metadata: store.AppMetadata{
			Name:        "wc-sign",
			Description: "WalletConnect sign client",
			URL:         "https://walletconnect.com",
			Icons:       []string{},
		},
		Role:          RoleDapp,
		Storage:       Storage{Driver: StorageMemory, KeyPrefix: "wc"},
		KafkaTopic:    "wc_sign_trace",
		WalletService: WalletService{Timeout: 30 * time.Second},
		HTTP:          HTTP{Listen: ":8080", RatePerSecond: 20},
		LogLevel:      "info",
		Session: Session{
			DefaultTTL:    7 * 24 * time.Hour,
			MaxTTL:        30 * 24 * time.Hour,
			SweepInterval: time.Minute,
		},
	}
}

func (c *Configuration) validate() error {
	switch c.Role {
	case RoleDapp, RoleWallet:
	default:
		return errors.Errorf("unknown role %q", c.Role)
	}
	switch c.Storage.Driver {
	case StorageMemory, StorageRedis, StoragePostgres:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Relay.URL == "" {
		return errors.New("relay url is required")
	}
	return c.Metadata.Validate()
}

func parse(data []byte) (Configuration, error) {
	t := Default()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Configuration{}, errors.Wrap(err, "decode config")
	}
	if err := t.validate(); err != nil {
		return Configuration{}, err
	}
	return t, nil
}

func readConfig(path string) (Configuration, error) {
	log.Info("Starting to load configuration file ...")
	dat, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return Configuration{}, errors.Errorf("file %s does not exist", path)
	}
	if err != nil {
		return Configuration{}, errors.Wrapf(err, "read config %s", path)
	}
	return parse(dat)
}

var Global *Configuration

// Read reads configuration information from yml into Global. An empty path
// keeps the defaults.
func Read(path string) (*Configuration, error) {
	var (
		conf Configuration
		err  error
	)
	if path == "" {
		conf = Default()
	} else {
		log.Infof("Loading configuration file from %s", path)
		if conf, err = readConfig(path); err != nil {
			return nil, err
		}
	}
	Global = &conf
	return Global, nil
}
