package config

import (
	"fmt"
	"strings"
	"time"
)

type DB struct {
	Url         string `envconfig:"URL"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`
}

type Redis struct {
	URL          string        `envconfig:"URL" default:"redis://localhost:6379/0"`
	KeyPrefix    string        `envconfig:"KEY_PREFIX" default:""`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

type RateLimit struct {
	MaxRequests int           `envconfig:"MAX_REQUESTS" default:"100"`
	Window      time.Duration `envconfig:"WINDOW" default:"1m"`
}

// EventBus selects where decision events go. An empty driver means an
// in-process asynchronous bus.
type EventBus struct {
	Driver            string `envconfig:"DRIVER" default:""`
	RedisURL          string `envconfig:"REDIS_URL"`
	StreamMaxLen      int64  `envconfig:"STREAM_MAXLEN" default:"10000"`
	BufferSize        int    `envconfig:"BUFFER_SIZE" default:"256"`
	KafkaBrokers      string `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID      string `envconfig:"KAFKA_GROUP_ID" default:"coopcredit"`
	KafkaTopicPrefix  string `envconfig:"KAFKA_TOPIC_PREFIX" default:"coopcredit.events"`
	KafkaSASLUsername string `envconfig:"KAFKA_SASL_USERNAME"`
	KafkaSASLPassword string `envconfig:"KAFKA_SASL_PASSWORD"`
}

// Policy configures the withdrawal engine.
type Policy struct {
	Timezone           string        `envconfig:"TIMEZONE" default:"Africa/Kinshasa"`
	LockTimeout        time.Duration `envconfig:"LOCK_TIMEOUT" default:"2s"`
	ParametersFile     string        `envconfig:"PARAMETERS_FILE"`
	ParametersRedisKey string        `envconfig:"PARAMETERS_REDIS_KEY" default:"parametres:retraits"`
	ReloadSchedule     string        `envconfig:"RELOAD_SCHEDULE" default:"@every 30s"`
	Aggregator         string        `envconfig:"AGGREGATOR" default:"memory"`
	AggregatorPrefix   string        `envconfig:"AGGREGATOR_PREFIX" default:"retraits:jour:"`
	DecisionPrefix     string        `envconfig:"DECISION_PREFIX" default:"retraits:decisions:"`
	RetentionDays      int           `envconfig:"RETENTION_DAYS" default:"7"`
	PurgeSchedule      string        `envconfig:"PURGE_SCHEDULE" default:"@daily"`
}

// Location loads the cooperative timezone.
func (p *Policy) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid POLICY_TIMEZONE %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// Retention is the age after which daily aggregates and remembered decisions
// are purged.
func (p *Policy) Retention() time.Duration {
	days := p.RetentionDays
	if days < 1 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

type Log struct {
	Level      int    `envconfig:"LEVEL" default:"0"`
	Format     string `envconfig:"FORMAT" default:"json"`
	TimeFormat string `envconfig:"TIME_FORMAT" default:"2006-01-02 15:04:05"`
	Prefix     string `envconfig:"PREFIX" default:"[coopcredit]"`
}

type Server struct {
	Scheme string `envconfig:"SCHEME" default:"http"`
	Host   string `envconfig:"HOST" default:"localhost"`
	Port   int    `envconfig:"PORT" default:"3000"`
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type App struct {
	Env       string     `envconfig:"APP_ENV" default:"development"`
	Server    *Server    `envconfig:"SERVER"`
	Log       *Log       `envconfig:"LOG"`
	DB        *DB        `envconfig:"DATABASE"`
	Redis     *Redis     `envconfig:"REDIS"`
	RateLimit *RateLimit `envconfig:"RATE_LIMIT"`
	EventBus  *EventBus  `envconfig:"EVENT_BUS"`
	Policy    *Policy    `envconfig:"POLICY"`
}

// IsDevelopment reports whether the app runs in development mode.
func (a *App) IsDevelopment() bool {
	return strings.EqualFold(a.Env, "development")
}
