package config

import (
	"os"
	"time"

	env "github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config carries everything the pipeline needs at startup. All knobs are
// read from MSG_-prefixed environment variables, with an optional .env file.
type Config struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"domain-events"`
	Topics  []string `env:"KAFKA_TOPICS" envSeparator:","`
	GroupID string   `env:"KAFKA_GROUP_ID" envDefault:"outbox-subscriber"`

	Sasl        bool   `env:"KAFKA_SASL" envDefault:"false"`
	KfkUsername string `env:"KAFKA_USERNAME"`
	KfkPassword string `env:"KAFKA_PASSWORD"`

	Host string `env:"PG_HOST" envDefault:"localhost"`
	Port string `env:"PG_PORT" envDefault:"5432"`
	User string `env:"PG_USER" envDefault:"postgres"`
	Pass string `env:"PG_PASSWORD"`
	Name string `env:"PG_DATABASE" envDefault:"postgres"`

	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"100"`
	WorkerCount  int           `env:"WORKER_COUNT" envDefault:"1"`

	// Retention prunes SENT outbox rows older than this window once per
	// publisher cycle. Zero keeps them forever.
	Retention time.Duration `env:"OUTBOX_RETENTION" envDefault:"0"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "MSG_"}); err != nil {
		return nil, err
	}

	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{cfg.Topic}
	}
	return cfg, nil
}

// Addr is the host:port the postgres client dials.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
