package pkg

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-pg/pg"
	"github.com/pkg/errors"

	"github.com/octavobooks/messaging/config"
)

// ConnectDB dials postgres and verifies the connection with a bounded
// exponential backoff. A store that never comes up is the one failure that
// is allowed to be fatal to the process.
func ConnectDB(cfg *config.Config) (*pg.DB, error) {
	db := pg.Connect(&pg.Options{
		Addr:     cfg.Addr(),
		User:     cfg.User,
		Password: cfg.Pass,
		Database: cfg.Name,
	})

	ping := func() error {
		_, err := db.Exec("SELECT 1")
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(ping, bo); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	return db, nil
}

// CreateSchema bootstraps the pipeline tables. Raw DDL rather than ORM table
// creation: the pending-only partial index and the dedup primary key are the
// parts that matter and must be stated exactly.
func CreateSchema(db *pg.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS outbox_events (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sent_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending
			ON outbox_events (id)
			WHERE status = 'PENDING'`,
		`CREATE TABLE IF NOT EXISTS processed_messages (
			message_id VARCHAR(255) PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS authors (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "creating schema")
		}
	}
	return nil
}
