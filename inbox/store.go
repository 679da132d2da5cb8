package inbox

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/pkg/errors"

	"github.com/octavobooks/messaging/model"
)

// ErrAlreadyProcessed reports that a dedup record for the message id exists.
// Callers treat it as "skip and acknowledge", never as a failure.
var ErrAlreadyProcessed = errors.New("message already processed")

// DedupStore is the durable set of message ids whose effect has been applied.
type DedupStore interface {
	// Seen is the fast-path lookup before applying an effect.
	Seen(ctx context.Context, messageID string) (bool, error)

	// Record inserts the dedup row for messageID. The unique constraint on
	// the id is the real serialization point: a concurrent duplicate surfaces
	// as ErrAlreadyProcessed.
	Record(ctx context.Context, messageID string, processedAt time.Time) error

	// Prune deletes records older than the cutoff. Shrinking the table also
	// shrinks the dedup horizon, so this is operator-driven only.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// PgDedupStore is the postgres-backed DedupStore.
type PgDedupStore struct {
	db *pg.DB
}

func NewStore(db *pg.DB) *PgDedupStore {
	return &PgDedupStore{db: db}
}

func (s *PgDedupStore) Seen(ctx context.Context, messageID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	count, err := s.db.Model(&model.ProcessedMessage{}).
		Where("message_id = ?", messageID).
		Count()
	if err != nil {
		return false, errors.Wrap(err, "looking up processed message")
	}
	return count > 0, nil
}

func (s *PgDedupStore) Record(ctx context.Context, messageID string, processedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pm := &model.ProcessedMessage{
		MessageID:   messageID,
		ProcessedAt: processedAt,
	}
	if err := s.db.Insert(pm); err != nil {
		if pgErr, ok := err.(pg.Error); ok && pgErr.IntegrityViolation() {
			return ErrAlreadyProcessed
		}
		return errors.Wrap(err, "recording processed message")
	}
	return nil
}

func (s *PgDedupStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.Model(&model.ProcessedMessage{}).
		Where("processed_at < ?", cutoff).
		Delete()
	if err != nil {
		return 0, errors.Wrap(err, "pruning processed messages")
	}
	return res.RowsAffected(), nil
}
