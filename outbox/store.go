package outbox

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/pkg/errors"

	"github.com/octavobooks/messaging/model"
)

// Store drains pending events for the publisher.
type Store interface {
	// Drain claims up to batchSize PENDING events oldest-first and calls
	// publish for each one. Events published without error are marked SENT;
	// a failed event gets its attempts counter bumped and stays PENDING.
	// One failure never aborts the rest of the batch.
	Drain(ctx context.Context, batchSize int, publish func(model.OutboxEvent) error) (sent int, err error)

	// PruneSent deletes SENT rows older than the cutoff. PENDING rows are
	// never touched.
	PruneSent(ctx context.Context, olderThan time.Duration) (pruned int, err error)
}

// PgStore is the postgres-backed Store. The claim runs inside a single
// transaction with FOR UPDATE SKIP LOCKED, so concurrent publisher workers
// cannot double-send the same row. If the process dies mid-batch the
// transaction rolls back and every claimed row is PENDING again.
type PgStore struct {
	db *pg.DB
}

func NewStore(db *pg.DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Drain(ctx context.Context, batchSize int, publish func(model.OutboxEvent) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var sent int
	err := s.db.RunInTransaction(func(tx *pg.Tx) error {
		var events []model.OutboxEvent
		err := tx.Model(&events).
			Where("status = ?", model.StatusPending).
			Order("id ASC").
			Limit(batchSize).
			For("UPDATE SKIP LOCKED").
			Select()
		if err != nil {
			return errors.Wrap(err, "fetching pending events")
		}

		for _, ev := range events {
			if err := publish(ev); err != nil {
				_, uerr := tx.Model(&model.OutboxEvent{}).
					Set("attempts = attempts + 1").
					Where("id = ?", ev.ID).
					Update()
				if uerr != nil {
					return errors.Wrap(uerr, "recording publish attempt")
				}
				continue
			}

			_, uerr := tx.Model(&model.OutboxEvent{}).
				Set("status = ?", model.StatusSent).
				Set("sent_at = ?", time.Now()).
				Where("id = ?", ev.ID).
				Update()
			if uerr != nil {
				return errors.Wrap(uerr, "marking event sent")
			}
			sent++
		}
		return nil
	})
	return sent, err
}

func (s *PgStore) PruneSent(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.Model(&model.OutboxEvent{}).
		Where("status = ?", model.StatusSent).
		Where("sent_at < ?", cutoff).
		Delete()
	if err != nil {
		return 0, errors.Wrap(err, "pruning sent events")
	}
	return res.RowsAffected(), nil
}
