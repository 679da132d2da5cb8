package outbox

import (
	"database/sql"
	"time"

	"github.com/go-pg/pg"
	"github.com/pkg/errors"

	"github.com/octavobooks/messaging/model"
)

const insertEventSQL = `INSERT INTO outbox_events (event_type, payload, status, attempts, created_at)
	VALUES ($1, $2, $3, 0, $4) RETURNING id`

// Writer records outbox events. SaveTx is the transactional hook business
// stores call with their own open transaction, so the business row and the
// event row commit or roll back together.
type Writer struct {
	db *pg.DB
}

func NewWriter(db *pg.DB) *Writer {
	return &Writer{db: db}
}

// Save inserts a PENDING event on its own, outside any business transaction.
func (w *Writer) Save(eventType string, payload []byte) (*model.OutboxEvent, error) {
	ev := newEvent(eventType, payload)
	if err := w.db.Insert(ev); err != nil {
		return nil, errors.Wrap(err, "inserting outbox event")
	}
	return ev, nil
}

// SaveTx inserts a PENDING event using the caller's transaction. If the
// surrounding transaction rolls back, no event is persisted.
func (w *Writer) SaveTx(tx *sql.Tx, eventType string, payload []byte) (*model.OutboxEvent, error) {
	ev := newEvent(eventType, payload)
	err := tx.QueryRow(insertEventSQL, ev.EventType, ev.Payload, ev.Status, ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return nil, errors.Wrap(err, "inserting outbox event")
	}
	return ev, nil
}

func newEvent(eventType string, payload []byte) *model.OutboxEvent {
	return &model.OutboxEvent{
		EventType: eventType,
		Payload:   string(payload),
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}
}
