package model

import (
	"time"
)

const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
)

// OutboxEvent is a domain event recorded in the same transaction as the
// business write that produced it. Status only ever moves PENDING -> SENT;
// rows are never deleted while PENDING.
type OutboxEvent struct {
	tableName struct{} `sql:"outbox_events"`

	ID        int64      `sql:"id,pk"`
	EventType string     `sql:"event_type,notnull"`
	Payload   string     `sql:"payload,notnull"`
	Status    string     `sql:"status,notnull"`
	Attempts  int        `sql:"attempts,notnull"`
	CreatedAt time.Time  `sql:"created_at,notnull"`
	SentAt    *time.Time `sql:"sent_at"`
}
