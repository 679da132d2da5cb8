package model

import (
	"time"
)

// ProcessedMessage marks a bus delivery id whose effect has already been
// applied. The primary key on MessageID is the dedup serialization point.
type ProcessedMessage struct {
	tableName struct{} `sql:"processed_messages"`

	MessageID   string    `sql:"message_id,pk"`
	ProcessedAt time.Time `sql:"processed_at,notnull"`
}
