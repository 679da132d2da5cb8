package model

import (
	"time"
)

// Author is the sample business entity whose writes carry outbox events.
type Author struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
