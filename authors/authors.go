package authors

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/octavobooks/messaging/model"
)

const EventAuthorCreated = "AUTHOR_CREATED"

// CreatedEvent is the payload published when an author row is created.
type CreatedEvent struct {
	AuthorID int64 `json:"authorId"`
}

// OutboxWriter is the transaction-scoped hook the business store uses to
// record the event alongside its own writes.
type OutboxWriter interface {
	SaveTx(tx *sql.Tx, eventType string, payload []byte) (*model.OutboxEvent, error)
}

// Store persists authors. Every mutation writes its outbox event in the same
// transaction, so the business row and the event commit or roll back
// together.
type Store struct {
	db     *sql.DB
	outbox OutboxWriter
}

func NewStore(db *sql.DB, outbox OutboxWriter) *Store {
	return &Store{db: db, outbox: outbox}
}

func (s *Store) CreateAuthor(ctx context.Context, author model.Author) (model.Author, error) {
	author.CreatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Author{}, errors.Wrap(err, "beginning transaction")
	}

	err = tx.QueryRow(
		`INSERT INTO authors (name, email, created_at) VALUES ($1, $2, $3) RETURNING id`,
		author.Name, author.Email, author.CreatedAt,
	).Scan(&author.ID)
	if err != nil {
		_ = tx.Rollback()
		return model.Author{}, errors.Wrap(err, "inserting author")
	}

	payload, err := json.Marshal(CreatedEvent{AuthorID: author.ID})
	if err != nil {
		_ = tx.Rollback()
		return model.Author{}, errors.Wrap(err, "encoding author event")
	}

	ev, err := s.outbox.SaveTx(tx, EventAuthorCreated, payload)
	if err != nil {
		_ = tx.Rollback()
		return model.Author{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Author{}, errors.Wrap(err, "committing author")
	}

	logrus.WithFields(logrus.Fields{
		"author_id": author.ID,
		"outbox_id": ev.ID,
	}).Info("author created")
	return author, nil
}

func (s *Store) GetAuthor(ctx context.Context, id int64) (model.Author, error) {
	var author model.Author
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM authors WHERE id = $1`, id,
	).Scan(&author.ID, &author.Name, &author.Email, &author.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Author{}, errors.Errorf("author %d not found", id)
		}
		return model.Author{}, errors.Wrap(err, "fetching author")
	}
	return author, nil
}
