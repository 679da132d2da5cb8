package authors

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octavobooks/messaging/model"
	"github.com/octavobooks/messaging/outbox"
)

func TestCreateAuthor_WritesBusinessRowAndEventAtomically(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO authors").
		WithArgs("Jane Austen", "jane@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectQuery("INSERT INTO outbox_events").
		WithArgs(EventAuthorCreated, `{"authorId":42}`, model.StatusPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	store := NewStore(db, outbox.NewWriter(nil))
	author, err := store.CreateAuthor(context.Background(), model.Author{
		Name:  "Jane Austen",
		Email: "jane@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), author.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuthor_EventInsertFailureRollsBackAuthor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO authors").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectQuery("INSERT INTO outbox_events").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := NewStore(db, outbox.NewWriter(nil))
	_, err = store.CreateAuthor(context.Background(), model.Author{
		Name:  "Jane Austen",
		Email: "jane@example.com",
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuthor_AuthorInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO authors").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := NewStore(db, outbox.NewWriter(nil))
	_, err = store.CreateAuthor(context.Background(), model.Author{Name: "Jane Austen"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAuthor_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, name, email, created_at FROM authors").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "created_at"}))

	store := NewStore(db, outbox.NewWriter(nil))
	_, err = store.GetAuthor(context.Background(), 99)
	assert.Error(t, err)
}
