package outbox

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octavobooks/messaging/model"
)

func TestSaveTx_CommitsWithBusinessWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO authors").
		WithArgs("Jane Austen", "jane@example.com").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectQuery("INSERT INTO outbox_events").
		WithArgs("AUTHOR_CREATED", `{"authorId":42}`, model.StatusPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)

	_, err = tx.Exec("INSERT INTO authors (name, email) VALUES ($1, $2)", "Jane Austen", "jane@example.com")
	require.NoError(t, err)

	w := NewWriter(nil)
	ev, err := w.SaveTx(tx, "AUTHOR_CREATED", []byte(`{"authorId":42}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(7), ev.ID)
	assert.Equal(t, "AUTHOR_CREATED", ev.EventType)
	assert.Equal(t, `{"authorId":42}`, ev.Payload)
	assert.Equal(t, model.StatusPending, ev.Status)
	assert.Nil(t, ev.SentAt)
	assert.WithinDuration(t, time.Now(), ev.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTx_RollsBackWithBusinessWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO outbox_events").
		WithArgs("AUTHOR_CREATED", `{"authorId":42}`, model.StatusPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)

	w := NewWriter(nil)
	_, err = w.SaveTx(tx, "AUTHOR_CREATED", []byte(`{"authorId":42}`))
	require.NoError(t, err)

	// Business logic fails after the event insert; the rollback discards
	// the event along with everything else in the transaction.
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTx_InsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO outbox_events").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)

	w := NewWriter(nil)
	_, err = w.SaveTx(tx, "AUTHOR_CREATED", []byte(`{}`))
	assert.Error(t, err)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
