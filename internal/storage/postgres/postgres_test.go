package postgres

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timbouc/cart/internal/storage"
	"github.com/timbouc/cart/pkg/database"
	apperrors "github.com/timbouc/cart/pkg/errors"
)

var snapshot = []byte(`{"items":[],"conditions":[],"subtotal":"0","total":"0"}`)

// ─── Get ─────────────────────────────────────────────────────────────────────

func TestStorage_Get_Success(t *testing.T) {
	mock := database.NewMockPool(t)

	mock.ExpectQuery("SELECT content FROM cart_sessions").
		WithArgs("session-1").
		WillReturnRows(pgxmock.NewRows([]string{"content"}).AddRow(snapshot))

	got, err := New(mock).Get(context.Background(), "session-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(snapshot), string(got))
}

func TestStorage_Get_NotFound(t *testing.T) {
	mock := database.NewMockPool(t)

	mock.ExpectQuery("SELECT content FROM cart_sessions").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := New(mock).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStorage_Get_QueryError(t *testing.T) {
	mock := database.NewMockPool(t)

	mock.ExpectQuery("SELECT content FROM cart_sessions").
		WithArgs("session-1").
		WillReturnError(errors.New("connection reset"))

	_, err := New(mock).Get(context.Background(), "session-1")
	assert.ErrorIs(t, err, storage.ErrIO)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

// ─── Has ─────────────────────────────────────────────────────────────────────

func TestStorage_Has(t *testing.T) {
	mock := database.NewMockPool(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("session-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := New(mock).Has(context.Background(), "session-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

// ─── Put ─────────────────────────────────────────────────────────────────────

func TestStorage_Put_Upserts(t *testing.T) {
	mock := database.NewMockPool(t)

	mock.ExpectExec("INSERT INTO cart_sessions").
		WithArgs("session-1", snapshot).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, New(mock).Put(context.Background(), "session-1", snapshot))
}

func TestStorage_Put_ExecError(t *testing.T) {
	mock := database.NewMockPool(t)

	mock.ExpectExec("INSERT INTO cart_sessions").
		WithArgs("session-1", snapshot).
		WillReturnError(errors.New("disk full"))

	err := New(mock).Put(context.Background(), "session-1", snapshot)
	assert.ErrorIs(t, err, storage.ErrIO)
}

// ─── Delete / Clear ──────────────────────────────────────────────────────────

func TestStorage_Delete(t *testing.T) {
	mock := database.NewMockPool(t)

	mock.ExpectExec("DELETE FROM cart_sessions WHERE session_key").
		WithArgs("session-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, New(mock).Delete(context.Background(), "session-1"))
}

func TestStorage_Clear(t *testing.T) {
	mock := database.NewMockPool(t)

	mock.ExpectExec("DELETE FROM cart_sessions").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, New(mock).Clear(context.Background()))
}

// ─── Factory / migrations ────────────────────────────────────────────────────

func TestFactory_RequiresPool(t *testing.T) {
	_, err := Factory(Config{})
	assert.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestMigrations_ContainsSessionsTable(t *testing.T) {
	raw, err := fs.ReadFile(Migrations(), "001_cart_sessions.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "CREATE TABLE IF NOT EXISTS cart_sessions")
}
