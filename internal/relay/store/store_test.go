package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var replyColumns = []string{"scope", "key", "event", "reply", "created_at"}

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewPostgres(gdb), mock
}

func TestMemory_KeepsFirstReply(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Lookup(ctx, "expo", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Save(ctx, "expo", "k1", types.EvtTeamCreate, types.Reply{Success: true}))
	require.NoError(t, m.Save(ctx, "expo", "k1", types.EvtTeamCreate, types.Reply{Success: false, Error: "late"}))

	r, ok, err := m.Lookup(ctx, "expo", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, r.Success)

	_, ok, _ = m.Lookup(ctx, "other", "k1")
	assert.False(t, ok, "keys are per scope")
}

func TestPostgres_LookupFound(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(replyColumns).
		AddRow("expo", "k1", types.EvtTeamCreate, []byte(`{"success":true,"data":{"id":"t1"}}`), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "relay_replies" WHERE scope = $1 AND key = $2`)).
		WillReturnRows(rows)

	r, ok, err := s.Lookup(context.Background(), "expo", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, r.Success)
	assert.JSONEq(t, `{"id":"t1"}`, string(r.Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LookupMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "relay_replies"`)).
		WillReturnRows(sqlmock.NewRows(replyColumns))

	_, ok, err := s.Lookup(context.Background(), "expo", "k1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LookupError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "relay_replies"`)).
		WillReturnError(errors.New("connection refused"))

	_, _, err := s.Lookup(context.Background(), "expo", "k1")
	assert.ErrorContains(t, err, "lookup reply")
}

func TestPostgres_Save(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "relay_replies"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Save(context.Background(), "expo", "k1", types.EvtTeamCreate, types.Reply{Success: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "relay_replies"`)).
		WillReturnError(errors.New("disk full"))

	err := s.Save(context.Background(), "expo", "k1", types.EvtTeamCreate, types.Reply{Success: true})
	assert.ErrorContains(t, err, "save reply")
}
