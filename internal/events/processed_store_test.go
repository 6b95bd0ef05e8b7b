package events

import (
	"context"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("whatsapp", "wamid.1").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(context.Background(), "whatsapp", "wamid.1")
	if err != nil || !processed {
		t.Fatalf("expected existing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("whatsapp", "wamid.miss").WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(context.Background(), "whatsapp", "wamid.miss")
	if err != nil || processed {
		t.Fatalf("expected missing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("whatsapp", "wamid.new").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.MarkProcessed(context.Background(), "whatsapp", "wamid.new")
	if err != nil || !ok {
		t.Fatalf("expected mark processed success, got %v %v", ok, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("whatsapp", "wamid.new").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.MarkProcessed(context.Background(), "whatsapp", "wamid.new")
	if err != nil || ok {
		t.Fatalf("expected duplicate claim to be rejected, got %v %v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStorePurge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM processed_events").WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := newProcessedStoreWithExec(mock).Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryProcessedStore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryProcessedStore(time.Hour)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	fresh, err := store.MarkProcessed(ctx, "whatsapp", "wamid.1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.MarkProcessed(ctx, "WhatsApp", "wamid.1")
	require.NoError(t, err)
	assert.False(t, fresh, "provider match is case-insensitive")

	seen, _ := store.AlreadyProcessed(ctx, "whatsapp", "wamid.1")
	assert.True(t, seen)

	now = now.Add(2 * time.Hour)
	seen, _ = store.AlreadyProcessed(ctx, "whatsapp", "wamid.1")
	assert.False(t, seen, "claims expire after the ttl")

	fresh, err = store.MarkProcessed(ctx, "whatsapp", "wamid.1")
	require.NoError(t, err)
	assert.True(t, fresh)
}
