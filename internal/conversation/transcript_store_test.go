package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTranscript(t *testing.T) (*TranscriptStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTranscriptStore(client, time.Hour), mr
}

func TestTranscriptStore_AppendAndList(t *testing.T) {
	store, mr := newTestTranscript(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, customer, TranscriptEntry{Role: ChatRoleUser, Body: "hola", Timestamp: epoch}))
	require.NoError(t, store.Append(ctx, customer, TranscriptEntry{Role: ChatRoleAssistant, Body: "¡Hola! 👋"}))

	entries, err := store.List(ctx, customer, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hola", entries[0].Body)
	assert.Equal(t, epoch, entries[0].Timestamp.UTC())
	assert.NotEmpty(t, entries[1].ID)
	assert.False(t, entries[1].Timestamp.IsZero())

	assert.Equal(t, time.Hour, mr.TTL(transcriptKey(customer)))
}

func TestTranscriptStore_ListLimitReturnsNewest(t *testing.T) {
	store, _ := newTestTranscript(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, customer, TranscriptEntry{Role: ChatRoleUser, Body: fmt.Sprintf("m%d", i)}))
	}

	entries, err := store.List(ctx, customer, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "m3", entries[0].Body)
	assert.Equal(t, "m4", entries[1].Body)
}

func TestTranscriptStore_CapsEntries(t *testing.T) {
	store, _ := newTestTranscript(t)
	store.maxEntries = 3
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, store.Append(ctx, customer, TranscriptEntry{Body: fmt.Sprintf("m%d", i)}))
	}

	entries, err := store.List(ctx, customer, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "m3", entries[0].Body)
}

func TestTranscriptStore_EmptyAndNil(t *testing.T) {
	store, _ := newTestTranscript(t)

	entries, err := store.List(context.Background(), "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Error(t, store.Append(context.Background(), "", TranscriptEntry{Body: "x"}))

	var disabled *TranscriptStore
	assert.NoError(t, disabled.Append(context.Background(), customer, TranscriptEntry{Body: "x"}))
	assert.Nil(t, NewTranscriptStore(nil, 0))
}

func TestTranscriptStore_RedisDown(t *testing.T) {
	store, mr := newTestTranscript(t)
	mr.Close()

	err := store.Append(context.Background(), customer, TranscriptEntry{Body: "x"})
	assert.Error(t, err)
}
