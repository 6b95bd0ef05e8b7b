package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/aliado-ai-platform/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() (*ContextStore, *clock.Fake) {
	clk := clock.NewFake(epoch)
	return NewContextStore(clk, nil), clk
}

func TestContextStore_KeepsLastTenMessages(t *testing.T) {
	store, _ := newTestStore()
	for i := 1; i <= 14; i++ {
		store.AddMessage("5491112345678", fmt.Sprintf("m%d", i), i%2 == 0)
	}

	convo := store.Get("5491112345678")
	require.Len(t, convo.Messages, 10)
	assert.Equal(t, "m5", convo.Messages[0].Text)
	assert.Equal(t, "m14", convo.Messages[9].Text)
	assert.Equal(t, 14, convo.TotalMessages)

	lines := strings.Split(store.RecentHistory("5491112345678", 20), "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "Usuario: m5", lines[0])
	assert.Equal(t, "Bot: m14", lines[9])
}

func TestContextStore_RecentHistory(t *testing.T) {
	store, _ := newTestStore()
	assert.Empty(t, store.RecentHistory("nobody", 3))

	store.AddMessage("u1", "hola", false)
	store.AddMessage("u1", "¡Hola! ¿En qué te ayudo?", true)
	store.AddMessage("u1", "precios", false)
	store.AddMessage("u1", "Te cuento 💰", true)

	assert.Equal(t, "Bot: ¡Hola! ¿En qué te ayudo?\nUsuario: precios\nBot: Te cuento 💰", store.RecentHistory("u1", 3))
}

func TestContextStore_SweepExpired(t *testing.T) {
	store, clk := newTestStore()
	store.AddMessage("stale", "hola", false)
	clk.Set(epoch.Add(2 * time.Minute))
	store.AddMessage("fresh", "hola", false)

	removed := store.SweepExpired(epoch.Add(31 * time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := store.Peek("stale")
	assert.False(t, ok)
	_, ok = store.Peek("fresh")
	assert.True(t, ok, "touched 29 minutes ago, must survive")
}

func TestContextStore_ExpireHookReceivesSweptConversation(t *testing.T) {
	store, _ := newTestStore()
	var swept []Context
	store.WithExpireHook(func(c Context) {
		// The hook runs unlocked, so it may read the store.
		assert.Zero(t, store.Len())
		swept = append(swept, c)
	})
	store.AddMessage("u1", "hola", false)
	store.AddMessage("u1", "¡Hola!", true)

	assert.Equal(t, 1, store.SweepExpired(epoch.Add(time.Hour)))
	require.Len(t, swept, 1)
	assert.Equal(t, "u1", swept[0].UserID)
	assert.Len(t, swept[0].Messages, 2)
}

func TestContextStore_GetRefreshesActivity(t *testing.T) {
	store, clk := newTestStore()
	store.AddMessage("u1", "hola", false)

	clk.Set(epoch.Add(20 * time.Minute))
	store.Get("u1")

	assert.Zero(t, store.SweepExpired(epoch.Add(45*time.Minute)))
	assert.Equal(t, 1, store.SweepExpired(epoch.Add(51*time.Minute)))
}

func TestContextStore_GetAfterSweepStartsOver(t *testing.T) {
	store, clk := newTestStore()
	store.AddMessage("u1", "hola", false)
	store.UpdateFlags("u1", func(f *Flags) { f.NeedsHuman = true })

	clk.Set(epoch.Add(time.Hour))
	store.SweepExpired(clk.Now())

	convo := store.Get("u1")
	assert.Empty(t, convo.Messages)
	assert.False(t, convo.Flags.NeedsHuman)
	assert.Equal(t, epoch.Add(time.Hour), convo.StartTime)
}

func TestContextStore_RaisePriorityNeverLowers(t *testing.T) {
	store, _ := newTestStore()
	store.RaisePriority("u1", PriorityUrgent)
	store.RaisePriority("u1", PriorityHigh)
	store.RaisePriority("u1", PriorityNormal)
	assert.Equal(t, PriorityUrgent, store.Flags("u1").Priority)
}

func TestContextStore_SnapshotsAreCopies(t *testing.T) {
	store, _ := newTestStore()
	store.AddMessage("u1", "hola", false)

	convo := store.Get("u1")
	convo.Messages[0].Text = "changed"

	again, _ := store.Peek("u1")
	assert.Equal(t, "hola", again.Messages[0].Text)
}

func TestContextStore_ConcurrentAppends(t *testing.T) {
	store := NewContextStore(clock.Real(), nil)
	users := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(user string, n int) {
				defer wg.Done()
				store.AddMessage(user, fmt.Sprintf("%s-%d", user, n), n%2 == 0)
				store.RecentHistory(user, 3)
			}(u, i)
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.SweepExpired(time.Now())
	}()
	wg.Wait()

	for _, u := range users {
		convo, ok := store.Peek(u)
		require.True(t, ok)
		assert.Len(t, convo.Messages, 10)
		assert.Equal(t, 50, convo.TotalMessages)
	}
}

func TestContextStore_ListMostRecentFirst(t *testing.T) {
	store, clk := newTestStore()
	store.AddMessage("older", "hola", false)
	clk.Set(epoch.Add(time.Minute))
	store.AddMessage("newer", "hola", false)
	store.UpdateFlags("newer", func(f *Flags) { f.NeedsHuman = true })

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].UserID)
	assert.True(t, list[0].NeedsHuman)
	assert.Equal(t, 2, store.Len())
}

func TestContextStore_RunSweepsOnEachInterval(t *testing.T) {
	store, clk := newTestStore()
	store.AddMessage("5491112345678", "hola", false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx, 15*time.Minute)
		close(done)
	}()
	armed := func() bool { return clk.Pending() == 1 }

	require.Eventually(t, armed, time.Second, time.Millisecond)
	clk.Advance(15 * time.Minute)
	require.Eventually(t, armed, time.Second, time.Millisecond)
	clk.Advance(15 * time.Minute)
	require.Eventually(t, armed, time.Second, time.Millisecond)
	assert.Equal(t, 1, store.Len(), "exactly 30 idle minutes is not yet expired")

	clk.Advance(15 * time.Minute)
	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, clk.Pending())
}
