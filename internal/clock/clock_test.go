package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []string
	c.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	c.AfterFunc(time.Minute, func() { order = append(order, "a") })
	c.AfterFunc(5*time.Minute, func() { order = append(order, "c") })

	c.Advance(3 * time.Minute)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, epoch.Add(3*time.Minute), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFakeTimerScheduledFromCallback(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	var schedule func()
	schedule = func() {
		fired++
		if fired < 3 {
			c.AfterFunc(time.Minute, schedule)
		}
	}
	c.AfterFunc(time.Minute, schedule)

	c.Advance(10 * time.Minute)
	assert.Equal(t, 3, fired)
}

func TestFakeStop(t *testing.T) {
	c := NewFake(epoch)
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, called)
}

func TestFakeSleepRecords(t *testing.T) {
	c := NewFake(epoch)
	require.NoError(t, c.Sleep(context.Background(), time.Second))
	require.NoError(t, c.Sleep(context.Background(), 2*time.Second))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Sleeps())
	assert.Equal(t, epoch, c.Now())
}

func TestRealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Real().Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEveryFollowsFakeTime(t *testing.T) {
	c := NewFake(epoch)
	var mu sync.Mutex
	var fired []time.Time
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Every(ctx, c, time.Minute, func() {
			mu.Lock()
			fired = append(fired, c.Now())
			mu.Unlock()
		})
		close(done)
	}()
	calls := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(fired)
	}

	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)
	c.Advance(59 * time.Second)
	assert.Zero(t, calls())

	c.Advance(time.Second)
	require.Eventually(t, func() bool { return calls() == 1 && c.Pending() == 1 }, time.Second, time.Millisecond)
	c.Advance(time.Minute)
	require.Eventually(t, func() bool { return calls() == 2 && c.Pending() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Every did not return after cancel")
	}
	assert.Zero(t, c.Pending())
	assert.Equal(t, []time.Time{epoch.Add(time.Minute), epoch.Add(2 * time.Minute)}, fired)
}
