package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codedrop/internal/telegram"
)

func update(id, chatID int64) *telegram.Update {
	return &telegram.Update{UpdateID: id, Message: &telegram.Message{Chat: telegram.Chat{ID: chatID}}}
}

func TestDispatcherPreservesPerChatOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[int64][]int64)
	)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 2, MaxWorkers: 4, QueueSize: 100}, func(_ context.Context, u *telegram.Update) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[u.Message.Chat.ID] = append(seen[u.Message.Chat.ID], u.UpdateID)
		mu.Unlock()
		return nil
	})

	var id int64
	for i := 0; i < 10; i++ {
		for chat := int64(1); chat <= 3; chat++ {
			id++
			require.NoError(t, d.Submit(update(id, chat)))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	for chat := int64(1); chat <= 3; chat++ {
		ids := seen[chat]
		require.Len(t, ids, 10, "chat %d", chat)
		assert.IsIncreasing(t, ids, "chat %d out of order", chat)
	}
}

func TestDispatcherRunsChatsConcurrently(t *testing.T) {
	started := make(chan int64, 2)
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 10}, func(_ context.Context, u *telegram.Update) error {
		started <- u.Message.Chat.ID
		<-release
		return nil
	})

	require.NoError(t, d.Submit(update(1, 10)))
	require.NoError(t, d.Submit(update(2, 20)))
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			require.FailNow(t, "expected two chats in flight at once")
		}
	}
	close(release)
	assert.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcherRejectsWhenFull(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2}, func(context.Context, *telegram.Update) error {
		<-release
		return nil
	})

	require.NoError(t, d.Submit(update(1, 1)))
	require.NoError(t, d.Submit(update(2, 1)))
	assert.ErrorIs(t, d.Submit(update(3, 1)), ErrDispatcherBusy)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.ErrorIs(t, d.Submit(update(4, 1)), ErrDispatcherClosed)
}

func TestDispatcherShutdownDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4}, func(context.Context, *telegram.Update) error {
		<-release
		return nil
	})
	require.NoError(t, d.Submit(update(1, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
}

func TestDispatcherJobTimeoutAndPanic(t *testing.T) {
	var (
		timedOut  atomic.Bool
		processed atomic.Int32
	)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 10, JobTimeout: 20 * time.Millisecond}, func(ctx context.Context, u *telegram.Update) error {
		switch u.UpdateID {
		case 1:
			<-ctx.Done()
			timedOut.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
			return ctx.Err()
		case 2:
			panic("boom")
		}
		processed.Add(1)
		return nil
	})

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, d.Submit(update(i, 7)))
	}
	require.NoError(t, d.Shutdown(context.Background()))
	assert.True(t, timedOut.Load(), "job context should time out")
	assert.EqualValues(t, 1, processed.Load(), "update after a panic should still run")
}

func TestPoolRetiresIdleWorkers(t *testing.T) {
	var started sync.WaitGroup
	started.Add(3)
	hold := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 3, QueueSize: 10, IdleTimeout: 20 * time.Millisecond}, func(context.Context, *telegram.Update) error {
		started.Done()
		<-hold
		return nil
	})
	defer d.Shutdown(context.Background())

	for chat := int64(1); chat <= 3; chat++ {
		require.NoError(t, d.Submit(update(chat, chat)))
	}
	started.Wait()
	assert.Equal(t, 3, d.pool.size(), "workers under load")
	close(hold)

	assert.Eventually(t, func() bool { return d.pool.size() <= 1 }, 2*time.Second, 10*time.Millisecond, "idle workers not retired")
}
