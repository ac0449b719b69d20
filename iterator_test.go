package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// prime forces the iterator's lazy initialization without consuming a
// message: the expired context makes Next return immediately, after the
// subscriptions have been opened.
func prime(t *testing.T, it *MessageIterator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := it.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIterator(t *testing.T) {
	ctx := context.Background()

	t.Run("subscribes lazily on first pull", func(t *testing.T) {
		ps, conn := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		assert.Equal(t, 0, conn.active("EVENT"), "construction must not touch the broker")

		prime(t, it)
		assert.Equal(t, 1, conn.active("EVENT"))
		it.Close()
	})

	t.Run("yields messages in arrival order", func(t *testing.T) {
		ps, _ := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		defer it.Close()
		prime(t, it)

		require.NoError(t, ps.Publish(ctx, "EVENT", map[string]any{"a": 1}))
		require.NoError(t, ps.Publish(ctx, "EVENT", map[string]any{"a": 2}))

		first, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": float64(1)}, first)

		second, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": float64(2)}, second)
	})

	t.Run("interleaves multiple triggers by arrival", func(t *testing.T) {
		ps, _ := newTestPubSub(t)
		it := ps.Iterator("A", "B")
		defer it.Close()
		prime(t, it)

		require.NoError(t, ps.Publish(ctx, "B", "b1"))
		require.NoError(t, ps.Publish(ctx, "A", "a1"))

		first, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "b1", first)

		second, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a1", second)
	})

	t.Run("blocked pull is woken by a message", func(t *testing.T) {
		ps, _ := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		defer it.Close()
		prime(t, it)

		got := make(chan any, 1)
		go func() {
			msg, err := it.Next(ctx)
			if err == nil {
				got <- msg
			}
		}()

		// Publish until the pull is registered; the fake conn delivers
		// synchronously, so the message lands in either queue.
		require.NoError(t, ps.Publish(ctx, "EVENT", "wake up"))

		select {
		case msg := <-got:
			assert.Equal(t, "wake up", msg)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for blocked pull")
		}
	})

	t.Run("concurrent pulls are served in request order", func(t *testing.T) {
		ps, _ := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		defer it.Close()
		prime(t, it)

		const pulls = 4
		results := make([]chan any, pulls)
		for i := 0; i < pulls; i++ {
			results[i] = make(chan any, 1)
			go func(out chan<- any) {
				msg, err := it.Next(ctx)
				if err == nil {
					out <- msg
				}
			}(results[i])

			// Let each pull register before starting the next so request
			// order is deterministic.
			want := i + 1
			require.Eventually(t, func() bool {
				it.mu.Lock()
				defer it.mu.Unlock()
				return len(it.pullQueue) == want
			}, 2*time.Second, 5*time.Millisecond)
		}

		for i := 0; i < pulls; i++ {
			require.NoError(t, ps.Publish(ctx, "EVENT", i))
		}

		for i, out := range results {
			select {
			case msg := <-out:
				assert.Equal(t, float64(i), msg, "pull %d received the wrong value", i)
			case <-time.After(2 * time.Second):
				t.Fatalf("timeout waiting for pull %d", i)
			}
		}
	})

	t.Run("abandoned pull hands its raced message to the next waiter", func(t *testing.T) {
		ps, _ := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		defer it.Close()
		prime(t, it)

		// Register a pull the way Next does, standing in for a caller that
		// is about to lose the select race to its context.
		wait := make(chan any, 1)
		it.mu.Lock()
		it.pullQueue = append(it.pullQueue, wait)
		it.mu.Unlock()

		got := make(chan any, 1)
		go func() {
			msg, err := it.Next(ctx)
			if err == nil {
				got <- msg
			}
		}()

		require.Eventually(t, func() bool {
			it.mu.Lock()
			defer it.mu.Unlock()
			return len(it.pullQueue) == 2
		}, 2*time.Second, 5*time.Millisecond)

		// The message wins the race into the first pull's channel, then
		// that pull's caller gives up.
		require.NoError(t, ps.Publish(ctx, "EVENT", "M"))
		it.abandon(wait)

		select {
		case msg := <-got:
			assert.Equal(t, "M", msg, "the still-waiting pull must receive the abandoned message")
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for the pending pull to be served")
		}

		it.mu.Lock()
		assert.Empty(t, it.pushQueue, "a message must not be queued while a pull is pending")
		assert.Empty(t, it.pullQueue)
		it.mu.Unlock()
	})

	t.Run("cancelled pull does not lose messages", func(t *testing.T) {
		ps, _ := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		defer it.Close()
		prime(t, it)

		// The prime call above already exercised the cancelled-pull path
		// with an empty queue. Now make sure a message delivered after a
		// cancellation is still consumable.
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := it.Next(cancelled)
		require.ErrorIs(t, err, context.Canceled)

		require.NoError(t, ps.Publish(ctx, "EVENT", "kept"))
		msg, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "kept", msg)
	})

	t.Run("close releases the underlying subscriptions", func(t *testing.T) {
		ps, conn := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		prime(t, it)
		require.Equal(t, 1, conn.active("EVENT"))

		it.Close()
		assert.Equal(t, 0, conn.active("EVENT"))

		_, err := it.Next(ctx)
		require.ErrorIs(t, err, ErrIteratorDone)
	})

	t.Run("close before first pull is a no-op beyond termination", func(t *testing.T) {
		ps, conn := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		it.Close()

		assert.Equal(t, 0, conn.active("EVENT"))
		_, err := it.Next(ctx)
		require.ErrorIs(t, err, ErrIteratorDone)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		ps, _ := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		prime(t, it)
		it.Close()
		it.Close()
	})

	t.Run("close wakes blocked pulls", func(t *testing.T) {
		ps, _ := newTestPubSub(t)
		it := ps.Iterator("EVENT")
		prime(t, it)

		done := make(chan error, 1)
		started := make(chan struct{})
		go func() {
			close(started)
			_, err := it.Next(ctx)
			done <- err
		}()

		<-started
		// Give the pull a moment to register before closing.
		time.Sleep(10 * time.Millisecond)
		it.Close()

		select {
		case err := <-done:
			require.ErrorIs(t, err, ErrIteratorDone)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for closed pull to return")
		}
	})

	t.Run("subscribe failure terminates the iterator", func(t *testing.T) {
		ps, conn := newTestPubSub(t)
		conn.subscribeErr = errors.New("connection refused")

		it := ps.Iterator("EVENT")
		_, err := it.Next(ctx)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrIteratorDone)

		_, err = it.Next(ctx)
		require.ErrorIs(t, err, ErrIteratorDone)
	})

	t.Run("partial subscribe failure rolls back", func(t *testing.T) {
		ps, conn := newTestPubSub(t)

		// First trigger subscribes fine, second fails.
		subscribed := false
		ps.subscribeResolver = func(_ context.Context, trigger string, options Options) (Options, error) {
			if subscribed && trigger == "B" {
				return nil, errors.New("boom")
			}
			subscribed = true
			return options, nil
		}

		it := ps.Iterator("A", "B")
		_, err := it.Next(ctx)
		require.Error(t, err)
		assert.Equal(t, 0, conn.active("A"), "the subscription opened before the failure is rolled back")
	})
}

func TestIteratorValues(t *testing.T) {
	ctx := context.Background()
	ps, conn := newTestPubSub(t)

	it := ps.Iterator("EVENT")
	prime(t, it)
	require.NoError(t, ps.Publish(ctx, "EVENT", "one"))
	require.NoError(t, ps.Publish(ctx, "EVENT", "two"))

	var got []any
	for msg := range it.Values(ctx) {
		got = append(got, msg)
		if len(got) == 2 {
			break
		}
	}

	assert.Equal(t, []any{"one", "two"}, got)
	assert.Equal(t, 0, conn.active("EVENT"), "breaking out of the loop closes the iterator")

	_, err := it.Next(ctx)
	require.ErrorIs(t, err, ErrIteratorDone)
}
