package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	ch, cancel, err := m.Subscribe(ctx, "session:1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Publish(ctx, "session:1", []byte("hello")))
	require.NoError(t, m.Publish(ctx, "session:2", []byte("other")))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected message %q from another channel", got)
	default:
	}
}

func TestMemoryMultipleSubscribers(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	a, cancelA, err := m.Subscribe(ctx, "session:1")
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := m.Subscribe(ctx, "session:1")
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, m.Publish(ctx, "session:1", []byte("fan-out")))

	assert.Equal(t, "fan-out", string(<-a))
	assert.Equal(t, "fan-out", string(<-b))
}

func TestMemoryCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	ch, cancel, err := m.Subscribe(ctx, "session:1")
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open, "cancelled subscription channel closes")

	require.NoError(t, m.Publish(ctx, "session:1", []byte("late")))
}

func TestMemoryContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	t.Cleanup(func() { _ = m.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := m.Subscribe(ctx, "session:1")
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestMemoryClose(t *testing.T) {
	t.Parallel()

	m := NewMemory()

	ch, _, err := m.Subscribe(context.Background(), "session:1")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")

	_, open := <-ch
	assert.False(t, open)

	require.ErrorIs(t, m.Publish(context.Background(), "session:1", nil), ErrClosed)
	_, _, err = m.Subscribe(context.Background(), "session:1")
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryDropsWhenSubscriberLags(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	ch, cancel, err := m.Subscribe(ctx, "session:1")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 200; i++ {
		require.NoError(t, m.Publish(ctx, "session:1", []byte("x")))
	}

	// Buffer is 64; the rest were dropped, not blocked on.
	assert.Equal(t, 64, len(ch))
}
