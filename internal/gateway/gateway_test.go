package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: time.Second, Max: 30 * time.Second}

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 16*time.Second, b.Delay(4))
	assert.Equal(t, 30*time.Second, b.Delay(5), "capped at max")
	assert.Equal(t, 30*time.Second, b.Delay(40), "stays capped")
	assert.Equal(t, 30*time.Second, b.Delay(1000), "overflow guarded")
	assert.Equal(t, time.Second, b.Delay(-3), "negative attempt clamps to base")
}

type fakeConn struct {
	mu       sync.Mutex
	incoming chan []byte
	writes   []ClientMessage
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data := <-f.incoming:
		return websocket.MessageText, data, nil
	case <-f.closed:
		return 0, nil, errors.New("connection reset")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.mu.Lock()
	f.writes = append(f.writes, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(t *testing.T, msg ServerMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	f.incoming <- data
}

func (f *fakeConn) sent() []ClientMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ClientMessage, len(f.writes))
	copy(out, f.writes)
	return out
}

// fakeClock hands out a controllable timer channel for backoff waits.
type fakeClock struct {
	mu     sync.Mutex
	timers []chan time.Time
}

func (f *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (f *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	f.timers = append(f.timers, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakeClock) fire(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.timers) > 0
	}, time.Second, time.Millisecond)

	f.mu.Lock()
	ch := f.timers[0]
	f.timers = f.timers[1:]
	f.mu.Unlock()
	ch <- time.Unix(0, 0)
}

func dialSequence(conns ...*fakeConn) Dialer {
	var mu sync.Mutex
	i := 0
	return func(context.Context, string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(conns) {
			return nil, errors.New("dial: no more connections")
		}
		conn := conns[i]
		i++
		return conn, nil
	}
}

func TestClientExecuteRoundTrip(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	client := NewClient("ws://svc", WithDialer(dialSequence(conn)))
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.Equal(t, StateConnected, client.State())

	stream, err := client.Execute(ctx, ExecuteRequest{RequestID: "req-1", Prompt: "do it"})
	require.NoError(t, err)

	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, MessageExecute, sent[0].Type)
	assert.Equal(t, "req-1", sent[0].RequestID)
	assert.Equal(t, "do it", sent[0].Prompt)

	conn.push(t, ServerMessage{Type: MessageTextDelta, RequestID: "req-1", Text: "hi"})
	conn.push(t, ServerMessage{Type: MessageDone, RequestID: "req-1"})

	msg := <-stream
	assert.Equal(t, MessageTextDelta, msg.Type)
	assert.Equal(t, "hi", msg.Text)

	msg = <-stream
	assert.Equal(t, MessageDone, msg.Type)

	_, open := <-stream
	assert.False(t, open, "stream closes after done marker")
}

func TestClientExecuteRequiresConnection(t *testing.T) {
	t.Parallel()

	client := NewClient("ws://svc", WithDialer(dialSequence()))
	t.Cleanup(func() { _ = client.Close() })

	_, err := client.Execute(context.Background(), ExecuteRequest{RequestID: "req-1"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestClientRejectsDuplicateRequestID(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	client := NewClient("ws://svc", WithDialer(dialSequence(conn)))
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	_, err := client.Execute(ctx, ExecuteRequest{RequestID: "req-1"})
	require.NoError(t, err)

	_, err = client.Execute(ctx, ExecuteRequest{RequestID: "req-1"})
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestClientAbortClosesStream(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	client := NewClient("ws://svc", WithDialer(dialSequence(conn)))
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	stream, err := client.Execute(ctx, ExecuteRequest{RequestID: "req-1"})
	require.NoError(t, err)

	require.NoError(t, client.Abort(ctx, "req-1"))

	_, open := <-stream
	assert.False(t, open, "abort closes the stream")

	sent := conn.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, MessageAbort, sent[1].Type)
	assert.Equal(t, "req-1", sent[1].RequestID)
}

func TestClientAnswer(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	client := NewClient("ws://svc", WithDialer(dialSequence(conn)))
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Answer(ctx, "req-1", "yes"))

	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, MessageAnswer, sent[0].Type)
	assert.Equal(t, "yes", sent[0].Value)
}

func TestClientDisconnectInterruptsAndReconnects(t *testing.T) {
	t.Parallel()

	first := newFakeConn()
	second := newFakeConn()
	clock := &fakeClock{}

	var mu sync.Mutex
	var interrupted []string

	client := NewClient("ws://svc",
		WithDialer(dialSequence(first, second)),
		WithClock(clock),
		WithBackoff(Backoff{Base: time.Second, Max: 8 * time.Second}),
		WithInterruptHandler(func(ids []string) {
			mu.Lock()
			interrupted = append(interrupted, ids...)
			mu.Unlock()
		}),
	)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	stream, err := client.Execute(ctx, ExecuteRequest{RequestID: "req-1"})
	require.NoError(t, err)

	// Sever the connection out from under the read loop.
	_ = first.Close(websocket.StatusAbnormalClosure, "")

	_, open := <-stream
	assert.False(t, open, "disconnect closes in-flight streams")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(interrupted) == 1 && interrupted[0] == "req-1"
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return client.State() == StateBackoff
	}, time.Second, time.Millisecond)

	clock.fire(t)

	require.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, time.Second, time.Millisecond)

	// The replacement connection carries new work.
	stream, err = client.Execute(ctx, ExecuteRequest{RequestID: "req-2"})
	require.NoError(t, err)

	second.push(t, ServerMessage{Type: MessageDone, RequestID: "req-2"})
	msg := <-stream
	assert.Equal(t, MessageDone, msg.Type)
}

func TestClientReconnectKeepsBackingOffAfterFailedDial(t *testing.T) {
	t.Parallel()

	first := newFakeConn()
	second := newFakeConn()
	clock := &fakeClock{}

	var mu sync.Mutex
	attempts := 0
	dial := func(context.Context, string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		switch attempts {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("dial: refused")
		default:
			return second, nil
		}
	}

	client := NewClient("ws://svc", WithDialer(dial), WithClock(clock))
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	_ = first.Close(websocket.StatusAbnormalClosure, "")

	clock.fire(t) // first reconnect attempt fails
	clock.fire(t) // second succeeds

	require.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestClientCloseRejectsFurtherWork(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	client := NewClient("ws://svc", WithDialer(dialSequence(conn)))

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	stream, err := client.Execute(ctx, ExecuteRequest{RequestID: "req-1"})
	require.NoError(t, err)

	require.NoError(t, client.Close())

	_, open := <-stream
	assert.False(t, open, "close drains in-flight streams")

	_, err = client.Execute(ctx, ExecuteRequest{RequestID: "req-2"})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, client.Close(), "close is idempotent")
}
