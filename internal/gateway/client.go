package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed       = errors.New("gateway: client closed")
	ErrNotConnected = errors.New("gateway: not connected")
	ErrDuplicateID  = errors.New("gateway: request id already in flight")
)

// State is the connection state machine.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateBackoff    State = "backoff"
)

// Conn is the subset of *websocket.Conn the client needs. Tests inject
// fakes; production uses DialWebsocket.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer establishes one connection to the execution service.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebsocket is the production dialer.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway.DialWebsocket: %w", err)
	}
	conn.SetReadLimit(1 << 22)
	return conn, nil
}

// Clock abstracts time for backoff tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// InterruptFunc is invoked with the request IDs that were in flight when
// the connection dropped, after their streams have been closed.
type InterruptFunc func(requestIDs []string)

// stream is one request's delivery channel with close-once semantics, so
// a late dispatch racing an abort or disconnect never sends on a closed
// channel.
type stream struct {
	mu     sync.Mutex
	ch     chan ServerMessage
	closed bool
}

func newStream() *stream {
	return &stream{ch: make(chan ServerMessage, 64)}
}

func (s *stream) send(msg ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.ch <- msg
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Client multiplexes logical requests over one connection to the
// execution service. A dropped connection closes every in-flight stream,
// reports the interrupted request IDs, and reconnects with exponential
// backoff in the background.
type Client struct {
	url     string
	dial    Dialer
	backoff Backoff
	clock   Clock

	onInterrupt InterruptFunc

	mu      sync.Mutex
	state   State
	conn    Conn
	pending map[string]*stream
	closed  bool
	done    chan struct{}

	wg sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(dial Dialer) Option {
	return func(c *Client) { c.dial = dial }
}

// WithBackoff replaces the reconnect backoff schedule.
func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithClock replaces the backoff clock.
func WithClock(clock Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithInterruptHandler registers the stream interruption callback.
func WithInterruptHandler(fn InterruptFunc) Option {
	return func(c *Client) { c.onInterrupt = fn }
}

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		dial:    DialWebsocket,
		backoff: DefaultBackoff(),
		clock:   realClock{},
		state:   StateIdle,
		pending: make(map[string]*stream),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the service and starts the read loop. Returns once the
// connection is established or the dial fails; later disconnects are
// handled by the background reconnect loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.url)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("gateway.Client.Connect: %w", err)
	}

	c.adopt(ctx, conn)
	return nil
}

func (c *Client) adopt(ctx context.Context, conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	log.Info().Str("url", c.url).Msg("gateway: connected")

	c.wg.Go(func() {
		c.readLoop(ctx, conn)
	})
}

// Execute sends an execute message and returns the stream of server
// messages for that request ID. The channel is closed after the done or
// error marker, after an Abort, or when the connection drops.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (<-chan ServerMessage, error) {
	st := newStream()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if _, ok := c.pending[req.RequestID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("gateway.Client.Execute: %w: %s", ErrDuplicateID, req.RequestID)
	}
	c.pending[req.RequestID] = st
	conn := c.conn
	c.mu.Unlock()

	msg := ClientMessage{
		Type:          MessageExecute,
		RequestID:     req.RequestID,
		SessionID:     req.SessionID,
		Prompt:        req.Prompt,
		ResumeID:      req.ResumeID,
		StrategyHints: req.StrategyHints,
	}
	if err := c.write(ctx, conn, msg); err != nil {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
		st.close()
		return nil, fmt.Errorf("gateway.Client.Execute: %w", err)
	}
	return st.ch, nil
}

// Abort cancels one in-flight request. Its stream channel is closed and
// server-side teardown is requested over the wire.
func (c *Client) Abort(ctx context.Context, requestID string) error {
	c.mu.Lock()
	st, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if ok {
		st.close()
	}
	if !connected {
		return ErrNotConnected
	}
	msg := ClientMessage{Type: MessageAbort, RequestID: requestID}
	if err := c.write(ctx, conn, msg); err != nil {
		return fmt.Errorf("gateway.Client.Abort: %w", err)
	}
	return nil
}

// Answer forwards a user-supplied value to a request blocked on a
// question from the service.
func (c *Client) Answer(ctx context.Context, requestID, value string) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	msg := ClientMessage{Type: MessageAnswer, RequestID: requestID, Value: value}
	if err := c.write(ctx, conn, msg); err != nil {
		return fmt.Errorf("gateway.Client.Answer: %w", err)
	}
	return nil
}

// Close tears down the connection and every in-flight stream. The client
// cannot be reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateIdle
	close(c.done)
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]*stream)
	c.mu.Unlock()

	for _, st := range pending {
		st.close()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	c.wg.Wait()
	return nil
}

func (c *Client) write(ctx context.Context, conn Conn, msg ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) readLoop(ctx context.Context, conn Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(ctx, conn, err)
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("gateway: dropping malformed server message")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg ServerMessage) {
	c.mu.Lock()
	st, ok := c.pending[msg.RequestID]
	terminal := msg.Type == MessageDone || msg.Type == MessageError
	if ok && terminal {
		delete(c.pending, msg.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		log.Debug().Str("request_id", msg.RequestID).Str("type", msg.Type).
			Msg("gateway: message for unknown request")
		return
	}

	st.send(msg)
	if terminal {
		st.close()
	}
}

// handleDisconnect closes every in-flight stream, reports the
// interruption, and schedules reconnection unless the client was closed.
func (c *Client) handleDisconnect(ctx context.Context, conn Conn, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateBackoff
	interrupted := make([]string, 0, len(c.pending))
	streams := make([]*stream, 0, len(c.pending))
	for id, st := range c.pending {
		interrupted = append(interrupted, id)
		streams = append(streams, st)
	}
	c.pending = make(map[string]*stream)
	c.mu.Unlock()

	_ = conn.Close(websocket.StatusGoingAway, "disconnected")
	for _, st := range streams {
		st.close()
	}

	log.Warn().Err(cause).Int("interrupted", len(interrupted)).
		Msg("gateway: connection lost")

	if c.onInterrupt != nil && len(interrupted) > 0 {
		c.onInterrupt(interrupted)
	}

	c.wg.Go(func() {
		c.reconnectLoop(ctx)
	})
}

func (c *Client) reconnectLoop(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		delay := c.backoff.Delay(attempt)
		log.Info().Int("attempt", attempt+1).Dur("delay", delay).
			Msg("gateway: reconnecting")

		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.state = StateIdle
			c.mu.Unlock()
			return
		case <-c.done:
			return
		case <-c.clock.After(delay):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		conn, err := c.dial(ctx, c.url)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).
				Msg("gateway: reconnect failed")
			c.mu.Lock()
			c.state = StateBackoff
			c.mu.Unlock()
			continue
		}

		c.adopt(ctx, conn)
		return
	}
}
