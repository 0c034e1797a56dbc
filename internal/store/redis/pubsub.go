// Package redis backs the broker seam with Redis pub/sub, for
// deployments where subscribers connect to a different process than the
// one running the orchestrator.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/gosuda/weave/internal/broker"
)

// Options configure the Redis-backed broker.
type Options struct {
	Addr     string
	Password string
	DB       int

	// ChannelPrefix namespaces every channel on the Redis side so
	// several deployments can share one instance. Defaults to "weave:".
	ChannelPrefix string

	// SubscriberBuffer is the per-subscription delivery buffer.
	// Defaults to 64.
	SubscriberBuffer int
}

func (o Options) withDefaults() Options {
	if o.ChannelPrefix == "" {
		o.ChannelPrefix = "weave:"
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
	return o
}

// Broker implements broker.Broker on a Redis connection: every process
// of a deployment publishes and subscribes through the same instance,
// so live feeds work no matter which process serves the socket.
type Broker struct {
	client *redis.Client
	opts   Options

	mu     sync.Mutex
	closed bool
}

var _ broker.Broker = (*Broker)(nil)

// NewBroker connects and verifies the instance is reachable.
func NewBroker(ctx context.Context, opts Options) (*Broker, error) {
	opts = opts.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.NewBroker: ping %s: %w", opts.Addr, err)
	}

	return &Broker{client: client, opts: opts}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.client.Close(); err != nil {
		return fmt.Errorf("redis.Broker.Close: %w", err)
	}
	return nil
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.isClosed() {
		return broker.ErrClosed
	}
	if err := b.client.Publish(ctx, b.opts.ChannelPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.Broker.Publish(%s): %w", channel, err)
	}
	return nil
}

// Subscribe opens a server-side subscription and forwards its messages
// until ctx ends or cancel is called. Cancel is idempotent.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	if b.isClosed() {
		return nil, nil, broker.ErrClosed
	}

	sub := b.client.Subscribe(ctx, b.opts.ChannelPrefix+channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.Broker.Subscribe(%s): %w", channel, err)
	}

	out := make(chan []byte, b.opts.SubscriberBuffer)
	go forward(sub, out)

	var once sync.Once
	cancel := func() { once.Do(func() { _ = sub.Close() }) }
	context.AfterFunc(ctx, cancel)

	return out, cancel, nil
}

// forward copies one subscription until it closes. A slow consumer
// drops messages rather than stall delivery, the same contract the
// in-memory broker has.
func forward(sub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	for msg := range sub.Channel() {
		select {
		case out <- []byte(msg.Payload):
		default:
		}
	}
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
