// Package broker is the fan-out seam between the correlation engines and
// live subscribers. The in-memory implementation serves a single-process
// deployment; the redis-backed one lives in internal/store/redis.
package broker

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("broker: closed")

// Broker publishes opaque payloads to named channels and hands out
// subscription streams.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// Memory is a process-local Broker. Slow subscribers drop messages
// rather than stall publishers.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte
	nextID int
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan []byte)}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs[channel] {
		select {
		case ch <- payload:
		default:
			// Subscriber not keeping up; drop rather than block the
			// correlation engine.
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}

	id := m.nextID
	m.nextID++
	ch := make(chan []byte, 64)
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]chan []byte)
	}
	m.subs[channel][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if set, ok := m.subs[channel]; ok {
				if sub, ok := set[id]; ok {
					delete(set, id)
					close(sub)
					if len(set) == 0 {
						delete(m.subs, channel)
					}
				}
			}
		})
	}

	context.AfterFunc(ctx, cancel)
	return ch, cancel, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for channel, set := range m.subs {
		for _, ch := range set {
			close(ch)
		}
		delete(m.subs, channel)
	}
	return nil
}
