package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("broker: closed")

// Memory is an in-process Broker for single-node deployments and tests.
// Delivery never blocks the publisher: a subscriber whose buffer is full is
// dropped and its channel closed, and the session behind it resynchronizes.
type Memory struct {
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch   chan []byte
	once sync.Once
}

func NewMemory(buffer int) *Memory {
	if buffer < 1 {
		buffer = 64
	}
	return &Memory{buffer: buffer, subs: make(map[string]map[*subscription]struct{})}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	var laggards []*subscription

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	for sub := range m.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
			laggards = append(laggards, sub)
		}
	}
	m.mu.RUnlock()

	if len(laggards) > 0 {
		log.Warn().Str("channel", channel).Int("count", len(laggards)).Msg("broker: dropping slow subscribers")
		m.mu.Lock()
		for _, sub := range laggards {
			m.removeLocked(channel, sub)
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := &subscription{ch: make(chan []byte, m.buffer)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*subscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()

	cleanup := func() {
		m.mu.Lock()
		m.removeLocked(channel, sub)
		m.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return sub.ch, cleanup, nil
}

// Close drops every subscriber. Further calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for channel, subs := range m.subs {
		for sub := range subs {
			m.removeLocked(channel, sub)
		}
	}
	return nil
}

// removeLocked closes sub under the write lock so no publisher is sending on it.
func (m *Memory) removeLocked(channel string, sub *subscription) {
	sub.once.Do(func() { close(sub.ch) })
	subs := m.subs[channel]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(m.subs, channel)
	}
}
