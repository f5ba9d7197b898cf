// Package memory connects components running in one process. It is used
// by tests and by the run command.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/anggasct/logicdriver/pkg/network"
)

var (
	ErrHubClosed      = errors.New("memory: hub is closed")
	ErrSubscriberFull = errors.New("memory: subscriber buffer is full")
)

// DefaultBufferSize is the per subscriber buffer of NewTransport.
const DefaultBufferSize = 256

// Hub fans every published message out to all subscribers. Send never
// blocks: a subscriber with a full buffer misses the message and Send
// reports ErrSubscriberFull. All methods are safe for concurrent use.
type Hub[T any] struct {
	mu          sync.RWMutex
	subscribers map[chan T]struct{}
	bufferSize  int
	closed      bool
	done        chan struct{}
	cleanupWg   sync.WaitGroup
}

// NewHub creates a hub. The buffer size is at least 1.
func NewHub[T any](bufferSize int) *Hub[T] {
	return &Hub[T]{
		subscribers: make(map[chan T]struct{}),
		bufferSize:  max(bufferSize, 1),
		done:        make(chan struct{}),
	}
}

// NewTransport returns a hub carrying network envelopes.
func NewTransport() *Hub[network.Envelope] {
	return NewHub[network.Envelope](DefaultBufferSize)
}

var _ network.Transport = (*Hub[network.Envelope])(nil)

// Subscribe registers a subscriber. The channel is closed when ctx ends or
// the hub is closed.
func (h *Hub[T]) Subscribe(ctx context.Context) (<-chan T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	ch := make(chan T, h.bufferSize)
	h.subscribers[ch] = struct{}{}

	if ctx.Done() != nil {
		h.cleanupWg.Add(1)
		go func() {
			defer h.cleanupWg.Done()
			select {
			case <-ctx.Done():
				h.unsubscribe(ch)
			case <-h.done:
			}
		}()
	}
	return ch, nil
}

// Send delivers msg to every subscriber.
func (h *Hub[T]) Send(ctx context.Context, msg T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}

	var dropped bool
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			dropped = true
		}
	}
	if dropped {
		return ErrSubscriberFull
	}
	return nil
}

// Subscribers returns the number of active subscribers.
func (h *Hub[T]) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. It is safe to call Close more
// than once.
func (h *Hub[T]) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	for ch := range h.subscribers {
		close(ch)
	}
	clear(h.subscribers)
	h.mu.Unlock()

	h.cleanupWg.Wait()
	return nil
}

func (h *Hub[T]) unsubscribe(ch chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; !ok {
		return
	}
	delete(h.subscribers, ch)
	close(ch)
}
