// Package playbacktest provides an in-memory playback backend for tests.
package playbacktest

import (
	"context"
	"sync"
)

// Backend records every call made to it.
type Backend struct {
	// ConnectErr is returned by Connect when set.
	ConnectErr error
	// Gate, when set, blocks Connect until it is closed or receives.
	Gate chan struct{}
	// CallErr is returned by Load, Play, Pause and Resume when set.
	CallErr error

	mu     sync.Mutex
	calls  []string
	done   chan struct{}
	closed int
}

// New returns a backend that connects immediately.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

// Calls returns the recorded calls in order. Load calls are recorded as "load <uri>".
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Reset forgets recorded calls.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Closed returns how many times Close was called.
func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Drop simulates the service going away.
func (b *Backend) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
}

func (b *Backend) Connect(ctx context.Context) error {
	b.record("connect")
	if b.Gate != nil {
		select {
		case <-b.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.ConnectErr != nil {
		return b.ConnectErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// Like a real client, an open connection is reused.
	if b.done == nil {
		b.done = make(chan struct{})
	}
	return nil
}

func (b *Backend) Load(uri string) error {
	b.record("load " + uri)
	return b.CallErr
}

func (b *Backend) Play() error {
	b.record("play")
	return b.CallErr
}

func (b *Backend) Pause() error {
	b.record("pause")
	return b.CallErr
}

func (b *Backend) Resume() error {
	b.record("resume")
	return b.CallErr
}

func (b *Backend) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Close drops the connection, closing the channel returned by Done.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
	return nil
}
