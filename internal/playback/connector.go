// Package playback connects the application to the out-of-process playback service.
package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
)

// ErrNotPlayable is returned when a song has no stream to load.
var ErrNotPlayable = errors.New("song has no playable stream")

// Backend is the transport to a playback service process.
type Backend interface {
	// Connect attaches to the service. It must return once the service is usable.
	Connect(ctx context.Context) error
	// Load replaces whatever is loaded with uri without starting playback.
	Load(uri string) error
	Play() error
	Pause() error
	Resume() error
	// Done is closed when the connection established by Connect is lost.
	Done() <-chan struct{}
	Close() error
}

// ConnState is the binding state of a Connector.
type ConnState int

const (
	Unbound ConnState = iota
	Binding
	Bound
)

func (s ConnState) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Connector binds to a playback service and forwards playback calls once bound.
// Calls made while not bound are dropped. Lost connections are not retried.
//
// Every bind session shares the one backend, so the backend is only closed
// while mu is held and no newer session exists.
type Connector struct {
	backend Backend

	mu        sync.Mutex
	state     ConnState
	current   *player.Song
	pending   []func()
	listeners []func(ConnState)
	session   chan struct{} // closed when the current bind session ends
}

// NewConnector creates an unbound connector for backend.
func NewConnector(backend Backend) *Connector {
	return &Connector{backend: backend}
}

// State returns the binding state.
func (c *Connector) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsBound reports whether playback calls are currently forwarded.
func (c *Connector) IsBound() bool {
	return c.State() == Bound
}

// CurrentSong returns the song last prepared on the service, or nil.
func (c *Connector) CurrentSong() *player.Song {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// OnStateChange registers fn to be called after every state transition.
func (c *Connector) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Bind starts attaching to the playback service. onBound, if not nil, runs
// once the connector is bound: immediately when already bound, after the
// pending attempt when one is in flight. A failed attempt drops the callbacks.
func (c *Connector) Bind(ctx context.Context, onBound func()) {
	c.mu.Lock()
	switch c.state {
	case Bound:
		c.mu.Unlock()
		if onBound != nil {
			onBound()
		}
		return
	case Binding:
		if onBound != nil {
			c.pending = append(c.pending, onBound)
		}
		c.mu.Unlock()
		return
	}

	c.state = Binding
	if onBound != nil {
		c.pending = append(c.pending, onBound)
	}
	session := make(chan struct{})
	c.session = session
	listeners := c.listenersLocked()
	c.mu.Unlock()

	log.Info().Msg("Binding playback service")
	fire(listeners, Binding)

	go c.connect(ctx, session)
}

func (c *Connector) connect(ctx context.Context, session chan struct{}) {
	err := c.backend.Connect(ctx)

	c.mu.Lock()
	if c.session != session || c.state != Binding {
		// Unbound while connecting. A newer session may already be using
		// the connection this attempt opened.
		if err == nil && c.session == nil {
			c.backend.Close()
		}
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.state = Unbound
		c.pending = nil
		c.session = nil
		close(session)
		listeners := c.listenersLocked()
		c.mu.Unlock()

		log.Warn().Err(err).Msg("Failed to bind playback service")
		fire(listeners, Unbound)
		return
	}

	c.state = Bound
	pending := c.pending
	c.pending = nil
	listeners := c.listenersLocked()
	done := c.backend.Done()
	c.mu.Unlock()

	log.Info().Msg("Playback service bound")
	go c.watch(session, done)

	fire(listeners, Bound)
	for _, fn := range pending {
		fn()
	}
}

// watch flips the connector back to Unbound when the backend drops.
func (c *Connector) watch(session chan struct{}, done <-chan struct{}) {
	select {
	case <-session:
		return
	case <-done:
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	c.state = Unbound
	c.current = nil
	c.session = nil
	close(session)
	c.backend.Close()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	log.Warn().Msg("Playback service disconnected")
	fire(listeners, Unbound)
}

// Unbind detaches from the playback service.
func (c *Connector) Unbind() error {
	c.mu.Lock()
	prev := c.state
	if prev == Unbound {
		c.mu.Unlock()
		return nil
	}
	c.state = Unbound
	c.current = nil
	c.pending = nil
	if c.session != nil {
		close(c.session)
		c.session = nil
	}
	var err error
	if prev == Bound {
		err = c.backend.Close()
	}
	listeners := c.listenersLocked()
	c.mu.Unlock()

	log.Info().Str("from", prev.String()).Msg("Unbinding playback service")
	fire(listeners, Unbound)
	return err
}

// PrepareSong loads song on the service without starting it.
func (c *Connector) PrepareSong(song player.Song) error {
	if !c.IsBound() {
		log.Debug().Str("song", song.ID).Msg("Playback service not bound, dropping prepareSong")
		return nil
	}
	if !song.Playable() {
		return fmt.Errorf("%w: %s", ErrNotPlayable, song.ID)
	}

	if err := c.backend.Load(song.PreviewURL); err != nil {
		return fmt.Errorf("prepare song %s: %w", song.ID, err)
	}

	c.mu.Lock()
	c.current = &song
	c.mu.Unlock()

	log.Info().Str("song", song.ID).Str("title", song.Title).Msg("Song prepared")
	return nil
}

// StartPlayback starts the prepared song.
func (c *Connector) StartPlayback() error {
	return c.forward("startPlayback", c.backend.Play)
}

// PausePlayback pauses playback.
func (c *Connector) PausePlayback() error {
	return c.forward("pausePlayback", c.backend.Pause)
}

// ResumePlayback resumes paused or prepared playback.
func (c *Connector) ResumePlayback() error {
	return c.forward("resumePlayback", c.backend.Resume)
}

func (c *Connector) forward(op string, fn func() error) error {
	if !c.IsBound() {
		log.Debug().Str("op", op).Msg("Playback service not bound, dropping call")
		return nil
	}
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Debug().Str("op", op).Msg("Playback call forwarded")
	return nil
}

func (c *Connector) listenersLocked() []func(ConnState) {
	return slices.Clone(c.listeners)
}

func fire(listeners []func(ConnState), s ConnState) {
	for _, fn := range listeners {
		fn(s)
	}
}
