// Package nowplaying keeps the persistent now-playing bar in sync with the
// shared playback state and reconciles the playback service with it.
package nowplaying

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
	"github.com/edumarques81/kittunes-backend/internal/playback"
)

// Bar is what the now-playing bar shows.
type Bar struct {
	Visible  bool   `json:"visible"`
	SongID   string `json:"id,omitempty"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverURL string `json:"albumart"`
	Playing  bool   `json:"playing"`
}

// BarFromSnapshot renders the bar for a state snapshot.
func BarFromSnapshot(snap player.Snapshot) Bar {
	if snap.CurrentSong == nil {
		return Bar{}
	}
	return Bar{
		Visible:  true,
		SongID:   snap.CurrentSong.ID,
		Title:    snap.CurrentSong.Title,
		Artist:   snap.CurrentSong.Artist,
		CoverURL: snap.CurrentSong.CoverURL,
		Playing:  snap.Playing,
	}
}

// Connector is the subset of the playback connector the host drives.
type Connector interface {
	IsBound() bool
	CurrentSong() *player.Song
	OnStateChange(fn func(playback.ConnState))
	PrepareSong(song player.Song) error
	PausePlayback() error
	ResumePlayback() error
}

// Host owns the now-playing bar.
type Host struct {
	state *player.State
	conn  Connector

	unsubscribe func()

	mu        sync.Mutex
	bar       Bar
	rendered  player.Snapshot // last snapshot the bar was rendered from
	listeners []func(Bar)
	closed    bool
}

// NewHost creates a host observing state. The bar is rendered from the
// current state; call Restore to reconcile the playback service.
func NewHost(state *player.State, conn Connector) *Host {
	snap := state.Snapshot()
	h := &Host{
		state:    state,
		conn:     conn,
		bar:      BarFromSnapshot(snap),
		rendered: snap,
	}
	h.unsubscribe = state.Subscribe(h.onChange)
	conn.OnStateChange(func(s playback.ConnState) {
		if s == playback.Bound {
			h.Restore()
		}
	})
	return h
}

// Bar returns the bar as currently rendered.
func (h *Host) Bar() Bar {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bar
}

// OnBarChange registers fn to receive the bar after every render.
func (h *Host) OnBarChange(fn func(Bar)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Host) onChange(c player.Change) {
	if !h.render(c.Snapshot) {
		log.Debug().Uint64("seq", c.Snapshot.Seq).Msg("Ignoring late state change")
		return
	}

	if c.Field != player.FieldCurrentSong {
		return
	}
	song := c.Snapshot.CurrentSong
	if song == nil || !h.conn.IsBound() {
		return
	}
	if loaded := h.conn.CurrentSong(); loaded != nil && loaded.ID == song.ID {
		return
	}
	if err := h.conn.PrepareSong(*song); err != nil {
		log.Error().Err(err).Str("song", song.ID).Msg("Failed to prepare new current song")
	}
}

// render shows snap unless a newer snapshot is already on the bar.
func (h *Host) render(snap player.Snapshot) bool {
	bar := BarFromSnapshot(snap)

	h.mu.Lock()
	if h.closed || h.rendered.Newer(snap) {
		h.mu.Unlock()
		return false
	}
	h.bar = bar
	h.rendered = snap
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(bar)
	}
	return true
}

// TogglePlayPause pauses a playing song or resumes a paused one, then
// mirrors the outcome into the shared state.
func (h *Host) TogglePlayPause() error {
	snap := h.state.Snapshot()
	if snap.CurrentSong == nil {
		return player.ErrNoCurrentSong
	}

	if snap.Playing {
		if err := h.conn.PausePlayback(); err != nil {
			log.Error().Err(err).Msg("Pause failed")
			return err
		}
		log.Info().Str("song", snap.CurrentSong.ID).Msg("Paused")
		return h.state.SetPlayingState(false)
	}

	if err := h.conn.ResumePlayback(); err != nil {
		log.Error().Err(err).Msg("Resume failed")
		return err
	}
	log.Info().Str("song", snap.CurrentSong.ID).Msg("Resumed")
	return h.state.SetPlayingState(true)
}

// Restore renders the bar from the state left over by a previous session and,
// when the playback service is bound, loads that song and pauses or resumes it
// to match the playing flag.
func (h *Host) Restore() {
	snap := h.state.Snapshot()
	h.render(snap)

	if snap.CurrentSong == nil {
		log.Debug().Msg("Nothing to restore")
		return
	}
	if !h.conn.IsBound() {
		log.Debug().Str("song", snap.CurrentSong.ID).Msg("Playback service not bound, restore deferred")
		return
	}

	if err := h.conn.PrepareSong(*snap.CurrentSong); err != nil {
		log.Error().Err(err).Str("song", snap.CurrentSong.ID).Msg("Failed to restore song")
		return
	}

	var err error
	if snap.Playing {
		err = h.conn.ResumePlayback()
	} else {
		err = h.conn.PausePlayback()
	}
	if err != nil {
		log.Error().Err(err).Bool("playing", snap.Playing).Msg("Failed to restore playback")
		return
	}

	log.Info().
		Str("song", snap.CurrentSong.ID).
		Bool("playing", snap.Playing).
		Msg("Playback restored")
}

// Close stops observing the state.
func (h *Host) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.unsubscribe()
}
