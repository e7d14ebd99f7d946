// Package search implements the search results list and the actions a user
// can take on a result row.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
	"github.com/edumarques81/kittunes-backend/internal/infra/deezer"
	"github.com/edumarques81/kittunes-backend/internal/metrics"
)

// MsgLoadFailed is shown when the lookup service cannot be reached.
const MsgLoadFailed = "Failed to load search results"

// ErrIndexOutOfRange is returned for row indexes outside the result list.
var ErrIndexOutOfRange = errors.New("result index out of range")

// Lookup is the remote song lookup service.
type Lookup interface {
	SearchTracks(ctx context.Context, query string) ([]player.Song, error)
}

// Connector is the subset of the playback connector used to start a selection.
type Connector interface {
	IsBound() bool
	Bind(ctx context.Context, onBound func())
	CurrentSong() *player.Song
	PrepareSong(song player.Song) error
	StartPlayback() error
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(message string)
}

// PlaylistAdder stores a song in a playlist. An empty playlistID targets the default playlist.
type PlaylistAdder interface {
	AddTrack(ctx context.Context, playlistID string, song player.Song) error
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where transient messages go.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithPlaylists sets the playlist collaborator.
func WithPlaylists(p PlaylistAdder) Option {
	return func(s *Service) {
		s.playlists = p
	}
}

// Service holds the current search results. Every non-blank query issues one
// lookup; only the response to the latest query is applied.
type Service struct {
	lookup    Lookup
	state     *player.State
	conn      Connector
	notifier  Notifier
	playlists PlaylistAdder

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// pubMu orders result publication so observers never see an older list last.
	pubMu     sync.Mutex
	mu        sync.Mutex
	query     string
	results   []player.Song
	gen       uint64
	cancel    context.CancelFunc
	listeners []func([]player.Song)
}

// NewService creates a search service.
func NewService(lookup Lookup, state *player.State, conn Connector, opts ...Option) *Service {
	ctx, stop := context.WithCancel(context.Background())
	s := &Service{
		lookup: lookup,
		state:  state,
		conn:   conn,
		ctx:    ctx,
		stop:   stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnResults registers fn to receive the result list after every change.
// fn must not call Search.
func (s *Service) OnResults(fn func([]player.Song)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Results returns a copy of the displayed results.
func (s *Service) Results() []player.Song {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]player.Song(nil), s.results...)
}

// Query returns the last query passed to Search.
func (s *Service) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Search updates the results for query. A blank query clears the list
// without a lookup. Any in-flight lookup is cancelled and its response ignored.
func (s *Service) Search(query string) {
	trimmed := strings.TrimSpace(query)

	s.pubMu.Lock()
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.query = query
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if trimmed == "" {
		s.results = nil
		listeners := s.listenersLocked()
		s.mu.Unlock()

		log.Debug().Msg("Blank query, clearing results")
		publish(listeners, nil)
		s.pubMu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.mu.Unlock()
	s.pubMu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, cancel, gen, trimmed)
}

func (s *Service) run(ctx context.Context, cancel context.CancelFunc, gen uint64, query string) {
	defer s.wg.Done()
	defer cancel()

	start := time.Now()
	songs, err := s.lookup.SearchTracks(ctx, query)
	elapsed := time.Since(start)

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		metrics.ObserveSearch(metrics.SearchSuperseded, elapsed)
		log.Debug().Str("query", query).Msg("Discarding superseded search response")
		return
	}
	s.cancel = nil

	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
			return
		}
		s.fail(query, err, elapsed)
		return
	}

	s.results = songs
	listeners := s.listenersLocked()
	s.mu.Unlock()

	metrics.ObserveSearch(metrics.SearchOK, elapsed)
	log.Info().Str("query", query).Int("results", len(songs)).Dur("took", elapsed).Msg("Search completed")
	publish(listeners, append([]player.Song(nil), songs...))
}

// fail reports a lookup error to the user. Results are left untouched.
func (s *Service) fail(query string, err error, elapsed time.Duration) {
	var apiErr *deezer.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		outcome := metrics.SearchRejected
		if errors.Is(err, deezer.ErrTemporaryFailure) {
			outcome = metrics.SearchFailed
		}
		metrics.ObserveSearch(outcome, elapsed)
		log.Warn().Str("query", query).Int("status", apiErr.StatusCode).Str("message", apiErr.Message).Msg("Search rejected")
		s.notify(apiErr.Message)
	case errors.Is(err, deezer.ErrRateLimited):
		metrics.ObserveSearch(metrics.SearchRejected, elapsed)
		log.Warn().Str("query", query).Msg("Search rate limited")
		s.notify("Too many searches, try again in a moment")
	default:
		metrics.ObserveSearch(metrics.SearchFailed, elapsed)
		log.Error().Err(err).Str("query", query).Msg("Search failed")
		s.notify(MsgLoadFailed)
	}
}

// Select treats the row at index as the user's pick: it is queued, becomes
// the current song, is marked playing, and playback is started.
func (s *Service) Select(index int) error {
	song, err := s.resultAt(index)
	if err != nil {
		return err
	}
	s.SelectSong(song)
	return nil
}

// SelectSong is Select for a song that is not necessarily in the result list.
func (s *Service) SelectSong(song player.Song) {
	log.Info().Str("song", song.ID).Str("title", song.Title).Msg("Song selected")

	s.state.AddSongToQueue(song)
	s.state.SetCurrentSong(&song)
	if err := s.state.SetPlayingState(true); err != nil {
		log.Warn().Err(err).Msg("Could not mark selection as playing")
		return
	}

	if s.conn.IsBound() {
		s.playCurrent()
		return
	}
	s.conn.Bind(s.ctx, s.playCurrent)
}

// playCurrent loads the current song on the service if needed and starts it.
func (s *Service) playCurrent() {
	song := s.state.CurrentSong()
	if song == nil {
		return
	}

	if loaded := s.conn.CurrentSong(); loaded == nil || loaded.ID != song.ID {
		if err := s.conn.PrepareSong(*song); err != nil {
			log.Error().Err(err).Str("song", song.ID).Msg("Failed to prepare song")
			s.notify(fmt.Sprintf("Unable to play %s", song.Title))
			return
		}
	}
	if err := s.conn.StartPlayback(); err != nil {
		log.Error().Err(err).Str("song", song.ID).Msg("Failed to start playback")
		s.notify(fmt.Sprintf("Unable to play %s", song.Title))
	}
}

// AddToQueue appends the row at index to the queue.
func (s *Service) AddToQueue(index int) error {
	song, err := s.resultAt(index)
	if err != nil {
		return err
	}
	s.state.AddSongToQueue(song)
	log.Info().Str("song", song.ID).Msg("Song added to queue")
	return nil
}

// AddToPlaylist hands the row at index to the playlist collaborator.
func (s *Service) AddToPlaylist(ctx context.Context, index int, playlistID string) error {
	song, err := s.resultAt(index)
	if err != nil {
		return err
	}
	if s.playlists == nil {
		return errors.New("playlists not available")
	}

	if err := s.playlists.AddTrack(ctx, playlistID, song); err != nil {
		log.Error().Err(err).Str("song", song.ID).Str("playlist", playlistID).Msg("Failed to add song to playlist")
		s.notify("Failed to add to playlist")
		return err
	}

	log.Info().Str("song", song.ID).Str("playlist", playlistID).Msg("Song added to playlist")
	s.notify(fmt.Sprintf("Added %s to playlist", song.Title))
	return nil
}

// Wait blocks until in-flight lookups have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight lookups and waits for them.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Service) resultAt(index int) (player.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.results) {
		return player.Song{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return s.results[index], nil
}

func (s *Service) notify(msg string) {
	if s.notifier != nil {
		s.notifier.Notify(msg)
	}
}

func (s *Service) listenersLocked() []func([]player.Song) {
	return slices.Clone(s.listeners)
}

func publish(listeners []func([]player.Song), songs []player.Song) {
	for _, fn := range listeners {
		fn(songs)
	}
}
