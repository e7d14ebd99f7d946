// Package player provides the shared playback state observed by the user interfaces.
package player

import (
	"errors"
	"sync"
)

// Status constants for the derived player status.
const (
	StatusPlay  = "play"
	StatusPause = "pause"
	StatusStop  = "stop"
)

var (
	// ErrNoCurrentSong is returned when playback is requested without a selected song.
	ErrNoCurrentSong = errors.New("no current song")

	// ErrQueueIndex is returned for queue positions outside the queue.
	ErrQueueIndex = errors.New("queue index out of range")
)

// Field identifies which part of the state a change touched.
type Field int

const (
	FieldCurrentSong Field = iota
	FieldPlaying
	FieldQueue
	// FieldAll is used when the whole state was replaced at once.
	FieldAll
)

func (f Field) String() string {
	switch f {
	case FieldCurrentSong:
		return "currentSong"
	case FieldPlaying:
		return "playing"
	case FieldQueue:
		return "queue"
	case FieldAll:
		return "all"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the state.
type Snapshot struct {
	CurrentSong *Song  `json:"currentSong,omitempty"`
	Playing     bool   `json:"playing"`
	Queue       []Song `json:"queue"`

	// Seq increases with every accepted mutation. Observers that keep only
	// the latest snapshot use it to ignore deliveries that arrive late.
	Seq uint64 `json:"-"`
}

// Newer reports whether s was taken after other.
func (s Snapshot) Newer(other Snapshot) bool {
	return s.Seq > other.Seq
}

// Status derives the player status from the snapshot.
func (s Snapshot) Status() string {
	switch {
	case s.CurrentSong == nil:
		return StatusStop
	case s.Playing:
		return StatusPlay
	default:
		return StatusPause
	}
}

// ToJSON returns the snapshot as a map suitable for the pushState payload.
func (s Snapshot) ToJSON() map[string]interface{} {
	out := map[string]interface{}{
		"status":   s.Status(),
		"playing":  s.Playing,
		"title":    "",
		"artist":   "",
		"album":    "",
		"albumart": "",
		"uri":      "",
		"duration": 0,
	}
	if s.CurrentSong != nil {
		out["id"] = s.CurrentSong.ID
		out["title"] = s.CurrentSong.Title
		out["artist"] = s.CurrentSong.Artist
		out["album"] = s.CurrentSong.Album
		out["albumart"] = s.CurrentSong.CoverURL
		out["uri"] = s.CurrentSong.PreviewURL
		out["duration"] = s.CurrentSong.Duration
	}
	return out
}

// Change is delivered to observers after every accepted mutation.
type Change struct {
	Field    Field
	Snapshot Snapshot
}

type observer struct {
	id int
	fn func(Change)
}

// State holds the current song, the playing flag and the pending queue.
// It is safe for concurrent access. Observers are notified synchronously in
// the mutating goroutine, after the lock is released. Concurrent mutators
// may therefore deliver out of order; compare Snapshot.Seq to detect it.
type State struct {
	mu        sync.RWMutex
	seq       uint64
	current   *Song
	playing   bool
	queue     []Song
	nextID    int
	observers []observer
}

// NewState creates an empty state: no song, paused, empty queue.
func NewState() *State {
	return &State{}
}

// Subscribe registers fn to be called on every change.
// The returned function removes the registration.
func (s *State) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// SetCurrentSong replaces the current song. A nil song also clears the playing flag.
func (s *State) SetCurrentSong(song *Song) {
	s.mu.Lock()
	var cleared bool
	if song == nil {
		s.current = nil
		cleared = s.playing
		s.playing = false
	} else {
		cp := *song
		s.current = &cp
	}
	s.seq++
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, Change{Field: FieldCurrentSong, Snapshot: snap})
	if cleared {
		notify(obs, Change{Field: FieldPlaying, Snapshot: snap})
	}
}

// SetPlayingState sets the playing flag. Playing without a current song is
// rejected with ErrNoCurrentSong.
func (s *State) SetPlayingState(playing bool) error {
	s.mu.Lock()
	if playing && s.current == nil {
		s.mu.Unlock()
		return ErrNoCurrentSong
	}
	s.playing = playing
	s.seq++
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, Change{Field: FieldPlaying, Snapshot: snap})
	return nil
}

// AddSongToQueue appends song to the queue. Repeats are allowed.
func (s *State) AddSongToQueue(song Song) {
	s.mu.Lock()
	s.queue = append(s.queue, song)
	s.seq++
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, Change{Field: FieldQueue, Snapshot: snap})
}

// RemoveFromQueue removes the song at index.
func (s *State) RemoveFromQueue(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.queue) {
		s.mu.Unlock()
		return ErrQueueIndex
	}
	s.queue = append(s.queue[:index:index], s.queue[index+1:]...)
	s.seq++
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, Change{Field: FieldQueue, Snapshot: snap})
	return nil
}

// MoveQueueItem moves the song at from to position to.
func (s *State) MoveQueueItem(from, to int) error {
	s.mu.Lock()
	n := len(s.queue)
	if from < 0 || from >= n || to < 0 || to >= n {
		s.mu.Unlock()
		return ErrQueueIndex
	}
	song := s.queue[from]
	rest := append(s.queue[:from:from], s.queue[from+1:]...)
	queue := make([]Song, 0, n)
	queue = append(queue, rest[:to]...)
	queue = append(queue, song)
	queue = append(queue, rest[to:]...)
	s.queue = queue
	s.seq++
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, Change{Field: FieldQueue, Snapshot: snap})
	return nil
}

// ClearQueue empties the queue.
func (s *State) ClearQueue() {
	s.mu.Lock()
	s.queue = nil
	s.seq++
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, Change{Field: FieldQueue, Snapshot: snap})
}

// Restore replaces the whole state with snap and notifies once with FieldAll.
// A playing flag without a song is dropped.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	if snap.CurrentSong != nil {
		cp := *snap.CurrentSong
		s.current = &cp
		s.playing = snap.Playing
	} else {
		s.current = nil
		s.playing = false
	}
	s.queue = append([]Song(nil), snap.Queue...)
	s.seq++
	out, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, Change{Field: FieldAll, Snapshot: out})
}

// CurrentSong returns a copy of the current song, or nil.
func (s *State) CurrentSong() *Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// IsPlaying returns the playing flag.
func (s *State) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// Queue returns a copy of the queue.
func (s *State) Queue() []Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Song(nil), s.queue...)
}

// Snapshot returns a copy of the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		Playing: s.playing,
		Queue:   append([]Song(nil), s.queue...),
		Seq:     s.seq,
	}
	if s.current != nil {
		cp := *s.current
		snap.CurrentSong = &cp
	}
	return snap
}

func (s *State) observersLocked() []observer {
	return append([]observer(nil), s.observers...)
}

func notify(obs []observer, c Change) {
	for _, o := range obs {
		o.fn(c)
	}
}
