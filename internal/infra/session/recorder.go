package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
)

// Recorder writes every state change to the store and appends newly
// selected songs to the history. Changes delivered after a newer one are
// ignored so the stored snapshot is never older than the last one written.
type Recorder struct {
	store *Store

	mu       sync.Mutex
	lastSong string
	lastSeq  uint64
}

// NewRecorder creates a recorder for store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Attach subscribes the recorder to state and returns the unsubscribe function.
// The song current at attach time is not added to the history again.
func (r *Recorder) Attach(state *player.State) func() {
	snap := state.Snapshot()
	r.mu.Lock()
	r.lastSeq = snap.Seq
	if snap.CurrentSong != nil {
		r.lastSong = snap.CurrentSong.ID
	}
	r.mu.Unlock()
	return state.Subscribe(r.record)
}

func (r *Recorder) record(c player.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Snapshot.Seq < r.lastSeq {
		log.Debug().Uint64("seq", c.Snapshot.Seq).Msg("Skipping late session change")
		return
	}
	r.lastSeq = c.Snapshot.Seq

	if err := r.store.SaveSnapshot(c.Snapshot); err != nil {
		log.Error().Err(err).Str("field", c.Field.String()).Msg("Failed to save session")
	}

	song := c.Snapshot.CurrentSong
	if song == nil || song.ID == r.lastSong {
		return
	}
	r.lastSong = song.ID
	if err := r.store.AddToHistory(*song); err != nil {
		log.Error().Err(err).Str("song", song.ID).Msg("Failed to add song to history")
	}
}
