package socketio

import (
	"sync"
	"time"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
)

// DefaultDebounceWindow coalesces the mutations of a single user action.
const DefaultDebounceWindow = 30 * time.Millisecond

// BroadcastDebouncer collapses rapid state changes into batched broadcasts.
// Multiple changes within the window result in a single broadcast for each
// affected topic (state and/or queue).
type BroadcastDebouncer struct {
	window        time.Duration
	stateCallback func()
	queueCallback func()

	mu           sync.Mutex
	pendingState bool
	pendingQueue bool
	timer        *time.Timer
	stopped      bool
}

// NewBroadcastDebouncer creates a debouncer with the given window duration.
// stateCallback runs after current song or playing changes, queueCallback
// after queue changes.
func NewBroadcastDebouncer(window time.Duration, stateCallback, queueCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:        window,
		stateCallback: stateCallback,
		queueCallback: queueCallback,
	}
}

// Trigger records that field has changed. The callbacks are deferred until
// the window elapses without further triggers.
func (d *BroadcastDebouncer) Trigger(field player.Field) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch field {
	case player.FieldCurrentSong, player.FieldPlaying:
		d.pendingState = true
	case player.FieldQueue:
		d.pendingQueue = true
	case player.FieldAll:
		d.pendingState = true
		d.pendingQueue = true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	doState := d.pendingState
	doQueue := d.pendingQueue
	d.pendingState = false
	d.pendingQueue = false
	d.mu.Unlock()

	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
	if doQueue && d.queueCallback != nil {
		d.queueCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingQueue = false
}
