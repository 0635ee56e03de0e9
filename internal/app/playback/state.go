// Package playback provides the per-tenant playback session and its scheduler.
package playback

import "github.com/cockroachdb/errors"

// State represents the playback state.
type State int

const (
	StateEmpty   State = iota // No current item
	StatePlaying              // Item is playing
	StatePaused               // Item is paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// LoopMode controls what happens when the current item finishes.
// The numeric values are the synchronization wire values.
type LoopMode int

const (
	LoopNone  LoopMode = 0 // Stop when the queue drains
	LoopQueue LoopMode = 1 // Re-append each finished item to the tail
	LoopTrack LoopMode = 2 // Replay the finished item indefinitely
)

// ErrInvalidLoopMode is returned for out-of-range loop values.
var ErrInvalidLoopMode = errors.New("invalid loop mode")

// ParseLoopMode converts a wire value to a LoopMode.
func ParseLoopMode(v int) (LoopMode, error) {
	switch LoopMode(v) {
	case LoopNone, LoopQueue, LoopTrack:
		return LoopMode(v), nil
	default:
		return LoopNone, errors.Wrapf(ErrInvalidLoopMode, "value=%d", v)
	}
}

// String returns the string representation of the loop mode.
func (m LoopMode) String() string {
	switch m {
	case LoopNone:
		return "none"
	case LoopQueue:
		return "queue"
	case LoopTrack:
		return "track"
	default:
		return "unknown"
	}
}

// EndReason tells the session why the player stopped an item.
type EndReason int

const (
	EndFinished   EndReason = iota // Reached the end naturally
	EndLoadFailed                  // Player could not load the audio
	EndStopped                     // Stopped by the session
	EndReplaced                    // Replaced by another item
	EndCleanup                     // Output binding went away
)

// MayStartNext reports whether the scheduler should move on after this end.
func (r EndReason) MayStartNext() bool {
	return r == EndFinished || r == EndLoadFailed
}

// String returns the string representation of the reason.
func (r EndReason) String() string {
	switch r {
	case EndFinished:
		return "finished"
	case EndLoadFailed:
		return "load_failed"
	case EndStopped:
		return "stopped"
	case EndReplaced:
		return "replaced"
	case EndCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}
