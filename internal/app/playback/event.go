package playback

import "github.com/osa030/guildplay/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Item started playing
	EventTrackEnded                    // Item finished playing
	EventTrackSkipped                  // Item was skipped
	EventTrackRetried                  // Item restarted after a transient error
	EventTrackFailed                   // Item failed and was dropped
	EventStateChanged                  // Pause, resume, volume or loop change
	EventQueueEmpty                    // Queue drained and output stopped
	EventTornDown                      // Session was torn down
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackRetried:
		return "track_retried"
	case EventTrackFailed:
		return "track_failed"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	TenantID string
	Type     EventType
	Item     *track.Item // Current or affected item (nil for some events)
	State    State       // Playback state after the transition
	Err      error       // Cause for EventTrackFailed and EventTrackRetried
}
