package playback

import (
	"strings"
	"time"

	"github.com/osa030/guildplay/internal/domain/track"
)

// Player is the voice output binding of one tenant.
//
// Every method is called with the session lock held, so implementations
// must return promptly and deliver OnTrackEnd/OnTrackException callbacks
// from their own goroutine, never from inside one of these calls.
type Player interface {
	// Play starts the item at start, replacing whatever is playing.
	// The player must not read the item's cursor after Play returns.
	Play(it *track.Item, start time.Duration)
	// Stop stops the output.
	Stop()
	SetPaused(paused bool)
	SetVolume(volume int)
	Seek(pos time.Duration)
	// Position returns how far the current item has played.
	Position() time.Duration
	// Joined reports whether the binding is still attached to a live destination.
	Joined() bool
	// Release detaches the output binding.
	Release()
}

// IsTransient reports whether a transport error is worth one in-place retry.
// Upstream access-denied and rate-limit responses usually clear on a fresh request.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(strings.ToLower(errStr), "rate limit")
}

// Callbacks receives player lifecycle notifications. Session implements it.
type Callbacks interface {
	OnTrackEnd(it *track.Item, reason EndReason)
	OnTrackException(it *track.Item, err error)
}
