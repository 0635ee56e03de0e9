// Package output provides voice output bindings for playback sessions.
package output

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/domain/track"
)

// ClockPlayer is an output binding that resolves audio for each item and
// follows its progress on a wall clock. The actual audio is rendered by
// whatever consumes the resolved stream URL (a remote client, a relay).
type ClockPlayer struct {
	mu sync.Mutex

	tenantID       string
	callbacks      playback.Callbacks
	resolveTimeout time.Duration

	generation  uint64
	current     *track.Item
	stream      *track.Item
	startedAt   time.Time
	elapsed     time.Duration
	paused      bool
	volume      int
	joined      bool
	timerCancel func()
}

// NewClockPlayer creates a clock player that reports to callbacks.
func NewClockPlayer(tenantID string, callbacks playback.Callbacks, resolveTimeout time.Duration) *ClockPlayer {
	if resolveTimeout <= 0 {
		resolveTimeout = 30 * time.Second
	}
	return &ClockPlayer{
		tenantID:       tenantID,
		callbacks:      callbacks,
		resolveTimeout: resolveTimeout,
		volume:         playback.DefaultVolume,
		joined:         true,
	}
}

// Play starts the item at start, replacing whatever is playing.
// Audio is resolved for a private copy, so the session's item is never read
// from the load goroutine.
func (p *ClockPlayer) Play(it *track.Item, start time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev := p.current; prev != nil {
		p.stopLocked()
		go p.callbacks.OnTrackEnd(prev, playback.EndReplaced)
	}

	p.generation++
	p.current = it
	p.stream = nil
	p.elapsed = start
	p.paused = false
	p.joined = true

	go p.load(p.generation, it, it.Clone())
}

// load resolves the audio for req and arms the end-of-track timer.
// Callbacks report it, the item the session started.
func (p *ClockPlayer) load(gen uint64, it, req *track.Item) {
	stream := req
	if req.Source != nil && req.StreamURL == "" {
		ctx, cancel := context.WithTimeout(context.Background(), p.resolveTimeout)
		resolved, err := req.Source.ResolveAudio(ctx, req)
		cancel()
		if err != nil {
			if p.isCurrent(gen) {
				zlog.Warn().Msgf("output: failed to resolve audio: tenant=%s title=%s error=%v",
					p.tenantID, it.Title, err)
				p.callbacks.OnTrackException(it, err)
			}
			return
		}
		stream = resolved
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return
	}
	p.stream = stream
	zlog.Debug().Msgf("output: stream ready: tenant=%s title=%s url=%s duration=%s",
		p.tenantID, req.Title, stream.StreamURL, p.durationLocked())
	if !p.paused {
		p.startTimerLocked()
	}
}

func (p *ClockPlayer) isCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.generation && p.current != nil
}

// durationLocked returns the length of the current item. Search hits may
// carry no length, in which case the resolved stream's length is used.
func (p *ClockPlayer) durationLocked() time.Duration {
	if p.current == nil {
		return 0
	}
	if p.current.Duration > 0 || p.stream == nil {
		return p.current.Duration
	}
	return p.stream.Duration
}

// startTimerLocked arms the end-of-track timer for the remaining duration.
// Live items and items without a known duration play until stopped.
func (p *ClockPlayer) startTimerLocked() {
	p.startedAt = time.Now()
	if p.current == nil || p.current.IsLive || (p.stream != nil && p.stream.IsLive) {
		return
	}
	duration := p.durationLocked()
	if duration <= 0 {
		return
	}
	remaining := duration - p.elapsed
	if remaining < 0 {
		remaining = 0
	}
	gen := p.generation
	t := time.AfterFunc(remaining, func() { p.finish(gen) })
	p.timerCancel = func() { t.Stop() }
}

func (p *ClockPlayer) finish(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || p.current == nil {
		p.mu.Unlock()
		return
	}
	it := p.current
	p.current = nil
	p.stream = nil
	p.timerCancel = nil
	p.mu.Unlock()

	p.callbacks.OnTrackEnd(it, playback.EndFinished)
}

func (p *ClockPlayer) stopTimerLocked() {
	if p.timerCancel != nil {
		p.timerCancel()
		p.timerCancel = nil
	}
}

func (p *ClockPlayer) stopLocked() {
	p.stopTimerLocked()
	p.generation++
	p.current = nil
	p.stream = nil
	p.elapsed = 0
}

// Stop stops the output.
func (p *ClockPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if it := p.current; it != nil {
		p.stopLocked()
		go p.callbacks.OnTrackEnd(it, playback.EndStopped)
	}
}

// SetPaused freezes or resumes the clock.
func (p *ClockPlayer) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused == paused {
		return
	}
	p.paused = paused
	if p.current == nil || p.stream == nil {
		return
	}
	if paused {
		p.elapsed += time.Since(p.startedAt)
		p.stopTimerLocked()
		return
	}
	p.startTimerLocked()
}

// SetVolume records the volume. The clock has no gain stage.
func (p *ClockPlayer) SetVolume(volume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
}

// Seek moves the clock to pos.
func (p *ClockPlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return
	}
	p.elapsed = pos
	if p.stream != nil && !p.paused {
		p.stopTimerLocked()
		p.startTimerLocked()
	}
}

// Joined reports whether the binding is attached.
func (p *ClockPlayer) Joined() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joined
}

// Release detaches the binding. The current item, if any, ends with cleanup.
func (p *ClockPlayer) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if it := p.current; it != nil {
		p.stopLocked()
		go p.callbacks.OnTrackEnd(it, playback.EndCleanup)
	}
	p.joined = false
}

// Position returns how far the current item has played.
func (p *ClockPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return 0
	}
	if p.stream == nil || p.paused {
		return p.elapsed
	}
	return p.elapsed + time.Since(p.startedAt)
}

// StreamURL returns the resolved stream URL of the current item.
func (p *ClockPlayer) StreamURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return ""
	}
	return p.stream.StreamURL
}

// Volume returns the last volume set.
func (p *ClockPlayer) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}
