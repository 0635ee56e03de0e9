package playback

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/domain/track"
)

// Errors
var (
	ErrNoTrack       = errors.New("no track playing")
	ErrNotPaused     = errors.New("not paused")
	ErrAlreadyPaused = errors.New("already paused")
	ErrOutOfRange    = errors.New("position out of range")
	ErrNotSeekable   = errors.New("track is not seekable")
	ErrSessionClosed = errors.New("session closed")
)

const (
	MinVolume     = 0
	MaxVolume     = 150
	DefaultVolume = 100
)

// Config holds session configuration.
type Config struct {
	DefaultVolume int
	// Events receives every playback event. Sends never block; a full
	// channel drops the event.
	Events chan<- Event
	// OnTeardown is called once, with the session lock held, after teardown.
	OnTeardown func(s *Session)
	// Rand is used by Shuffle. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// Session is the playback state of one tenant.
// All mutating operations are serialized by one mutex.
type Session struct {
	mu sync.Mutex

	tenantID string
	player   Player
	config   Config
	rng      *rand.Rand

	// Queue never contains current
	queue   []*track.Item
	current *track.Item
	paused  bool
	volume  int
	loop    LoopMode
	closed  bool

	// retried is the clone restarted after a transient error; a second
	// failure of it is not retried again.
	retried *track.Item

	ctx    context.Context
	cancel context.CancelFunc
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	TenantID string
	State    State
	Current  *track.Item
	Queue    []*track.Item
	Paused   bool
	Volume   int
	Loop     LoopMode
	Position time.Duration // Player cursor of Current
}

// NewSession creates a session bound to the given player.
func NewSession(tenantID string, player Player, config Config) *Session {
	volume := config.DefaultVolume
	if volume == 0 {
		volume = DefaultVolume
	}
	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		tenantID: tenantID,
		player:   player,
		config:   config,
		rng:      rng,
		queue:    make([]*track.Item, 0),
		volume:   clampVolume(volume),
		ctx:      ctx,
		cancel:   cancel,
	}
	player.SetVolume(s.volume)
	return s
}

// TenantID returns the tenant this session belongs to.
func (s *Session) TenantID() string {
	return s.tenantID
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Enqueue starts the item immediately when nothing is playing,
// otherwise appends it to the queue. Returns true if it started.
func (s *Session) Enqueue(it *track.Item, requester string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrSessionClosed
	}
	return s.enqueueLocked(it, requester), nil
}

// EnqueueAll enqueues the items in order under a single lock acquisition.
func (s *Session) EnqueueAll(items []*track.Item, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	for _, it := range items {
		s.enqueueLocked(it, requester)
	}
	return nil
}

func (s *Session) enqueueLocked(it *track.Item, requester string) bool {
	it.SetRequestedBy(requester)
	if s.current == nil {
		s.startLocked(it)
		return true
	}
	s.queue = append(s.queue, it)
	return false
}

// Advance moves to the next item, applying the loop mode.
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.current != nil {
		s.sendEventLocked(Event{Type: EventTrackSkipped, Item: s.current})
	}
	s.advanceLocked()
	return nil
}

// SkipTo discards the first n-1 queued items and advances.
// n must be in [1, len(queue)].
func (s *Session) SkipTo(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if n < 1 || n > len(s.queue) {
		return errors.Wrapf(ErrOutOfRange, "position=%d queue_len=%d", n, len(s.queue))
	}
	s.queue = s.queue[n-1:]
	if s.current != nil {
		s.sendEventLocked(Event{Type: EventTrackSkipped, Item: s.current})
	}
	s.advanceLocked()
	return nil
}

// Pause pauses the current item.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoTrack
	}
	if s.paused {
		return ErrAlreadyPaused
	}
	s.setPausedLocked(true)
	return nil
}

// Resume resumes the current item.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoTrack
	}
	if !s.paused {
		return ErrNotPaused
	}
	s.setPausedLocked(false)
	return nil
}

// SetPaused sets the paused flag without no-op reporting.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused == paused {
		return
	}
	s.setPausedLocked(paused)
}

func (s *Session) setPausedLocked(paused bool) {
	s.paused = paused
	s.player.SetPaused(paused)
	s.sendEventLocked(Event{Type: EventStateChanged, Item: s.current})
}

// SetVolume clamps v to [0,150], applies it and returns the applied value.
func (s *Session) SetVolume(v int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volume = clampVolume(v)
	s.player.SetVolume(s.volume)
	s.sendEventLocked(Event{Type: EventStateChanged, Item: s.current})
	return s.volume
}

// Volume returns the current volume.
func (s *Session) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Shuffle randomizes the queued items and returns the new order.
// The current item is not affected.
func (s *Session) Shuffle() []*track.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rng.Shuffle(len(s.queue), func(i, j int) {
		s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
	})
	return s.queueCopyLocked()
}

// Seek moves the cursor of the current item.
func (s *Session) Seek(pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoTrack
	}
	if !s.current.Seekable() {
		return ErrNotSeekable
	}
	s.current.SetPosition(pos)
	s.player.Seek(s.current.Position())
	return nil
}

// SetLoop sets the loop mode.
func (s *Session) SetLoop(mode LoopMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loop = mode
	s.sendEventLocked(Event{Type: EventStateChanged, Item: s.current})
}

// Loop returns the loop mode.
func (s *Session) Loop() LoopMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// ReplaceQueue swaps the whole queue. Items without a requester are tagged
// with the given one.
func (s *Session) ReplaceQueue(items []*track.Item, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	queue := make([]*track.Item, 0, len(items))
	for _, it := range items {
		if it == nil || it == s.current {
			continue
		}
		it.SetRequestedBy(requester)
		queue = append(queue, it)
	}
	s.queue = queue
	return nil
}

// ReplaceCurrent starts the item in place of the current one.
// The replaced item is dropped without loop handling.
func (s *Session) ReplaceCurrent(it *track.Item, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	it.SetRequestedBy(requester)
	s.startLocked(it)
	return nil
}

// Current returns the current item.
func (s *Session) Current() (*track.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, false
	}
	return s.current, true
}

// Queue returns a copy of the queued items.
func (s *Session) Queue() []*track.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueCopyLocked()
}

// State returns the current playback state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pos time.Duration
	if s.current != nil {
		pos = s.player.Position()
	}
	return Snapshot{
		TenantID: s.tenantID,
		Position: pos,
		State:    s.stateLocked(),
		Current:  s.current,
		Queue:    s.queueCopyLocked(),
		Paused:   s.paused,
		Volume:   s.volume,
		Loop:     s.loop,
	}
}

// Stop clears the queue, stops the output and tears the session down.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = make([]*track.Item, 0)
	s.current = nil
	s.paused = false
	s.player.Stop()
	s.teardownLocked()
}

// OnTrackEnd is the player callback for the end of an item.
// Ends of items that are no longer current are ignored.
func (s *Session) OnTrackEnd(it *track.Item, reason EndReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || it == nil || it != s.current {
		return
	}

	zlog.Debug().Msgf("playback: track ended: tenant=%s title=%s reason=%s loop=%s",
		s.tenantID, it.Title, reason, s.loop)

	s.sendEventLocked(Event{Type: EventTrackEnded, Item: it})

	if !reason.MayStartNext() {
		return
	}

	switch s.loop {
	case LoopTrack:
		s.startLocked(it.Clone())
		return
	case LoopQueue:
		s.queue = append(s.queue, it.Clone())
	}
	s.playNextLocked()
}

// OnTrackException is the player callback for a transport error on an item.
// A transient error restarts a fresh clone once; anything else drops the
// item and moves on.
func (s *Session) OnTrackException(it *track.Item, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || it == nil || it != s.current {
		return
	}

	if IsTransient(err) && s.retried != it {
		zlog.Warn().Msgf("playback: transient error, restarting: tenant=%s title=%s error=%v",
			s.tenantID, it.Title, err)
		clone := it.Clone()
		s.startLocked(clone)
		s.retried = clone
		s.sendEventLocked(Event{Type: EventTrackRetried, Item: clone, Err: err})
		return
	}

	zlog.Warn().Msgf("playback: track failed: tenant=%s title=%s error=%v", s.tenantID, it.Title, err)
	s.sendEventLocked(Event{Type: EventTrackFailed, Item: it, Err: err})
	s.current = nil
	s.playNextLocked()
}

// advanceLocked applies the skip policy: an empty queue stops output,
// TRACK restarts the current item, QUEUE recycles it to the tail.
// Must be called with lock held.
func (s *Session) advanceLocked() {
	if len(s.queue) == 0 {
		s.drainLocked()
		return
	}
	if s.current != nil {
		switch s.loop {
		case LoopTrack:
			s.startLocked(s.current.Clone())
			return
		case LoopQueue:
			s.queue = append(s.queue, s.current.Clone())
		}
	}
	s.playNextLocked()
}

// playNextLocked dequeues the head and starts it, or drains.
// Must be called with lock held.
func (s *Session) playNextLocked() {
	if len(s.queue) == 0 {
		s.drainLocked()
		return
	}
	next := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.startLocked(next)
}

// startLocked makes it the current item and starts it.
// Must be called with lock held.
func (s *Session) startLocked(it *track.Item) {
	s.current = it
	s.paused = false
	s.retried = nil
	s.player.Play(it, it.Position())

	zlog.Debug().Msgf("playback: track started: tenant=%s title=%s queue_len=%d",
		s.tenantID, it.Title, len(s.queue))

	s.sendEventLocked(Event{Type: EventTrackStarted, Item: it})
}

// drainLocked stops output once nothing is left to play. Under loop NONE
// the output binding is released and, if it is no longer joined, the
// session is torn down.
// Must be called with lock held.
func (s *Session) drainLocked() {
	s.current = nil
	s.paused = false
	s.retried = nil
	s.player.Stop()
	s.sendEventLocked(Event{Type: EventQueueEmpty})

	if s.loop != LoopNone {
		return
	}
	s.player.Release()
	if !s.player.Joined() {
		s.teardownLocked()
	}
}

// teardownLocked closes the session. Late callbacks and load results are
// discarded afterwards.
// Must be called with lock held.
func (s *Session) teardownLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.player.Release()

	zlog.Info().Msgf("playback: session torn down: tenant=%s", s.tenantID)

	s.sendEventLocked(Event{Type: EventTornDown})
	s.cancel()
	if s.config.OnTeardown != nil {
		s.config.OnTeardown(s)
	}
}

func (s *Session) stateLocked() State {
	switch {
	case s.current == nil:
		return StateEmpty
	case s.paused:
		return StatePaused
	default:
		return StatePlaying
	}
}

func (s *Session) queueCopyLocked() []*track.Item {
	result := make([]*track.Item, len(s.queue))
	copy(result, s.queue)
	return result
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (s *Session) sendEventLocked(e Event) {
	if s.config.Events == nil {
		return
	}
	e.TenantID = s.tenantID
	e.State = s.stateLocked()
	select {
	case s.config.Events <- e:
		// Successfully sent
	case <-s.ctx.Done():
		// Torn down before the event could be delivered
	default:
		// Channel full, drop event
	}
}

func clampVolume(v int) int {
	if v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}
