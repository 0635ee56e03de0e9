// Package session provides the session manager: the per-tenant session store
// and the load orchestration that feeds it.
package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
)

var (
	ErrInvalidTenant   = errors.New("invalid tenant id")
	ErrSessionNotFound = errors.New("session not found")
	ErrManagerClosed   = errors.New("session manager closed")
)

// Resolver resolves a track reference.
type Resolver interface {
	Resolve(ctx context.Context, ref string) catalog.Outcome
}

// PlayerFactory creates the output binding of a new session. Callbacks are
// delivered to the session once it exists.
type PlayerFactory func(tenantID string, callbacks playback.Callbacks) (playback.Player, error)

// Observer receives playback metrics.
type Observer interface {
	ObservePlaybackEvent(eventType string)
	SetSessions(n int)
}

// Config represents session manager configuration.
type Config struct {
	DefaultVolume int
	EventBuffer   int
}

// Info describes a live session.
type Info struct {
	TenantID   string
	InstanceID string
	CreatedAt  time.Time
}

type entry struct {
	session *playback.Session
	info    Info
}

// Manager owns every playback session, keyed by tenant id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool

	config       Config
	resolver     Resolver
	newPlayer    PlayerFactory
	notification *notification.Manager
	observer     Observer

	events chan playback.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a new session manager and starts its event loop.
func NewManager(cfg Config, resolver Resolver, newPlayer PlayerFactory, notif *notification.Manager, opts ...Option) *Manager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if notif == nil {
		notif = notification.NewManager()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:     make(map[string]*entry),
		config:       cfg,
		resolver:     resolver,
		newPlayer:    newPlayer,
		notification: notif,
		events:       make(chan playback.Event, cfg.EventBuffer),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go func() {
		defer close(m.done)
		m.playbackLoop()
	}()
	return m
}

// ValidateTenant checks that the tenant id is a snowflake.
func ValidateTenant(tenantID string) error {
	if _, err := snowflake.Parse(tenantID); err != nil {
		return errors.Wrapf(ErrInvalidTenant, "tenant=%q", tenantID)
	}
	return nil
}

// GetOrCreate returns the session of the tenant, creating it on first reference.
func (m *Manager) GetOrCreate(tenantID string) (*playback.Session, error) {
	if err := ValidateTenant(tenantID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if e, ok := m.sessions[tenantID]; ok {
		return e.session, nil
	}

	callbacks := &lateCallbacks{}
	player, err := m.newPlayer(tenantID, callbacks)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create player: tenant=%s", tenantID)
	}

	s := playback.NewSession(tenantID, player, playback.Config{
		DefaultVolume: m.config.DefaultVolume,
		Events:        m.events,
		OnTeardown:    m.forget,
	})
	callbacks.bind(s)

	info := Info{
		TenantID:   tenantID,
		InstanceID: uuid.New().String(),
		CreatedAt:  time.Now(),
	}
	m.sessions[tenantID] = &entry{session: s, info: info}
	m.setSessionsLocked()

	zlog.Info().Msgf("session: created: tenant=%s instance=%s", tenantID, info.InstanceID)
	return s, nil
}

// Get returns the live session of the tenant.
func (m *Manager) Get(tenantID string) (*playback.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[tenantID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Remove stops the tenant's session and drops it from the store.
func (m *Manager) Remove(tenantID string) error {
	s, ok := m.Get(tenantID)
	if !ok {
		return ErrSessionNotFound
	}
	// Teardown calls forget, which deletes the entry.
	s.Stop()
	return nil
}

// forget drops a torn-down session. It is called with the session lock held,
// so it must not call back into the session.
func (m *Manager) forget(s *playback.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[s.TenantID()]
	if !ok || e.session != s {
		return
	}
	delete(m.sessions, s.TenantID())
	m.setSessionsLocked()

	zlog.Info().Msgf("session: removed: tenant=%s instance=%s", s.TenantID(), e.info.InstanceID)
}

func (m *Manager) setSessionsLocked() {
	if m.observer != nil {
		m.observer.SetSessions(len(m.sessions))
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns the live sessions ordered by tenant id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Info, 0, len(m.sessions))
	for _, e := range m.sessions {
		result = append(result, e.info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TenantID < result[j].TenantID })
	return result
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// Load resolves ref and enqueues the result into the tenant's session.
//
// The session is obtained before resolving, so a result that arrives after
// the session was torn down is discarded with playback.ErrSessionClosed.
// Resolution never runs under the session lock.
func (m *Manager) Load(ctx context.Context, tenantID, ref, requester string) (Status, error) {
	s, err := m.GetOrCreate(tenantID)
	if err != nil {
		return Status{}, err
	}

	out := m.resolver.Resolve(ctx, ref)
	status, err := m.apply(s, ref, out, requester)
	if err != nil {
		if errors.Is(err, playback.ErrSessionClosed) {
			zlog.Debug().Msgf("session: load result discarded: tenant=%s ref=%s", tenantID, ref)
		}
		return Status{}, err
	}

	zlog.Info().Msgf("session: load: tenant=%s ref=%s requester=%s status=%s", tenantID, ref, requester, status.Kind)
	m.notification.Broadcast(status.notification(tenantID))
	return status, nil
}

// LoadAsync runs Load in its own goroutine and hands the result to done,
// which may be nil.
func (m *Manager) LoadAsync(tenantID, ref, requester string, timeout time.Duration, done func(Status, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, timeout)
		defer cancel()

		status, err := m.Load(ctx, tenantID, ref, requester)
		if err != nil && !errors.Is(err, playback.ErrSessionClosed) {
			zlog.Warn().Msgf("session: async load failed: tenant=%s ref=%s error=%v", tenantID, ref, err)
		}
		if done != nil {
			done(status, err)
		}
	}()
}

// apply enqueues an outcome. A search result contributes only its first
// candidate.
func (m *Manager) apply(s *playback.Session, ref string, out catalog.Outcome, requester string) (Status, error) {
	switch out.Kind {
	case catalog.KindNoMatch:
		return Status{Kind: StatusNoMatches, URI: ref}, nil

	case catalog.KindFailed:
		return failedStatus(ref, out.Err), nil

	case catalog.KindSingle:
		if _, err := s.Enqueue(out.Item, requester); err != nil {
			return Status{}, err
		}
		return Status{Kind: StatusTrackQueued, Title: out.Item.Title, URI: out.Item.URI}, nil

	case catalog.KindPlaylist:
		if out.Playlist.IsSearchResult {
			it, ok := out.First()
			if !ok {
				return Status{Kind: StatusNoMatches, URI: ref}, nil
			}
			if _, err := s.Enqueue(it, requester); err != nil {
				return Status{}, err
			}
			return Status{Kind: StatusTrackQueued, Title: it.Title, URI: it.URI}, nil
		}
		if err := s.EnqueueAll(out.Playlist.Items, requester); err != nil {
			return Status{}, err
		}
		uri := out.Playlist.URI
		if uri == "" {
			uri = ref
		}
		return Status{
			Kind:  StatusPlaylistQueued,
			Name:  out.Playlist.Name,
			URI:   uri,
			Count: len(out.Playlist.Items),
		}, nil
	}
	return failedStatus(ref, errors.Newf("unknown outcome kind %d", out.Kind)), nil
}

// Close stops every session and the event loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*playback.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	m.cancel()
	<-m.done
	m.notification.Close()
}

// playbackLoop handles playback events.
func (m *Manager) playbackLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session: playback loop panicked: %v", r)
			// Restart loop so events keep flowing
			zlog.Info().Msg("session: restarting playback loop")
			m.playbackLoop()
		}
	}()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event := <-m.events:
			m.handlePlaybackEvent(event)
		}
	}
}

// handlePlaybackEvent turns playback events into notifications.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	zlog.Debug().Msgf("session: playback event: tenant=%s type=%s", event.TenantID, event.Type)

	if m.observer != nil {
		m.observer.ObservePlaybackEvent(event.Type.String())
	}

	n := &notification.Notification{TenantID: event.TenantID}
	switch event.Type {
	case playback.EventTrackStarted:
		n.Kind = notification.KindTrackStarted
		n.Title = event.Item.Title
		n.URI = event.Item.URI
	case playback.EventTrackFailed:
		n.Kind = notification.KindTrackFailed
		n.Title = event.Item.Title
		n.URI = event.Item.URI
		if event.Err != nil {
			n.Reason = event.Err.Error()
		}
	case playback.EventQueueEmpty:
		n.Kind = notification.KindQueueEmpty
	case playback.EventTornDown:
		n.Kind = notification.KindSessionClosed
	default:
		return
	}
	m.notification.Broadcast(n)
}

// lateCallbacks forwards player callbacks to a session bound after the
// player was created.
type lateCallbacks struct {
	session atomic.Pointer[playback.Session]
}

func (c *lateCallbacks) bind(s *playback.Session) {
	c.session.Store(s)
}

func (c *lateCallbacks) OnTrackEnd(it *track.Item, reason playback.EndReason) {
	if s := c.session.Load(); s != nil {
		s.OnTrackEnd(it, reason)
	}
}

func (c *lateCallbacks) OnTrackException(it *track.Item, err error) {
	if s := c.session.Load(); s != nil {
		s.OnTrackException(it, err)
	}
}
