package remote

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/domain/track"
)

// Requester tags items queued by the remote controller.
const Requester = "remote"

// Sessions is the session store seen by the gateway.
type Sessions interface {
	GetOrCreate(tenantID string) (*playback.Session, error)
	Get(tenantID string) (*playback.Session, bool)
	LoadAsync(tenantID, ref, requester string, timeout time.Duration, done func(session.Status, error))
}

// Hydrator rebuilds items from wire descriptors.
type Hydrator interface {
	Hydrate(d track.Descriptor) (*track.Item, error)
}

// Sender delivers replies to the remote controller.
type Sender interface {
	Send(ctx context.Context, v any) error
}

// Observer receives one observation per handled message.
type Observer interface {
	ObserveSyncMessage(msgType string, err error)
}

// Config represents gateway configuration.
type Config struct {
	Token       string
	BotID       string
	LoadTimeout time.Duration
}

// Gateway maps remote messages to session operations.
type Gateway struct {
	config   Config
	sessions Sessions
	hydrator Hydrator
	observer Observer
}

// NewGateway creates a new gateway.
func NewGateway(cfg Config, sessions Sessions, hydrator Hydrator, observer Observer) *Gateway {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 20 * time.Second
	}
	return &Gateway{
		config:   cfg,
		sessions: sessions,
		hydrator: hydrator,
		observer: observer,
	}
}

// Handle decodes one raw message and applies it. Replies go to out.
// A message that fails to decode is rejected without touching any session.
func (g *Gateway) Handle(ctx context.Context, data []byte, out Sender) error {
	msg, err := Decode(data)
	if err != nil {
		zlog.Warn().Msgf("remote: rejected message: error=%v", err)
		g.observe("invalid", err)
		return err
	}

	err = g.Dispatch(ctx, msg, out)
	g.observe(string(msg.Type), err)
	if err != nil {
		zlog.Warn().Msgf("remote: message failed: type=%s guild=%s error=%v", msg.Type, msg.GuildID, err)
	}
	return err
}

func (g *Gateway) observe(msgType string, err error) {
	if g.observer != nil {
		g.observer.ObserveSyncMessage(msgType, err)
	}
}

// Dispatch applies a decoded message.
func (g *Gateway) Dispatch(ctx context.Context, msg *Message, out Sender) error {
	zlog.Debug().Msgf("remote: message: type=%s guild=%s", msg.Type, msg.GuildID)

	switch msg.Type {
	case TypeInitialize:
		zlog.Info().Msgf("remote: guild initialized: guild=%s", msg.GuildID)
		return out.Send(ctx, InitializeReply{
			Type:    TypeInitialize,
			Token:   g.config.Token,
			BotID:   g.config.BotID,
			GuildID: msg.GuildID,
		})

	case TypeQueue:
		queue := []track.Descriptor{}
		if s, ok := g.sessions.Get(msg.GuildID); ok {
			queue = track.Descriptors(s.Queue())
		}
		return out.Send(ctx, QueueReply{Type: TypeQueue, GuildID: msg.GuildID, Queue: queue})

	case TypePlayTrack:
		g.sessions.LoadAsync(msg.GuildID, msg.Ref, Requester, g.config.LoadTimeout, func(status session.Status, err error) {
			if err == nil {
				zlog.Debug().Msgf("remote: track loaded: guild=%s ref=%s status=%s", msg.GuildID, msg.Ref, status.Kind)
			}
		})
		return nil
	}

	s, err := g.sessions.GetOrCreate(msg.GuildID)
	if err != nil {
		return err
	}

	switch msg.Type {
	case TypeResume:
		return ignoreNoop(s.Resume())
	case TypePause:
		return ignoreNoop(s.Pause())
	case TypeVolume:
		s.SetVolume(msg.Volume)
		return nil
	case TypeShuffle:
		s.Shuffle()
		return nil
	case TypeSkip:
		return skip(s, msg.Count)
	case TypeSeek:
		return s.Seek(time.Duration(msg.Position) * time.Millisecond)
	case TypeLoop:
		s.SetLoop(msg.Loop)
		return nil
	case TypeSynchronize:
		return g.synchronize(ctx, s, msg, out)
	}
	return errors.Wrapf(ErrUnknownType, "type=%q", msg.Type)
}

// skip advances n times from the queue head.
func skip(s *playback.Session, n int) error {
	for i := 0; i < n; i++ {
		if err := s.Advance(); err != nil {
			if errors.Is(err, playback.ErrSessionClosed) {
				return nil
			}
			return err
		}
	}
	return nil
}

// synchronize applies the present fields in a fixed order: full resync,
// current item, paused, volume, queue, loop mode, position, shuffle.
func (g *Gateway) synchronize(ctx context.Context, s *playback.Session, msg *Message, out Sender) error {
	sync := msg.Sync

	// Descriptors are hydrated before anything is applied.
	var current *track.Item
	if sync.PlayingTrack != nil {
		it, err := g.hydrator.Hydrate(*sync.PlayingTrack)
		if err != nil {
			zlog.Warn().Msgf("remote: skipping playing track: guild=%s uri=%s error=%v",
				msg.GuildID, sync.PlayingTrack.URI, err)
		} else {
			current = it
		}
	}
	var queue []*track.Item
	if sync.Queue != nil {
		queue = make([]*track.Item, 0, len(sync.Queue))
		for _, d := range sync.Queue {
			it, err := g.hydrator.Hydrate(d)
			if err != nil {
				zlog.Warn().Msgf("remote: skipping queued track: guild=%s uri=%s error=%v", msg.GuildID, d.URI, err)
				continue
			}
			queue = append(queue, it)
		}
	}

	if sync.DoAll != nil && *sync.DoAll {
		if err := out.Send(ctx, stateOf(msg.GuildID, s.Snapshot())); err != nil {
			return errors.Wrap(err, "failed to send full state")
		}
	}
	if current != nil {
		if err := s.ReplaceCurrent(current, Requester); err != nil {
			return err
		}
	}
	if sync.Paused != nil {
		s.SetPaused(*sync.Paused)
	}
	if sync.Volume != nil {
		s.SetVolume(*sync.Volume)
	}
	if queue != nil {
		if err := s.ReplaceQueue(queue, Requester); err != nil {
			return err
		}
	}
	if sync.LoopMode != nil {
		s.SetLoop(msg.Loop)
	}
	if sync.Position != nil {
		pos := time.Duration(math.Round(*sync.Position*1000)) * time.Millisecond
		if err := s.Seek(pos); err != nil && !errors.Is(err, playback.ErrNoTrack) && !errors.Is(err, playback.ErrNotSeekable) {
			return err
		}
	}
	if sync.Shuffle != nil && *sync.Shuffle {
		s.Shuffle()
	}
	return nil
}

// stateOf serializes a snapshot for a full resync.
func stateOf(guildID string, snap playback.Snapshot) StateReply {
	reply := StateReply{
		Type:     TypeSynchronize,
		GuildID:  guildID,
		Paused:   snap.Paused,
		Volume:   snap.Volume,
		Queue:    track.Descriptors(snap.Queue),
		LoopMode: int(snap.Loop),
	}
	if snap.Current != nil {
		d := snap.Current.Descriptor()
		reply.PlayingTrack = &d
		reply.Position = snap.Position.Seconds()
	}
	return reply
}

// ignoreNoop treats pause-when-paused and resume-when-playing as success.
func ignoreNoop(err error) error {
	if errors.Is(err, playback.ErrAlreadyPaused) || errors.Is(err, playback.ErrNotPaused) {
		return nil
	}
	return err
}
