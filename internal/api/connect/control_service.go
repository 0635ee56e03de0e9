package connect

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/domain/track"
	"github.com/osa030/guildplay/internal/infra/config"
)

// DefaultRequester tags items queued through the control API.
const DefaultRequester = "control"

// ControlService implements the ControlService RPC.
type ControlService struct {
	session *session.Manager
	config  *config.Config
}

// NewControlService creates a new ControlService.
func NewControlService(session *session.Manager, cfg *config.Config) *ControlService {
	return &ControlService{
		session: session,
		config:  cfg,
	}
}

// NewControlServiceHandler mounts every procedure of the service and returns
// the path prefix to register the handler under.
func NewControlServiceHandler(svc *ControlService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ListSessionsProcedure, connect.NewUnaryHandler(ListSessionsProcedure, svc.ListSessions, opts...))
	mux.Handle(NowPlayingProcedure, connect.NewUnaryHandler(NowPlayingProcedure, svc.NowPlaying, opts...))
	mux.Handle(QueueProcedure, connect.NewUnaryHandler(QueueProcedure, svc.Queue, opts...))
	mux.Handle(PlayProcedure, connect.NewUnaryHandler(PlayProcedure, svc.Play, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, svc.Pause, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, svc.Resume, opts...))
	mux.Handle(SetVolumeProcedure, connect.NewUnaryHandler(SetVolumeProcedure, svc.SetVolume, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, svc.Stop, opts...))
	mux.Handle(WatchProcedure, connect.NewServerStreamHandler(WatchProcedure, svc.Watch, opts...))
	return "/" + ServiceName + "/", mux
}

// ListSessions returns every live session.
func (s *ControlService) ListSessions(
	ctx context.Context,
	req *connect.Request[ListSessionsRequest],
) (*connect.Response[ListSessionsResponse], error) {
	infos := s.session.List()
	resp := &ListSessionsResponse{Sessions: make([]SessionInfo, 0, len(infos))}
	for _, info := range infos {
		sess, ok := s.session.Get(info.TenantID)
		if !ok {
			continue
		}
		snap := sess.Snapshot()
		resp.Sessions = append(resp.Sessions, SessionInfo{
			GuildID:    info.TenantID,
			InstanceID: info.InstanceID,
			CreatedAt:  info.CreatedAt,
			State:      snap.State.String(),
			QueueSize:  len(snap.Queue),
		})
	}
	return connect.NewResponse(resp), nil
}

// NowPlaying returns the current item and player state.
func (s *ControlService) NowPlaying(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[NowPlayingResponse], error) {
	sess, err := s.lookup(req.Msg.GuildID)
	if err != nil {
		return nil, err
	}

	snap := sess.Snapshot()
	resp := &NowPlayingResponse{
		GuildID: req.Msg.GuildID,
		State:   snap.State.String(),
		Paused:  snap.Paused,
		Volume:  snap.Volume,
		Loop:    snap.Loop.String(),
	}
	if snap.Current != nil {
		d := snap.Current.Descriptor()
		resp.Track = &d
		resp.RequestedBy = snap.Current.RequestedBy()
		resp.PositionMs = snap.Position.Milliseconds()
	}
	return connect.NewResponse(resp), nil
}

// Queue returns the queued items. A guild without a session has an empty
// queue.
func (s *ControlService) Queue(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[QueueResponse], error) {
	if err := session.ValidateTenant(req.Msg.GuildID); err != nil {
		return nil, toConnectError(err)
	}

	items := []track.Descriptor{}
	if sess, ok := s.session.Get(req.Msg.GuildID); ok {
		items = track.Descriptors(sess.Queue())
	}
	return connect.NewResponse(&QueueResponse{GuildID: req.Msg.GuildID, Items: items}), nil
}

// Play resolves a query or URL and queues the result.
func (s *ControlService) Play(
	ctx context.Context,
	req *connect.Request[PlayRequest],
) (*connect.Response[PlayResponse], error) {
	if req.Msg.Query == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}
	requester := req.Msg.Requester
	if requester == "" {
		requester = DefaultRequester
	}

	status, err := s.session.Load(ctx, req.Msg.GuildID, req.Msg.Query, requester)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&PlayResponse{
		Status:  string(status.Kind),
		Code:    status.Code,
		Title:   status.Title,
		URI:     status.URI,
		Count:   status.Count,
		Message: s.message(status),
	}), nil
}

// message renders the configured template of a load status.
func (s *ControlService) message(status session.Status) string {
	code := status.Code
	if code == "" {
		code = string(status.Kind)
	}
	tmpl := s.config.GetMessage(code)

	switch status.Kind {
	case session.StatusTrackQueued:
		return fmt.Sprintf(tmpl, status.Title)
	case session.StatusPlaylistQueued:
		return fmt.Sprintf(tmpl, status.Count, status.Name)
	default:
		return tmpl
	}
}

// Pause pauses the session.
func (s *ControlService) Pause(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[ActionResponse], error) {
	sess, err := s.lookup(req.Msg.GuildID)
	if err != nil {
		return nil, err
	}
	return actionResult(sess.Pause(), "Session paused")
}

// Resume resumes the session.
func (s *ControlService) Resume(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[ActionResponse], error) {
	sess, err := s.lookup(req.Msg.GuildID)
	if err != nil {
		return nil, err
	}
	return actionResult(sess.Resume(), "Session resumed")
}

// SetVolume sets the session volume. Out-of-range values are clamped.
func (s *ControlService) SetVolume(
	ctx context.Context,
	req *connect.Request[SetVolumeRequest],
) (*connect.Response[SetVolumeResponse], error) {
	sess, err := s.lookup(req.Msg.GuildID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&SetVolumeResponse{Volume: sess.SetVolume(req.Msg.Volume)}), nil
}

// Skip skips the current track, or count items when count is above one.
func (s *ControlService) Skip(
	ctx context.Context,
	req *connect.Request[SkipRequest],
) (*connect.Response[ActionResponse], error) {
	sess, err := s.lookup(req.Msg.GuildID)
	if err != nil {
		return nil, err
	}

	switch {
	case req.Msg.Count < 0:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.Newf("invalid count: %d", req.Msg.Count))
	case req.Msg.Count > 1:
		err = sess.SkipTo(req.Msg.Count)
	default:
		err = sess.Advance()
	}
	return actionResult(err, "Track skipped")
}

// Stop tears the session down.
func (s *ControlService) Stop(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[ActionResponse], error) {
	if err := session.ValidateTenant(req.Msg.GuildID); err != nil {
		return nil, toConnectError(err)
	}
	if err := s.session.Remove(req.Msg.GuildID); err != nil {
		return nil, toConnectError(err)
	}
	zlog.Info().Msgf("control: session stopped: guild=%s", req.Msg.GuildID)
	return connect.NewResponse(&ActionResponse{Success: true, Message: "Session stopped"}), nil
}

// Watch streams notifications until the client goes away.
func (s *ControlService) Watch(
	ctx context.Context,
	req *connect.Request[WatchRequest],
	stream *connect.ServerStream[notification.Notification],
) error {
	if req.Msg.GuildID != "" {
		if err := session.ValidateTenant(req.Msg.GuildID); err != nil {
			return toConnectError(err)
		}
	}

	notif := s.session.GetNotificationManager()
	id := notif.Subscribe(req.Msg.GuildID, &watchStream{stream: stream})
	defer notif.Unsubscribe(id)

	zlog.Info().Msgf("control: watcher subscribed: id=%s guild=%s", id, req.Msg.GuildID)
	<-ctx.Done()
	zlog.Info().Msgf("control: watcher left: id=%s", id)
	return nil
}

// watchStream serializes sends from concurrent broadcasts.
type watchStream struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notification]
}

func (w *watchStream) Send(n *notification.Notification) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stream.Send(n)
}

func (s *ControlService) lookup(guildID string) (*playback.Session, error) {
	if err := session.ValidateTenant(guildID); err != nil {
		return nil, toConnectError(err)
	}
	sess, ok := s.session.Get(guildID)
	if !ok {
		return nil, toConnectError(errors.Wrapf(session.ErrSessionNotFound, "guild=%s", guildID))
	}
	return sess, nil
}

// actionResult reports domain errors in the response body, as the caller
// can act on them.
func actionResult(err error, success string) (*connect.Response[ActionResponse], error) {
	switch {
	case err == nil:
		return connect.NewResponse(&ActionResponse{Success: true, Message: success}), nil
	case errors.Is(err, playback.ErrSessionClosed):
		return nil, toConnectError(err)
	default:
		return connect.NewResponse(&ActionResponse{Success: false, Message: err.Error()}), nil
	}
}

func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, session.ErrInvalidTenant), errors.Is(err, playback.ErrOutOfRange):
		code = connect.CodeInvalidArgument
	case errors.Is(err, session.ErrSessionNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, session.ErrManagerClosed), errors.Is(err, playback.ErrSessionClosed):
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}
