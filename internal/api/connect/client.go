package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/guildplay/internal/app/notification"
)

// ControlClient calls the ControlService.
type ControlClient struct {
	listSessions *connect.Client[ListSessionsRequest, ListSessionsResponse]
	nowPlaying   *connect.Client[GuildRequest, NowPlayingResponse]
	queue        *connect.Client[GuildRequest, QueueResponse]
	play         *connect.Client[PlayRequest, PlayResponse]
	pause        *connect.Client[GuildRequest, ActionResponse]
	resume       *connect.Client[GuildRequest, ActionResponse]
	setVolume    *connect.Client[SetVolumeRequest, SetVolumeResponse]
	skip         *connect.Client[SkipRequest, ActionResponse]
	stop         *connect.Client[GuildRequest, ActionResponse]
	watch        *connect.Client[WatchRequest, notification.Notification]
}

// NewControlClient creates a client for the service at baseURL. A non-empty
// token is sent in the admin token header.
func NewControlClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *ControlClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	if token != "" {
		opts = append(opts, connect.WithInterceptors(&tokenInterceptor{token: token}))
	}
	return &ControlClient{
		listSessions: connect.NewClient[ListSessionsRequest, ListSessionsResponse](httpClient, baseURL+ListSessionsProcedure, opts...),
		nowPlaying:   connect.NewClient[GuildRequest, NowPlayingResponse](httpClient, baseURL+NowPlayingProcedure, opts...),
		queue:        connect.NewClient[GuildRequest, QueueResponse](httpClient, baseURL+QueueProcedure, opts...),
		play:         connect.NewClient[PlayRequest, PlayResponse](httpClient, baseURL+PlayProcedure, opts...),
		pause:        connect.NewClient[GuildRequest, ActionResponse](httpClient, baseURL+PauseProcedure, opts...),
		resume:       connect.NewClient[GuildRequest, ActionResponse](httpClient, baseURL+ResumeProcedure, opts...),
		setVolume:    connect.NewClient[SetVolumeRequest, SetVolumeResponse](httpClient, baseURL+SetVolumeProcedure, opts...),
		skip:         connect.NewClient[SkipRequest, ActionResponse](httpClient, baseURL+SkipProcedure, opts...),
		stop:         connect.NewClient[GuildRequest, ActionResponse](httpClient, baseURL+StopProcedure, opts...),
		watch:        connect.NewClient[WatchRequest, notification.Notification](httpClient, baseURL+WatchProcedure, opts...),
	}
}

func (c *ControlClient) ListSessions(ctx context.Context) (*ListSessionsResponse, error) {
	return unary(ctx, c.listSessions, &ListSessionsRequest{})
}

func (c *ControlClient) NowPlaying(ctx context.Context, guildID string) (*NowPlayingResponse, error) {
	return unary(ctx, c.nowPlaying, &GuildRequest{GuildID: guildID})
}

func (c *ControlClient) Queue(ctx context.Context, guildID string) (*QueueResponse, error) {
	return unary(ctx, c.queue, &GuildRequest{GuildID: guildID})
}

func (c *ControlClient) Play(ctx context.Context, req *PlayRequest) (*PlayResponse, error) {
	return unary(ctx, c.play, req)
}

func (c *ControlClient) Pause(ctx context.Context, guildID string) (*ActionResponse, error) {
	return unary(ctx, c.pause, &GuildRequest{GuildID: guildID})
}

func (c *ControlClient) Resume(ctx context.Context, guildID string) (*ActionResponse, error) {
	return unary(ctx, c.resume, &GuildRequest{GuildID: guildID})
}

func (c *ControlClient) SetVolume(ctx context.Context, guildID string, volume int) (*SetVolumeResponse, error) {
	return unary(ctx, c.setVolume, &SetVolumeRequest{GuildID: guildID, Volume: volume})
}

func (c *ControlClient) Skip(ctx context.Context, guildID string, count int) (*ActionResponse, error) {
	return unary(ctx, c.skip, &SkipRequest{GuildID: guildID, Count: count})
}

func (c *ControlClient) Stop(ctx context.Context, guildID string) (*ActionResponse, error) {
	return unary(ctx, c.stop, &GuildRequest{GuildID: guildID})
}

// Watch opens a notification stream. The caller must close it.
func (c *ControlClient) Watch(ctx context.Context, guildID string) (*connect.ServerStreamForClient[notification.Notification], error) {
	return c.watch.CallServerStream(ctx, connect.NewRequest(&WatchRequest{GuildID: guildID}))
}

func unary[Req, Res any](ctx context.Context, client *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// tokenInterceptor attaches the admin token to outgoing calls.
type tokenInterceptor struct {
	token string
}

func (i *tokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		req.Header().Set(AdminTokenHeader, i.token)
		return next(ctx, req)
	}
}

func (i *tokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(AdminTokenHeader, i.token)
		return conn
	}
}

func (i *tokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
