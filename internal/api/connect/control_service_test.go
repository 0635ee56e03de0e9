package connect

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
	"github.com/osa030/guildplay/internal/infra/config"
)

const (
	guild = "123456789012345678"
	token = "secret"
)

type nopPlayer struct{}

func (nopPlayer) Play(*track.Item, time.Duration) {}

func (nopPlayer) Stop() {}

func (nopPlayer) SetPaused(bool) {}

func (nopPlayer) SetVolume(int) {}

func (nopPlayer) Seek(time.Duration) {}

func (nopPlayer) Position() time.Duration { return 0 }

func (nopPlayer) Joined() bool { return true }

func (nopPlayer) Release() {}

type mapResolver map[string]catalog.Outcome

func (r mapResolver) Resolve(ctx context.Context, ref string) catalog.Outcome {
	if out, ok := r[ref]; ok {
		return out
	}
	return catalog.NoMatch()
}

func item(title string) *track.Item {
	return &track.Item{Title: title, URI: "https://example.com/" + title, Duration: time.Minute}
}

type fixture struct {
	manager *session.Manager
	client  *ControlClient
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	resolver := mapResolver{
		"one": catalog.Single(item("one")),
		"mix": catalog.PlaylistOf("mix", "https://example.com/mix", []*track.Item{item("a"), item("b"), item("c")}),
	}
	newPlayer := func(string, playback.Callbacks) (playback.Player, error) {
		return nopPlayer{}, nil
	}
	manager := session.NewManager(session.Config{}, resolver, newPlayer, notification.NewManager())
	t.Cleanup(manager.Close)

	cfg := &config.Config{
		Admin: config.AdminConfig{Token: token},
		Messages: config.MessagesConfig{
			TrackQueued:    "Queued %s",
			PlaylistQueued: "Queued %d tracks from %s",
			NoMatches:      "Nothing found",
			LoadFailed:     "Could not load the track",
		},
	}
	path, handler := NewControlServiceHandler(
		NewControlService(manager, cfg),
		connect.WithInterceptors(NewAdminAuthInterceptor(cfg)),
	)
	require.Equal(t, "/"+ServiceName+"/", path)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &fixture{
		manager: manager,
		client:  NewControlClient(server.Client(), server.URL, token),
		server:  server,
	}
}

func TestControlService_RejectsBadToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tok := range []string{"", "wrong"} {
		client := NewControlClient(f.server.Client(), f.server.URL, tok)
		_, err := client.ListSessions(ctx)
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

		stream, err := client.Watch(ctx, "")
		require.NoError(t, err)
		assert.False(t, stream.Receive())
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(stream.Err()))
		stream.Close()
	}
}

func TestControlService_PlayAndNowPlaying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.client.Play(ctx, &PlayRequest{GuildID: guild, Query: "one"})
	require.NoError(t, err)
	assert.Equal(t, "track_queued", resp.Status)
	assert.Equal(t, "Queued one", resp.Message)

	now, err := f.client.NowPlaying(ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, "playing", now.State)
	require.NotNil(t, now.Track)
	assert.Equal(t, "one", now.Track.Title)
	assert.Equal(t, DefaultRequester, now.RequestedBy)
	assert.Equal(t, playback.DefaultVolume, now.Volume)
	assert.Equal(t, "none", now.Loop)

	resp, err = f.client.Play(ctx, &PlayRequest{GuildID: guild, Query: "mix", Requester: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "playlist_queued", resp.Status)
	assert.Equal(t, "Queued 3 tracks from mix", resp.Message)

	resp, err = f.client.Play(ctx, &PlayRequest{GuildID: guild, Query: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, "no_matches", resp.Status)
	assert.Equal(t, "Nothing found", resp.Message)

	sessions, err := f.client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, guild, sessions.Sessions[0].GuildID)
	assert.Equal(t, 3, sessions.Sessions[0].QueueSize)
}

func TestControlService_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want connect.Code
	}{
		{
			name: "invalid guild",
			call: func() error { _, err := f.client.Queue(ctx, "general"); return err },
			want: connect.CodeInvalidArgument,
		},
		{
			name: "missing session",
			call: func() error { _, err := f.client.NowPlaying(ctx, guild); return err },
			want: connect.CodeNotFound,
		},
		{
			name: "empty query",
			call: func() error { _, err := f.client.Play(ctx, &PlayRequest{GuildID: guild}); return err },
			want: connect.CodeInvalidArgument,
		},
		{
			name: "stop missing session",
			call: func() error { _, err := f.client.Stop(ctx, guild); return err },
			want: connect.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.want, connect.CodeOf(err))
		})
	}
}

func TestControlService_Commands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queue, err := f.client.Queue(ctx, guild)
	require.NoError(t, err)
	assert.Empty(t, queue.Items)
	assert.Equal(t, 0, f.manager.Count())

	_, err = f.client.Play(ctx, &PlayRequest{GuildID: guild, Query: "mix"})
	require.NoError(t, err)

	queue, err = f.client.Queue(ctx, guild)
	require.NoError(t, err)
	require.Len(t, queue.Items, 2)
	assert.Equal(t, "b", queue.Items[0].Title)

	action, err := f.client.Pause(ctx, guild)
	require.NoError(t, err)
	assert.True(t, action.Success)

	action, err = f.client.Pause(ctx, guild)
	require.NoError(t, err)
	assert.False(t, action.Success)

	action, err = f.client.Resume(ctx, guild)
	require.NoError(t, err)
	assert.True(t, action.Success)

	vol, err := f.client.SetVolume(ctx, guild, 500)
	require.NoError(t, err)
	assert.Equal(t, playback.MaxVolume, vol.Volume)

	action, err = f.client.Skip(ctx, guild, 2)
	require.NoError(t, err)
	assert.True(t, action.Success)

	now, err := f.client.NowPlaying(ctx, guild)
	require.NoError(t, err)
	require.NotNil(t, now.Track)
	assert.Equal(t, "c", now.Track.Title)

	action, err = f.client.Skip(ctx, guild, 5)
	require.NoError(t, err)
	assert.False(t, action.Success)

	action, err = f.client.Stop(ctx, guild)
	require.NoError(t, err)
	assert.True(t, action.Success)
	assert.Equal(t, 0, f.manager.Count())
}

func TestControlService_Watch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := f.client.Watch(ctx, guild)
	require.NoError(t, err)
	defer stream.Close()

	notif := f.manager.GetNotificationManager()
	require.Eventually(t, func() bool { return notif.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = f.client.Play(context.Background(), &PlayRequest{GuildID: guild, Query: "one"})
	require.NoError(t, err)

	require.True(t, stream.Receive(), "stream error: %v", stream.Err())
	got := stream.Msg()
	assert.Equal(t, guild, got.TenantID)
	assert.Contains(t, []notification.Kind{notification.KindTrackQueued, notification.KindTrackStarted}, got.Kind)
}
