package remote

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/domain/track"
)

const guild = "123456789012345678"

type nopPlayer struct {
	mu       sync.Mutex
	position time.Duration
}

func (p *nopPlayer) Play(_ *track.Item, start time.Duration) { p.setPosition(start) }
func (p *nopPlayer) Stop()                                   {}
func (p *nopPlayer) SetPaused(bool)                          {}
func (p *nopPlayer) SetVolume(int)                           {}
func (p *nopPlayer) Seek(pos time.Duration)                  { p.setPosition(pos) }
func (p *nopPlayer) Joined() bool                            { return true }
func (p *nopPlayer) Release()                                {}

func (p *nopPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *nopPlayer) setPosition(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*playback.Session
	loads    []string
}

func (f *fakeSessions) GetOrCreate(tenantID string) (*playback.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[tenantID]; ok {
		return s, nil
	}
	s := playback.NewSession(tenantID, &nopPlayer{}, playback.Config{})
	f.sessions[tenantID] = s
	return s, nil
}

func (f *fakeSessions) Get(tenantID string) (*playback.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[tenantID]
	return s, ok
}

func (f *fakeSessions) LoadAsync(tenantID, ref, requester string, _ time.Duration, done func(session.Status, error)) {
	f.mu.Lock()
	f.loads = append(f.loads, tenantID+"|"+ref+"|"+requester)
	f.mu.Unlock()
	done(session.Status{Kind: session.StatusTrackQueued}, nil)
}

type fakeHydrator struct{}

func (fakeHydrator) Hydrate(d track.Descriptor) (*track.Item, error) {
	if strings.Contains(d.URI, "unknown") {
		return nil, errors.New("no catalog matches")
	}
	return &track.Item{
		Title:    d.Title,
		Author:   d.Author,
		URI:      d.URI,
		Duration: time.Duration(d.DurationMs) * time.Millisecond,
		IsLive:   d.IsLive,
	}, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []any
}

func (s *recordingSender) Send(_ context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, v)
	return nil
}

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) ObserveSyncMessage(_ string, err error) {
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func newGateway() (*Gateway, *fakeSessions, *recordingSender, *countingObserver) {
	sessions := &fakeSessions{sessions: map[string]*playback.Session{}}
	obs := &countingObserver{}
	g := NewGateway(Config{Token: "secret", BotID: "42"}, sessions, fakeHydrator{}, obs)
	return g, sessions, &recordingSender{}, obs
}

func item(title string) *track.Item {
	return &track.Item{Title: title, URI: "https://youtu.be/" + title, Duration: 3 * time.Minute}
}

func seed(t *testing.T, sessions *fakeSessions, titles ...string) *playback.Session {
	t.Helper()
	s, err := sessions.GetOrCreate(guild)
	require.NoError(t, err)
	for _, title := range titles {
		_, err := s.Enqueue(item(title), "alice")
		require.NoError(t, err)
	}
	return s
}

func queueTitles(s *playback.Session) []string {
	result := []string{}
	for _, it := range s.Queue() {
		result = append(result, it.Title)
	}
	return result
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"malformed json", `{"type":`, ErrMalformed},
		{"unknown type", `{"type":"dance","guildId":"` + guild + `"}`, ErrUnknownType},
		{"bad guild id", `{"type":"pause","guildId":"general"}`, session.ErrInvalidTenant},
		{"loop out of range", `{"type":"loop","guildId":"` + guild + `","loopMode":3}`, ErrInvalidLoopMode},
		{"sync loop out of range", `{"type":"synchronize","guildId":"` + guild + `","paused":true,"loopMode":-1}`, ErrInvalidLoopMode},
		{"volume missing", `{"type":"volume","guildId":"` + guild + `"}`, ErrMissingField},
		{"skip zero", `{"type":"skip","guildId":"` + guild + `","track":0}`, ErrInvalidSkip},
		{"play without data", `{"type":"playTrack","guildId":"` + guild + `"}`, ErrMissingField},
		{"valid loop", `{"type":"loop","guildId":"` + guild + `","loopMode":2}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, playback.LoopTrack, msg.Loop)
		})
	}
}

func TestGateway_RejectedMessageTouchesNothing(t *testing.T) {
	g, sessions, out, obs := newGateway()
	s := seed(t, sessions, "a", "b", "c")

	err := g.Handle(context.Background(),
		[]byte(`{"type":"synchronize","guildId":"`+guild+`","paused":true,"volume":10,"loopMode":7}`), out)

	assert.True(t, errors.Is(err, ErrInvalidLoopMode))
	snap := s.Snapshot()
	assert.False(t, snap.Paused)
	assert.Equal(t, playback.DefaultVolume, snap.Volume)
	assert.Equal(t, 1, obs.failed)
}

func TestGateway_Initialize(t *testing.T) {
	g, _, out, obs := newGateway()

	require.NoError(t, g.Handle(context.Background(), []byte(`{"type":"initialize","guildId":"`+guild+`"}`), out))

	require.Len(t, out.sent, 1)
	assert.Equal(t, InitializeReply{Type: TypeInitialize, Token: "secret", BotID: "42", GuildID: guild}, out.sent[0])
	assert.Equal(t, 1, obs.ok)
}

func TestGateway_QueueQuery(t *testing.T) {
	g, sessions, out, _ := newGateway()

	require.NoError(t, g.Handle(context.Background(), []byte(`{"type":"queue","guildId":"`+guild+`"}`), out))
	require.Len(t, out.sent, 1)
	assert.Empty(t, out.sent[0].(QueueReply).Queue)

	seed(t, sessions, "a", "b", "c")
	require.NoError(t, g.Handle(context.Background(), []byte(`{"type":"queue","guildId":"`+guild+`"}`), out))

	reply := out.sent[1].(QueueReply)
	require.Len(t, reply.Queue, 2)
	assert.Equal(t, "b", reply.Queue[0].Title)
	assert.Equal(t, "c", reply.Queue[1].Title)
	assert.Equal(t, int64(180000), reply.Queue[0].DurationMs)
}

func TestGateway_PlayTrack(t *testing.T) {
	g, sessions, out, _ := newGateway()

	require.NoError(t, g.Handle(context.Background(),
		[]byte(`{"type":"playTrack","guildId":"`+guild+`","data":"never gonna give you up"}`), out))

	assert.Equal(t, []string{guild + "|never gonna give you up|remote"}, sessions.loads)
}

func TestGateway_PauseResumeAndVolume(t *testing.T) {
	g, sessions, out, _ := newGateway()
	s := seed(t, sessions, "a")
	ctx := context.Background()

	require.NoError(t, g.Handle(ctx, []byte(`{"type":"pause","guildId":"`+guild+`"}`), out))
	require.NoError(t, g.Handle(ctx, []byte(`{"type":"pause","guildId":"`+guild+`"}`), out))
	assert.Equal(t, playback.StatePaused, s.State())

	require.NoError(t, g.Handle(ctx, []byte(`{"type":"resume","guildId":"`+guild+`"}`), out))
	assert.Equal(t, playback.StatePlaying, s.State())

	require.NoError(t, g.Handle(ctx, []byte(`{"type":"volume","guildId":"`+guild+`","volume":999}`), out))
	assert.Equal(t, playback.MaxVolume, s.Volume())
}

func TestGateway_SkipAdvancesSequentially(t *testing.T) {
	g, sessions, out, _ := newGateway()
	s := seed(t, sessions, "a", "b", "c", "d")

	require.NoError(t, g.Handle(context.Background(), []byte(`{"type":"skip","guildId":"`+guild+`","track":2}`), out))

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "c", cur.Title)
	assert.Equal(t, []string{"d"}, queueTitles(s))
}

func TestGateway_SeekAndLoop(t *testing.T) {
	g, sessions, out, _ := newGateway()
	s := seed(t, sessions, "a")
	ctx := context.Background()

	require.NoError(t, g.Handle(ctx, []byte(`{"type":"seek","guildId":"`+guild+`","position":42000}`), out))
	cur, _ := s.Current()
	assert.Equal(t, 42*time.Second, cur.Position())

	require.NoError(t, g.Handle(ctx, []byte(`{"type":"loop","guildId":"`+guild+`","loopMode":1}`), out))
	assert.Equal(t, playback.LoopQueue, s.Loop())
}

func TestGateway_SynchronizePausedOnly(t *testing.T) {
	g, sessions, out, _ := newGateway()
	s := seed(t, sessions, "a", "b", "c")
	s.SetVolume(77)
	s.SetLoop(playback.LoopQueue)
	before := s.Snapshot()

	require.NoError(t, g.Handle(context.Background(),
		[]byte(`{"type":"synchronize","guildId":"`+guild+`","paused":true}`), out))

	after := s.Snapshot()
	assert.True(t, after.Paused)
	assert.Equal(t, before.Volume, after.Volume)
	assert.Equal(t, before.Loop, after.Loop)
	assert.Equal(t, before.Queue, after.Queue)
	assert.Same(t, before.Current, after.Current)
	assert.Empty(t, out.sent)
}

func TestGateway_SynchronizeFull(t *testing.T) {
	g, sessions, out, _ := newGateway()
	s := seed(t, sessions, "a", "b")

	raw := `{
		"type": "synchronize",
		"guildId": "` + guild + `",
		"doAll": true,
		"playingTrack": {"title": "x", "author": "y", "uri": "https://youtu.be/x", "durationMs": 200000, "isLive": false},
		"volume": 30,
		"queue": [
			{"title": "q1", "uri": "https://youtu.be/q1", "durationMs": 1000},
			{"title": "lost", "uri": "https://unknown.example/lost", "durationMs": 1000},
			{"title": "q2", "uri": "https://youtu.be/q2", "durationMs": 1000}
		],
		"loopMode": 2,
		"position": 12.5
	}`
	require.NoError(t, g.Handle(context.Background(), []byte(raw), out))

	// Full state reflects the session before the update
	require.Len(t, out.sent, 1)
	state := out.sent[0].(StateReply)
	assert.Equal(t, TypeSynchronize, state.Type)
	require.NotNil(t, state.PlayingTrack)
	assert.Equal(t, "a", state.PlayingTrack.Title)
	require.Len(t, state.Queue, 1)
	assert.Equal(t, "b", state.Queue[0].Title)

	snap := s.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "x", snap.Current.Title)
	assert.Equal(t, Requester, snap.Current.RequestedBy())
	assert.Equal(t, 30, snap.Volume)
	assert.Equal(t, []string{"q1", "q2"}, queueTitles(s))
	assert.Equal(t, playback.LoopTrack, snap.Loop)
	assert.Equal(t, 12500*time.Millisecond, snap.Position)
}

func TestGateway_SynchronizeEmptyQueueClears(t *testing.T) {
	g, sessions, out, _ := newGateway()
	s := seed(t, sessions, "a", "b", "c")

	require.NoError(t, g.Handle(context.Background(),
		[]byte(`{"type":"synchronize","guildId":"`+guild+`","queue":[],"shuffle":true}`), out))

	assert.Empty(t, s.Queue())
	_, ok := s.Current()
	assert.True(t, ok)
}
