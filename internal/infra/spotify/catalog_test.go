package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
)

const fullTrackJSON = `{
	"id": "0DiWol3AO6WpXZgp0goxAV",
	"name": "One More Time",
	"type": "track",
	"duration_ms": 320357,
	"artists": [{"id": "4tZwfgrHOc3mvqYlEYSvVi", "name": "Daft Punk"}, {"name": "Romanthony"}],
	"album": {"name": "Discovery", "images": [{"url": "https://i.scdn.co/image/discovery"}]},
	"external_ids": {"isrc": "GBDUW0000053"}
}`

func simpleTrackJSON(i int) string {
	return fmt.Sprintf(`{"id": "t%d", "name": "Track %d", "duration_ms": 1000, "artists": [{"name": "Artist"}]}`, i, i)
}

func playlistItemJSON(i int) string {
	return fmt.Sprintf(`{"is_local": false, "track": {"type": "track", "id": "p%d", "name": "Song %d", "duration_ms": 2000, "artists": [], "album": {"images": []}}}`, i, i)
}

// pageJSON renders a paging object over total synthetic items.
func pageJSON(r *http.Request, total int, item func(int) string) string {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	end := offset + limit
	if end > total {
		end = total
	}
	items := make([]string, 0, limit)
	for i := offset; i < end; i++ {
		items = append(items, item(i))
	}
	next := ""
	if end < total {
		next = fmt.Sprintf("http://next?offset=%d", end)
	}
	return fmt.Sprintf(`{"items": [%s], "total": %d, "offset": %d, "limit": %d, "next": %q}`,
		strings.Join(items, ","), total, offset, limit, next)
}

type fakeAPI struct {
	playlistSize int
	albumSize    int
	pageCalls    atomic.Int32
	failures     atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error": {"status": 503, "message": "503 service unavailable"}}`)
		return
	}

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/tracks/"):
		fmt.Fprint(w, fullTrackJSON)
	case strings.HasSuffix(path, "/tracks") && strings.HasPrefix(path, "/albums/"):
		f.pageCalls.Add(1)
		fmt.Fprint(w, pageJSON(r, f.albumSize, simpleTrackJSON))
	case strings.HasPrefix(path, "/albums/"):
		fmt.Fprint(w, `{"id": "al1", "name": "Discovery", "images": [{"url": "https://i.scdn.co/image/discovery"}]}`)
	case strings.HasPrefix(path, "/playlists/") && strings.Count(path, "/") > 2:
		f.pageCalls.Add(1)
		fmt.Fprint(w, pageJSON(r, f.playlistSize, func(i int) string {
			if i == 1 {
				return `{"is_local": true, "track": {"type": "track", "id": "", "name": "local.mp3"}}`
			}
			return playlistItemJSON(i)
		}))
	case strings.HasPrefix(path, "/playlists/"):
		fmt.Fprint(w, `{"id": "pl1", "name": "Road Trip"}`)
	case strings.HasSuffix(path, "/top-tracks"):
		fmt.Fprintf(w, `{"tracks": [%s]}`, fullTrackJSON)
	case strings.HasPrefix(path, "/artists/"):
		fmt.Fprint(w, `{"id": "4tZwfgrHOc3mvqYlEYSvVi", "name": "Daft Punk"}`)
	case path == "/search":
		if r.URL.Query().Get("q") == "nothing" {
			fmt.Fprint(w, `{"tracks": {"items": [], "total": 0}}`)
			return
		}
		fmt.Fprintf(w, `{"tracks": {"items": [%s], "total": 1}}`, fullTrackJSON)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"status": 404, "message": "not found"}}`)
	}
}

func newTestCatalog(t *testing.T, api *fakeAPI) *Catalog {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client := newClient(spotify.New(srv.Client(), spotify.WithBaseURL(srv.URL+"/")), Config{RequestsPerSecond: 1000})
	client.retryDelay = time.Millisecond
	return NewCatalog(client, 300)
}

func TestCatalog_LoadTrack(t *testing.T) {
	c := newTestCatalog(t, &fakeAPI{})

	out := c.Load(context.Background(), "https://open.spotify.com/track/0DiWol3AO6WpXZgp0goxAV")
	require.Equal(t, catalog.KindSingle, out.Kind, "err=%v", out.Err)

	it := out.Item
	assert.Equal(t, "One More Time", it.Title)
	assert.Equal(t, "Daft Punk", it.Author)
	assert.Equal(t, 320357*time.Millisecond, it.Duration)
	assert.Equal(t, "GBDUW0000053", it.ISRC)
	assert.Equal(t, "https://i.scdn.co/image/discovery", it.ArtworkURL)
	assert.Equal(t, "https://open.spotify.com/track/0DiWol3AO6WpXZgp0goxAV", it.URI)
	assert.Equal(t, Name, it.Catalog)
	assert.Same(t, c, it.Source)
}

func TestCatalog_LoadAlbumPaginates(t *testing.T) {
	api := &fakeAPI{albumSize: 60}
	c := newTestCatalog(t, api)

	out := c.Load(context.Background(), "spotify:album:al1")
	require.Equal(t, catalog.KindPlaylist, out.Kind, "err=%v", out.Err)

	assert.Equal(t, "Discovery", out.Playlist.Name)
	assert.Len(t, out.Playlist.Items, 60)
	assert.Equal(t, int32(2), api.pageCalls.Load())
	assert.Empty(t, out.Playlist.Items[0].ISRC)
	assert.Equal(t, "https://i.scdn.co/image/discovery", out.Playlist.Items[59].ArtworkURL)
}

func TestCatalog_LoadPlaylist(t *testing.T) {
	t.Run("skips local files", func(t *testing.T) {
		c := newTestCatalog(t, &fakeAPI{playlistSize: 5})

		out := c.Load(context.Background(), "https://open.spotify.com/playlist/pl1")
		require.Equal(t, catalog.KindPlaylist, out.Kind, "err=%v", out.Err)
		assert.Equal(t, "Road Trip", out.Playlist.Name)
		assert.Len(t, out.Playlist.Items, 4)
		assert.Equal(t, "unknown", out.Playlist.Items[0].Author)
	})

	t.Run("stops one past the cap", func(t *testing.T) {
		api := &fakeAPI{playlistSize: 1000}
		c := newTestCatalog(t, api)

		out := c.Load(context.Background(), "https://open.spotify.com/playlist/pl1")
		require.Equal(t, catalog.KindPlaylist, out.Kind, "err=%v", out.Err)
		assert.Len(t, out.Playlist.Items, 301)
		assert.Equal(t, int32(7), api.pageCalls.Load())
	})
}

func TestCatalog_LoadArtist(t *testing.T) {
	c := newTestCatalog(t, &fakeAPI{})

	out := c.Load(context.Background(), "https://open.spotify.com/artist/4tZwfgrHOc3mvqYlEYSvVi")
	require.Equal(t, catalog.KindPlaylist, out.Kind, "err=%v", out.Err)
	assert.Equal(t, "Daft Punk's Top Tracks", out.Playlist.Name)
	assert.Len(t, out.Playlist.Items, 1)
}

func TestCatalog_Search(t *testing.T) {
	c := newTestCatalog(t, &fakeAPI{})

	out := c.Search(context.Background(), Prefix, "one more time")
	require.Equal(t, catalog.KindPlaylist, out.Kind, "err=%v", out.Err)
	assert.True(t, out.Playlist.IsSearchResult)
	assert.Equal(t, "Search results for: one more time", out.Playlist.Name)

	out = c.Search(context.Background(), Prefix, "nothing")
	assert.Equal(t, catalog.KindNoMatch, out.Kind)
}

func TestCatalog_RetriesServerErrors(t *testing.T) {
	api := &fakeAPI{}
	api.failures.Store(2)
	c := newTestCatalog(t, api)

	out := c.Load(context.Background(), "spotify:track:0DiWol3AO6WpXZgp0goxAV")
	assert.Equal(t, catalog.KindSingle, out.Kind, "err=%v", out.Err)
}

type stubSource struct{}

func (stubSource) Name() string { return "youtube" }

func (stubSource) ResolveAudio(ctx context.Context, it *track.Item) (*track.Item, error) {
	out := it.Clone()
	out.StreamURL = "https://cdn/" + it.Identifier
	return out, nil
}

type fakeDelegate struct {
	refs    []string
	results map[string]catalog.Outcome
}

func (d *fakeDelegate) Resolve(ctx context.Context, ref string) catalog.Outcome {
	d.refs = append(d.refs, ref)
	if out, ok := d.results[ref]; ok {
		return out
	}
	return catalog.NoMatch()
}

func TestCatalog_ResolveAudio(t *testing.T) {
	spotifyItem := func(isrc string) *track.Item {
		it := &track.Item{Title: "One More Time", Author: "Daft Punk", ISRC: isrc, URI: "https://open.spotify.com/track/x"}
		it.SetRequestedBy("alice")
		return it
	}
	hit := func(id string) catalog.Outcome {
		return catalog.SearchResult("q", []*track.Item{
			{Title: id, Identifier: id, Source: stubSource{}},
			{Title: "other", Identifier: "other", Source: stubSource{}},
		})
	}

	t.Run("title and author first", func(t *testing.T) {
		d := &fakeDelegate{results: map[string]catalog.Outcome{
			"ytsearch:One More Time Daft Punk": hit("yt1"),
			"ytmsearch:GBDUW0000053":           hit("ytm1"),
		}}
		c := NewCatalog(nil, 0)
		c.SetDelegate(d)

		out, err := c.ResolveAudio(context.Background(), spotifyItem("GBDUW0000053"))
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/yt1", out.StreamURL)
		assert.Equal(t, "One More Time", out.Title)
		assert.Equal(t, "alice", out.RequestedBy())
		assert.Equal(t, []string{"ytsearch:One More Time Daft Punk"}, d.refs)
	})

	t.Run("ISRC fallback", func(t *testing.T) {
		d := &fakeDelegate{results: map[string]catalog.Outcome{
			"ytmsearch:GBDUW0000053": hit("ytm1"),
		}}
		c := NewCatalog(nil, 0)
		c.SetDelegate(d)

		out, err := c.ResolveAudio(context.Background(), spotifyItem("GBDUW0000053"))
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/ytm1", out.StreamURL)
		assert.Equal(t, []string{"ytsearch:One More Time Daft Punk", "ytmsearch:GBDUW0000053"}, d.refs)
	})

	t.Run("not found without ISRC", func(t *testing.T) {
		d := &fakeDelegate{}
		c := NewCatalog(nil, 0)
		c.SetDelegate(d)

		_, err := c.ResolveAudio(context.Background(), spotifyItem(""))
		require.Error(t, err)
		assert.True(t, errors.Is(err, catalog.ErrTrackNotFound))
		assert.Contains(t, err.Error(), "One More Time Daft Punk")
		assert.Len(t, d.refs, 1)
	})

	t.Run("no delegate", func(t *testing.T) {
		_, err := NewCatalog(nil, 0).ResolveAudio(context.Background(), spotifyItem(""))
		assert.Error(t, err)
	})
}
