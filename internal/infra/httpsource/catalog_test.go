package httpsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
)

func TestCatalog_Load(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/music/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
	})
	mux.HandleFunc("/radio", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		assert.Equal(t, "1", r.Header.Get("Icy-MetaData"))
		w.Header().Set("icy-name", "Jazz FM")
		w.Header().Set("Content-Type", "audio/aacp")
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{})

	t.Run("audio file", func(t *testing.T) {
		out := c.Load(context.Background(), srv.URL+"/music/My%20Song.mp3")
		require.Equal(t, catalog.KindSingle, out.Kind, "err=%v", out.Err)
		assert.Equal(t, "My Song.mp3", out.Item.Title)
		assert.Equal(t, "unknown", out.Item.Author)
		assert.False(t, out.Item.IsLive)
		assert.Equal(t, Name, out.Item.Catalog)
	})

	t.Run("radio stream rejects HEAD", func(t *testing.T) {
		out := c.Load(context.Background(), srv.URL+"/radio")
		require.Equal(t, catalog.KindSingle, out.Kind, "err=%v", out.Err)
		assert.Equal(t, "Jazz FM", out.Item.Title)
		assert.True(t, out.Item.IsLive)
		assert.False(t, out.Item.Seekable())
	})

	t.Run("html page", func(t *testing.T) {
		out := c.Load(context.Background(), srv.URL+"/page")
		assert.Equal(t, catalog.KindFailed, out.Kind)
		assert.True(t, errors.Is(out.Err, catalog.ErrUnsupported))
	})

	t.Run("missing", func(t *testing.T) {
		out := c.Load(context.Background(), srv.URL+"/nothing")
		assert.Equal(t, catalog.KindNoMatch, out.Kind)
	})
}

func TestCatalog_Match(t *testing.T) {
	c := New(Config{})
	assert.True(t, c.Match("https://example.com/a.mp3"))
	assert.True(t, c.Match("http://10.0.0.1:8000/stream"))
	assert.False(t, c.Match("ftp://example.com/a.mp3"))
	assert.False(t, c.Match("just words"))
}

func TestCatalog_ResolveAudio(t *testing.T) {
	c := New(Config{})
	out, err := c.ResolveAudio(context.Background(), &track.Item{URI: "https://example.com/a.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.mp3", out.StreamURL)
}
