package sources

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildplay/internal/infra/config"
)

func names(s *Sources) []string {
	result := make([]string, 0, len(s.Catalogs))
	for _, c := range s.Catalogs {
		result = append(result, c.Name())
	}
	return result
}

func TestNew_OrdersHTTPLast(t *testing.T) {
	cfg := &config.Config{
		Catalogs: []config.CatalogConfig{
			{Type: config.CatalogHTTP, Settings: map[string]any{"timeout": "3s"}},
			{Type: config.CatalogYouTube, Settings: map[string]any{"search_limit": 3}},
			{Type: config.CatalogSoundCloud},
		},
		Resolver: config.ResolverConfig{DefaultSearchPrefix: "ytsearch", Timeout: time.Second},
	}

	s, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube", "soundcloud", "http"}, names(s))
	assert.NotNil(t, s.Resolver)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{
			name: "no catalogs",
			cfg:  config.Config{},
		},
		{
			name: "invalid settings",
			cfg: config.Config{Catalogs: []config.CatalogConfig{
				{Type: config.CatalogYouTube, Settings: map[string]any{"search_limit": 100}},
			}},
		},
		{
			name: "unknown type",
			cfg: config.Config{Catalogs: []config.CatalogConfig{
				{Type: config.CatalogYouTube},
				{Type: "deezer"},
			}},
		},
		{
			name: "default prefix without catalog",
			cfg: config.Config{
				Catalogs: []config.CatalogConfig{{Type: config.CatalogSoundCloud}},
				Resolver: config.ResolverConfig{DefaultSearchPrefix: "ytmsearch"},
			},
		},
		{
			name: "spotify without credentials",
			cfg: config.Config{Catalogs: []config.CatalogConfig{
				{Type: config.CatalogYouTube},
				{Type: config.CatalogSpotify},
			}},
		},
		{
			name: "invalid filter settings",
			cfg: config.Config{
				Catalogs: []config.CatalogConfig{{Type: config.CatalogYouTube}},
				Filters: map[string]config.FilterConfig{
					"playlist_size_filter": {Enabled: true, Settings: map[string]any{"max_items": "lots"}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), &tt.cfg, Options{})
			assert.Error(t, err)
		})
	}
}

func TestDecodeSettings_AppliesDefaults(t *testing.T) {
	var s SpotifySettings
	require.NoError(t, decodeSettings(nil, &s))
	assert.Equal(t, 300, s.MaxPlaylistItems)

	require.NoError(t, decodeSettings(map[string]any{"max_playlist_items": "50"}, &s))
	assert.Equal(t, 50, s.MaxPlaylistItems)
}
