package filter

import (
	"context"
	"fmt"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/domain/catalog"
)

const (
	PlaylistSizeFilterName = "playlist_size_filter"
	DefaultMaxPlaylistSize = 300
)

// PlaylistSizeConfig represents the configuration for PlaylistSizeFilter.
type PlaylistSizeConfig struct {
	MaxItems int `yaml:"max_items" mapstructure:"max_items" default:"300" validate:"gte=1"`
}

// PlaylistSizeFilter rejects playlists above the size cap. Playlists are
// never truncated.
type PlaylistSizeFilter struct {
	config *PlaylistSizeConfig
}

// NewPlaylistSizeFilter creates a filter with the default cap.
func NewPlaylistSizeFilter() *PlaylistSizeFilter {
	return &PlaylistSizeFilter{config: &PlaylistSizeConfig{MaxItems: DefaultMaxPlaylistSize}}
}

func (f *PlaylistSizeFilter) Name() string {
	return PlaylistSizeFilterName
}

func (f *PlaylistSizeFilter) Description() string {
	return "Rejects playlists with more items than the configured cap"
}

func (f *PlaylistSizeFilter) ReturnCodes() []string {
	return []string{"playlist_too_large"}
}

func (f *PlaylistSizeFilter) ValidateConfig(settings map[string]any) error {
	var config PlaylistSizeConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("playlist size filter config: %+v", config)
	return nil
}

func (f *PlaylistSizeFilter) Check(ctx context.Context, req LoadRequest) Result {
	if req.Outcome.Kind != catalog.KindPlaylist {
		return Accept()
	}
	n := len(req.Outcome.Playlist.Items)
	if n > f.config.MaxItems {
		return Reject("playlist_too_large",
			fmt.Sprintf("playlist has %d items, the limit is %d", n, f.config.MaxItems))
	}
	return Accept()
}

func init() {
	Register(PlaylistSizeFilterName, func() Filter {
		return NewPlaylistSizeFilter()
	})
}
