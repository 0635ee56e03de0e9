package filter

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
)

// DurationLimitConfig represents the configuration for DurationLimitFilter.
type DurationLimitConfig struct {
	MinMinutes float64 `yaml:"min_minutes" mapstructure:"min_minutes" validate:"gte=0"`
	MaxMinutes float64 `yaml:"max_minutes" mapstructure:"max_minutes" validate:"gte=0"`
	RejectLive bool    `yaml:"reject_live" mapstructure:"reject_live"`
}

// DurationLimitFilter checks if item durations are within allowed limits.
// For search results only the selected item is checked.
type DurationLimitFilter struct {
	config *DurationLimitConfig
}

// NewDurationLimitFilter creates a new duration limit filter.
func NewDurationLimitFilter() *DurationLimitFilter {
	return &DurationLimitFilter{}
}

func (f *DurationLimitFilter) Name() string {
	return "duration_limit_filter"
}

func (f *DurationLimitFilter) Description() string {
	return "Checks if track duration is within allowed limits"
}

func (f *DurationLimitFilter) ReturnCodes() []string {
	return []string{"duration_limit_exceeded"}
}

func (f *DurationLimitFilter) ValidateConfig(settings map[string]any) error {
	var config DurationLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}

	// Custom validation: min_minutes cannot be greater than max_minutes
	if config.MaxMinutes > 0 && config.MinMinutes > config.MaxMinutes {
		return errors.New("min_minutes cannot be greater than max_minutes")
	}
	f.config = &config
	zlog.Info().Msgf("duration limit filter config: %+v", config)
	return nil
}

func (f *DurationLimitFilter) Check(ctx context.Context, req LoadRequest) Result {
	// If config is not set, accept all tracks
	if f.config == nil {
		return Accept()
	}

	items := req.Outcome.Items()
	if req.Outcome.Kind == catalog.KindPlaylist && req.Outcome.Playlist.IsSearchResult && len(items) > 0 {
		items = items[:1]
	}

	for _, it := range items {
		if r := f.checkItem(it); !r.Accepted {
			return r
		}
	}
	return Accept()
}

func (f *DurationLimitFilter) checkItem(it *track.Item) Result {
	if it.IsLive {
		if !f.config.RejectLive {
			return Accept()
		}
		return Reject("duration_limit_exceeded", fmt.Sprintf("live streams are not allowed: %s", it.Title))
	}
	// Unknown durations are resolved at play time
	if it.Duration == 0 {
		return Accept()
	}

	durationMinutes := it.Duration.Minutes()

	// Check minimum duration
	if durationMinutes < f.config.MinMinutes {
		return Reject("duration_limit_exceeded", fmt.Sprintf("%s is shorter than %.1f minutes", it.Title, f.config.MinMinutes))
	}

	// Check maximum duration
	if f.config.MaxMinutes > 0 && durationMinutes > f.config.MaxMinutes {
		return Reject("duration_limit_exceeded", fmt.Sprintf("%s is longer than %.1f minutes", it.Title, f.config.MaxMinutes))
	}

	return Accept()
}

func init() {
	Register("duration_limit_filter", func() Filter {
		return &DurationLimitFilter{}
	})
}
