// Package sources wires the catalog adapters and the source resolver from
// configuration.
package sources

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/osa030/guildplay/internal/app/filter"
	"github.com/osa030/guildplay/internal/app/resolver"
	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/infra/config"
	"github.com/osa030/guildplay/internal/infra/httpsource"
	"github.com/osa030/guildplay/internal/infra/soundcloud"
	"github.com/osa030/guildplay/internal/infra/spotify"
	"github.com/osa030/guildplay/internal/infra/youtube"
	"github.com/osa030/guildplay/internal/infra/ytdlp"
)

// SpotifySettings are the per-catalog settings of the Spotify adapter.
type SpotifySettings struct {
	MaxPlaylistItems int `mapstructure:"max_playlist_items" default:"300" validate:"gte=1"`
}

// Options carries optional collaborators.
type Options struct {
	// TokenSource authorizes yt-dlp requests. Nil runs unauthenticated.
	TokenSource oauth2.TokenSource
	Cache       resolver.Cache
	Observer    resolver.Observer
	// Spotify overrides the client built from configuration.
	Spotify *spotify.Client
}

// Sources is the wired resolution stack.
type Sources struct {
	Resolver *resolver.Resolver
	Catalogs []catalog.Catalog
}

// New builds every configured catalog and the resolver over them.
// The generic HTTP catalog always matches last.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Sources, error) {
	if len(cfg.Catalogs) == 0 {
		return nil, errors.New("no catalogs configured")
	}

	extractor := ytdlp.New(ytdlp.Config{
		Timeout:     cfg.YouTube.ExtractTimeout,
		TokenSource: opts.TokenSource,
	})

	var (
		catalogs []catalog.Catalog
		tail     []catalog.Catalog
		sp       *spotify.Catalog
	)
	for i, ccfg := range cfg.Catalogs {
		zlog.Debug().Msgf("creating catalog: index=%d type=%s settings=%+v", i+1, ccfg.Type, ccfg.Settings)

		var c catalog.Catalog
		var err error
		switch ccfg.Type {
		case config.CatalogYouTube:
			var settings youtube.Config
			if err = decodeSettings(ccfg.Settings, &settings); err == nil {
				c = youtube.New(settings, extractor)
			}

		case config.CatalogSoundCloud:
			var settings soundcloud.Config
			if err = decodeSettings(ccfg.Settings, &settings); err == nil {
				c = soundcloud.New(settings, extractor)
			}

		case config.CatalogHTTP:
			var settings httpsource.Config
			if err = decodeSettings(ccfg.Settings, &settings); err == nil {
				tail = append(tail, httpsource.New(settings))
				zlog.Info().Msgf("registered catalog: index=%d type=%s", i+1, ccfg.Type)
				continue
			}

		case config.CatalogSpotify:
			var settings SpotifySettings
			if err = decodeSettings(ccfg.Settings, &settings); err == nil {
				client := opts.Spotify
				if client == nil {
					client, err = spotify.New(ctx, spotify.Config{
						ClientID:          cfg.Spotify.ClientID,
						ClientSecret:      cfg.Spotify.ClientSecret,
						Market:            cfg.Spotify.Market,
						RequestsPerSecond: cfg.Spotify.RequestsPerSecond,
					})
				}
				if err == nil {
					sp = spotify.NewCatalog(client, settings.MaxPlaylistItems)
					c = sp
				}
			}

		default:
			return nil, errors.Newf("unsupported catalog type: %s (catalog index %d)", ccfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create catalog (index %d, type %s)", i, ccfg.Type)
		}
		catalogs = append(catalogs, c)
		zlog.Info().Msgf("registered catalog: index=%d type=%s", i+1, ccfg.Type)
	}
	catalogs = append(catalogs, tail...)

	chain, err := filter.NewChainFromConfig(filterConfigs(cfg.Filters))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filter chain")
	}

	var ropts []resolver.Option
	if opts.Cache != nil {
		ropts = append(ropts, resolver.WithCache(opts.Cache))
	}
	if opts.Observer != nil {
		ropts = append(ropts, resolver.WithObserver(opts.Observer))
	}
	r, err := resolver.New(resolver.Config{
		DefaultSearchPrefix: cfg.Resolver.DefaultSearchPrefix,
		Timeout:             cfg.Resolver.Timeout,
	}, catalogs, chain, ropts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resolver")
	}

	if sp != nil {
		sp.SetDelegate(r)
	}
	return &Sources{Resolver: r, Catalogs: catalogs}, nil
}

func filterConfigs(in map[string]config.FilterConfig) map[string]filter.FilterConfig {
	out := make(map[string]filter.FilterConfig, len(in))
	for name, fc := range in {
		out[name] = filter.FilterConfig{Enabled: fc.Enabled, Settings: fc.Settings}
	}
	return out
}

// decodeSettings decodes, defaults and validates catalog settings.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
