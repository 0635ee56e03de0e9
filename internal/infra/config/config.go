// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Catalog types accepted in the catalogs section.
const (
	CatalogYouTube    = "youtube"
	CatalogSpotify    = "spotify"
	CatalogSoundCloud = "soundcloud"
	CatalogHTTP       = "http"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Admin    AdminConfig             `yaml:"admin"`
	Remote   RemoteConfig            `yaml:"remote"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	YouTube  YouTubeConfig           `yaml:"youtube"`
	Resolver ResolverConfig          `yaml:"resolver"`
	Playback PlaybackConfig          `yaml:"playback"`
	Catalogs []CatalogConfig         `yaml:"catalogs" validate:"required,min=1,dive"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Redis    RedisConfig             `yaml:"redis"`
	Metrics  MetricsConfig           `yaml:"metrics"`
	Messages MessagesConfig          `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents control API configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// RemoteConfig represents the remote synchronization link.
type RemoteConfig struct {
	URL            string        `yaml:"url" validate:"omitempty,url"`
	Token          string        `yaml:"token"`
	BotID          string        `yaml:"bot_id"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
}

// Enabled reports whether a remote link is configured.
func (r RemoteConfig) Enabled() bool {
	return r.URL != ""
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID          string  `yaml:"client_id"`
	ClientSecret      string  `yaml:"client_secret"`
	Market            string  `yaml:"market" validate:"omitempty,len=2" default:"US"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"10" validate:"omitempty,gt=0"`
}

// YouTubeConfig represents yt-dlp and device authorization configuration.
type YouTubeConfig struct {
	CredentialsFile string        `yaml:"credentials_file" default:"youtube_credentials.json"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	ExtractTimeout  time.Duration `yaml:"extract_timeout" default:"30s"`
}

// ResolverConfig represents source resolver configuration.
type ResolverConfig struct {
	DefaultSearchPrefix string        `yaml:"default_search_prefix" default:"ytmsearch"`
	Timeout             time.Duration `yaml:"timeout" default:"20s"`
}

// PlaybackConfig represents playback session configuration.
type PlaybackConfig struct {
	DefaultVolume int `yaml:"default_volume" default:"100" validate:"gte=0,lte=150"`
	EventBuffer   int `yaml:"event_buffer" default:"256" validate:"omitempty,gte=1"`
}

// CatalogConfig represents a single catalog adapter configuration.
// Catalogs are matched against URLs in the listed order.
type CatalogConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=youtube spotify soundcloud http"`
	Settings map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// RedisConfig represents the search cache configuration.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db" validate:"gte=0"`
	TTL            time.Duration `yaml:"ttl" default:"30m"`
	DisableOnError bool          `yaml:"disable_on_error"`
}

// Enabled reports whether the cache is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// MetricsConfig represents metrics exposition configuration.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path" default:"/metrics" validate:"omitempty,startswith=/"`
}

// MessagesConfig represents user-facing status messages.
type MessagesConfig struct {
	TrackQueued           string `yaml:"track_queued" default:"Queued %s"`
	PlaylistQueued        string `yaml:"playlist_queued" default:"Queued %d tracks from %s"`
	NoMatches             string `yaml:"no_matches" default:"Nothing found"`
	LoadFailed            string `yaml:"load_failed" default:"Could not load the track"`
	PlaylistTooLarge      string `yaml:"playlist_too_large" default:"That playlist is too large"`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That track is too long"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("YOUTUBE_CLIENT_ID"); v != "" {
		c.YouTube.ClientID = v
	}
	if v := os.Getenv("YOUTUBE_CLIENT_SECRET"); v != "" {
		c.YouTube.ClientSecret = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("REMOTE_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

// GetMessage returns the message for the given status code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "track_queued":
		return c.Messages.TrackQueued
	case "playlist_queued":
		return c.Messages.PlaylistQueued
	case "no_matches":
		return c.Messages.NoMatches
	case "playlist_too_large":
		return c.Messages.PlaylistTooLarge
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	default:
		return c.Messages.LoadFailed
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateCatalogs(); err != nil {
		return err
	}

	if c.Remote.Enabled() && c.Remote.BotID == "" {
		return errors.New("remote.bot_id is required when remote.url is set")
	}

	return nil
}

// validateCatalogs checks catalog uniqueness and per-catalog credentials.
func (c *Config) validateCatalogs() error {
	seen := make(map[string]bool)
	for _, cat := range c.Catalogs {
		if seen[cat.Type] {
			return errors.Newf("catalog %s is configured twice", cat.Type)
		}
		seen[cat.Type] = true
	}

	if seen[CatalogSpotify] && (c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "") {
		return errors.New("spotify catalog requires spotify.client_id and spotify.client_secret")
	}
	if seen[CatalogSpotify] && !seen[CatalogYouTube] {
		return errors.New("spotify catalog requires the youtube catalog for audio resolution")
	}
	if strings.Contains(c.Resolver.DefaultSearchPrefix, ":") {
		return errors.Newf("resolver.default_search_prefix must not contain a colon: %s", c.Resolver.DefaultSearchPrefix)
	}
	return nil
}

// HasCatalog reports whether a catalog type is configured.
func (c *Config) HasCatalog(catalogType string) bool {
	for _, cat := range c.Catalogs {
		if cat.Type == catalogType {
			return true
		}
	}
	return false
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}
