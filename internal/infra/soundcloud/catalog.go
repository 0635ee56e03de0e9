// Package soundcloud implements the SoundCloud catalog on top of yt-dlp.
package soundcloud

import (
	"context"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
	"github.com/osa030/guildplay/internal/infra/ytdlp"
)

const (
	Name   = "soundcloud"
	Prefix = "scsearch"
)

var (
	urlPattern = regexp.MustCompile(`^(https?://)?(www\.|m\.)?soundcloud\.com/[^/]+/[^/?#]+`)
	setPattern = regexp.MustCompile(`soundcloud\.com/[^/]+/sets/`)
)

// Extractor is the subset of the yt-dlp extractor the catalog needs.
type Extractor interface {
	Search(ctx context.Context, prefix, query string, n int) ([]ytdlp.Entry, error)
	Playlist(ctx context.Context, url string, max int) (string, []ytdlp.Entry, error)
	Probe(ctx context.Context, url string) (*ytdlp.Entry, error)
}

// Config represents SoundCloud catalog configuration.
type Config struct {
	SearchLimit      int `mapstructure:"search_limit" default:"5" validate:"gte=1,lte=25"`
	MaxPlaylistItems int `mapstructure:"max_playlist_items" default:"300" validate:"gte=1"`
}

// Catalog resolves SoundCloud track and set URLs and scsearch queries.
type Catalog struct {
	extractor   Extractor
	searchLimit int
	maxPlaylist int
}

// New creates the catalog.
func New(cfg Config, extractor Extractor) *Catalog {
	c := &Catalog{extractor: extractor, searchLimit: cfg.SearchLimit, maxPlaylist: cfg.MaxPlaylistItems}
	if c.searchLimit <= 0 {
		c.searchLimit = 5
	}
	if c.maxPlaylist <= 0 {
		c.maxPlaylist = 300
	}
	return c
}

func (c *Catalog) Name() string             { return Name }
func (c *Catalog) SearchPrefixes() []string { return []string{Prefix} }
func (c *Catalog) Match(u string) bool      { return urlPattern.MatchString(u) }

// Load resolves a track or set URL.
func (c *Catalog) Load(ctx context.Context, u string) catalog.Outcome {
	if setPattern.MatchString(u) {
		title, entries, err := c.extractor.Playlist(ctx, u, c.maxPlaylist+1)
		if err != nil {
			return catalog.Failed(err)
		}
		if len(entries) == 0 {
			return catalog.NoMatch()
		}
		return catalog.PlaylistOf(title, u, c.items(entries))
	}

	ent, err := c.extractor.Probe(ctx, u)
	if err != nil {
		return catalog.Failed(err)
	}
	it := c.item(*ent)
	it.StreamURL = ent.StreamURL
	return catalog.Single(it)
}

// Search runs an scsearch query through yt-dlp.
func (c *Catalog) Search(ctx context.Context, prefix, query string) catalog.Outcome {
	if prefix != Prefix {
		return catalog.Failed(errors.Wrapf(catalog.ErrUnsupported, "prefix=%s", prefix))
	}
	entries, err := c.extractor.Search(ctx, Prefix, query, c.searchLimit)
	if err != nil {
		return catalog.Failed(err)
	}
	return catalog.SearchResult(query, c.items(entries))
}

// ResolveAudio probes the item for its stream URL.
func (c *Catalog) ResolveAudio(ctx context.Context, it *track.Item) (*track.Item, error) {
	ent, err := c.extractor.Probe(ctx, it.URI)
	if err != nil {
		return nil, err
	}
	if ent.StreamURL == "" {
		return nil, errors.Wrapf(catalog.ErrTrackNotFound, "no audio stream: uri=%s", it.URI)
	}
	out := it.Clone()
	out.StreamURL = ent.StreamURL
	return out, nil
}

func (c *Catalog) items(entries []ytdlp.Entry) []*track.Item {
	items := make([]*track.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, c.item(e))
	}
	return items
}

func (c *Catalog) item(e ytdlp.Entry) *track.Item {
	author := strings.TrimSpace(e.Uploader)
	if author == "" {
		author = "unknown"
	}
	return &track.Item{
		Title:      e.Title,
		Author:     author,
		Duration:   e.Duration,
		URI:        e.URL,
		Identifier: e.ID,
		IsLive:     e.IsLive,
		Catalog:    Name,
		Source:     c,
	}
}
