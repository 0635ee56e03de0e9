// Package youtube implements the YouTube and YouTube Music catalog.
package youtube

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
	"github.com/osa030/guildplay/internal/infra/ytdlp"
)

const (
	Name = "youtube"

	PrefixVideo = "ytsearch"
	PrefixMusic = "ytmsearch"

	defaultSearchLimit = 5
	defaultMaxPlaylist = 300
)

var urlPattern = regexp.MustCompile(`^(https?://)?((www|m|music)\.)?(youtube\.com|youtu\.be)/`)

// Extractor is the subset of the yt-dlp extractor the catalog needs.
type Extractor interface {
	Search(ctx context.Context, prefix, query string, n int) ([]ytdlp.Entry, error)
	Playlist(ctx context.Context, url string, max int) (string, []ytdlp.Entry, error)
	Probe(ctx context.Context, url string) (*ytdlp.Entry, error)
}

// searchFunc runs a native search and returns candidate items.
type searchFunc func(ctx context.Context, query string, n int) ([]*track.Item, error)

// Config represents YouTube catalog configuration.
type Config struct {
	SearchLimit       int     `mapstructure:"search_limit" default:"5" validate:"gte=1,lte=25"`
	MaxPlaylistItems  int     `mapstructure:"max_playlist_items" default:"300" validate:"gte=1"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" default:"5" validate:"gt=0"`
}

// Catalog resolves YouTube URLs and ytsearch/ytmsearch queries.
type Catalog struct {
	extractor   Extractor
	limiter     *rate.Limiter
	searchLimit int
	maxPlaylist int

	videoSearch searchFunc
	musicSearch searchFunc
}

// New creates the catalog.
func New(cfg Config, extractor Extractor) *Catalog {
	c := &Catalog{
		extractor:   extractor,
		searchLimit: cfg.SearchLimit,
		maxPlaylist: cfg.MaxPlaylistItems,
	}
	if c.searchLimit <= 0 {
		c.searchLimit = defaultSearchLimit
	}
	if c.maxPlaylist <= 0 {
		c.maxPlaylist = defaultMaxPlaylist
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	c.videoSearch = c.searchVideos
	c.musicSearch = c.searchMusic
	return c
}

// Name returns the catalog tag.
func (c *Catalog) Name() string { return Name }

// SearchPrefixes returns ytsearch and ytmsearch.
func (c *Catalog) SearchPrefixes() []string { return []string{PrefixVideo, PrefixMusic} }

// Match reports whether the URL is a YouTube URL.
func (c *Catalog) Match(u string) bool {
	return urlPattern.MatchString(u)
}

// Load resolves a video or playlist URL.
func (c *Catalog) Load(ctx context.Context, u string) catalog.Outcome {
	if err := c.limiter.Wait(ctx); err != nil {
		return catalog.Failed(errors.Wrap(err, "rate limiter"))
	}

	if isPlaylistURL(u) {
		title, entries, err := c.extractor.Playlist(ctx, u, c.maxPlaylist+1)
		if err != nil {
			return catalog.Failed(err)
		}
		if len(entries) == 0 {
			return catalog.NoMatch()
		}
		if title == "" {
			title = "YouTube playlist"
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

// Search runs a video or music search. Native search clients are tried first,
// yt-dlp is the fallback.
func (c *Catalog) Search(ctx context.Context, prefix, query string) catalog.Outcome {
	if err := c.limiter.Wait(ctx); err != nil {
		return catalog.Failed(errors.Wrap(err, "rate limiter"))
	}

	native := c.videoSearch
	switch prefix {
	case PrefixVideo:
	case PrefixMusic:
		native = c.musicSearch
	default:
		return catalog.Failed(errors.Wrapf(catalog.ErrUnsupported, "prefix=%s", prefix))
	}

	items, err := native(ctx, query, c.searchLimit)
	if err != nil || len(items) == 0 {
		if err != nil {
			zlog.Debug().Msgf("youtube: native search failed, falling back to yt-dlp: prefix=%s error=%v", prefix, err)
		}
		entries, xerr := c.extractor.Search(ctx, prefix, query, c.searchLimit)
		if xerr != nil {
			if err != nil {
				return catalog.Failed(errors.CombineErrors(err, xerr))
			}
			return catalog.Failed(xerr)
		}
		items = c.items(entries)
	}
	return catalog.SearchResult(query, items)
}

// ResolveAudio probes the item URI for a direct stream URL.
func (c *Catalog) ResolveAudio(ctx context.Context, it *track.Item) (*track.Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}
	ent, err := c.extractor.Probe(ctx, it.URI)
	if err != nil {
		return nil, err
	}
	if ent.StreamURL == "" {
		return nil, errors.Wrapf(catalog.ErrTrackNotFound, "no audio stream: uri=%s", it.URI)
	}
	out := it.Clone()
	out.StreamURL = ent.StreamURL
	if out.Duration == 0 {
		out.Duration = ent.Duration
	}
	return out, nil
}

func (c *Catalog) searchVideos(ctx context.Context, query string, n int) ([]*track.Item, error) {
	res, err := ytsearch.NewClient(nil).Search(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "ytsearch")
	}
	items := make([]*track.Item, 0, n)
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		items = append(items, c.videoItem(v))
		if len(items) == n {
			break
		}
	}
	return items, nil
}

func (c *Catalog) searchMusic(ctx context.Context, query string, n int) ([]*track.Item, error) {
	res, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		return nil, errors.Wrap(err, "ytmusic")
	}
	items := make([]*track.Item, 0, n)
	for _, v := range res.Tracks {
		if v.VideoID == "" {
			continue
		}
		items = append(items, c.musicItem(*v))
		if len(items) == n {
			break
		}
	}
	return items, nil
}

func (c *Catalog) videoItem(v ytsearch.VideoInfo) *track.Item {
	author := v.Channel
	if author == "" {
		author = "unknown"
	}
	return &track.Item{
		Title:      v.Title,
		Author:     author,
		Duration:   parseClock(v.Duration),
		URI:        "https://www.youtube.com/watch?v=" + v.VideoID,
		Identifier: v.VideoID,
		Catalog:    Name,
		Source:     c,
	}
}

func (c *Catalog) musicItem(v ytmusic.TrackItem) *track.Item {
	author := "unknown"
	if len(v.Artists) > 0 {
		author = v.Artists[0].Name
	}
	return &track.Item{
		Title:      v.Title,
		Author:     author,
		Duration:   time.Duration(v.Duration) * time.Second,
		URI:        "https://music.youtube.com/watch?v=" + v.VideoID,
		Identifier: v.VideoID,
		Catalog:    Name,
		Source:     c,
	}
}

// parseClock parses a length label such as "3:45" or "1:02:03".
// Labels it cannot read, including the empty label of live videos, yield 0.
func parseClock(label string) time.Duration {
	if label == "" {
		return 0
	}
	var total int
	for _, part := range strings.Split(label, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

func (c *Catalog) items(entries []ytdlp.Entry) []*track.Item {
	items := make([]*track.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, c.item(e))
	}
	return items
}

func (c *Catalog) item(e ytdlp.Entry) *track.Item {
	author := e.Uploader
	if author == "" {
		author = "unknown"
	}
	uri := e.URL
	if e.ID != "" && !strings.HasPrefix(uri, "http") {
		uri = "https://www.youtube.com/watch?v=" + e.ID
	}
	return &track.Item{
		Title:      e.Title,
		Author:     author,
		Duration:   e.Duration.Round(time.Millisecond),
		URI:        uri,
		Identifier: e.ID,
		IsLive:     e.IsLive,
		Catalog:    Name,
		Source:     c,
	}
}

// isPlaylistURL reports whether the URL names a playlist rather than a video.
func isPlaylistURL(u string) bool {
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	q := parsed.Query()
	return parsed.Path == "/playlist" && q.Get("list") != ""
}
