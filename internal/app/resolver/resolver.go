// Package resolver turns track references into load outcomes by routing
// them to catalog adapters.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/filter"
	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
)

const DefaultSearchPrefix = "ytmsearch"

var (
	ErrEmptyReference = errors.New("empty reference")
	ErrUnknownPrefix  = errors.New("unknown search prefix")
	ErrRejected       = errors.New("rejected by filter")
)

var searchRefPattern = regexp.MustCompile(`^([a-z]+search):(.*)$`)

// Cache stores search results between calls. Implementations must treat
// every error as a miss.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Observer receives one observation per resolution.
type Observer interface {
	ObserveResolve(catalogName, kind string, elapsed time.Duration)
}

// Config represents resolver configuration.
type Config struct {
	DefaultSearchPrefix string
	Timeout             time.Duration
}

// Resolver routes references to catalogs.
type Resolver struct {
	catalogs      []catalog.Catalog
	byPrefix      map[string]catalog.Catalog
	defaultPrefix string
	timeout       time.Duration
	chain         *filter.Chain
	cache         Cache
	observer      Observer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables the search result cache.
func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithObserver installs a resolution observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// New creates a resolver. Catalogs are matched against URLs in order, so a
// catch-all catalog belongs last.
func New(cfg Config, catalogs []catalog.Catalog, chain *filter.Chain, opts ...Option) (*Resolver, error) {
	prefix := strings.TrimSuffix(cfg.DefaultSearchPrefix, ":")
	if prefix == "" {
		prefix = DefaultSearchPrefix
	}
	if chain == nil {
		chain = filter.NewChain()
		chain.Add(filter.NewPlaylistSizeFilter())
	}

	r := &Resolver{
		catalogs:      catalogs,
		byPrefix:      make(map[string]catalog.Catalog),
		defaultPrefix: prefix,
		timeout:       cfg.Timeout,
		chain:         chain,
	}
	for _, c := range catalogs {
		for _, p := range c.SearchPrefixes() {
			if owner, exists := r.byPrefix[p]; exists {
				return nil, errors.Newf("search prefix %s registered twice: %s and %s", p, owner.Name(), c.Name())
			}
			r.byPrefix[p] = c
		}
	}
	if _, ok := r.byPrefix[prefix]; !ok {
		return nil, errors.Newf("no catalog serves the default search prefix: %s", prefix)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve resolves a reference. It never starts playback and never panics;
// every failure is reported as a Failed outcome.
func (r *Resolver) Resolve(ctx context.Context, ref string) (out catalog.Outcome) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return catalog.Failed(ErrEmptyReference)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	catalogName := "none"
	defer func() {
		if p := recover(); p != nil {
			zlog.Error().Msgf("resolver: panic while resolving: ref=%s panic=%v", ref, p)
			out = catalog.Failed(errors.Newf("resolver panic: %v", p))
		}
		if r.observer != nil {
			r.observer.ObserveResolve(catalogName, out.Kind.String(), time.Since(start))
		}
	}()

	c, load := r.route(ref)
	if c == nil {
		out = catalog.Failed(load(ctx).Err)
		return out
	}
	catalogName = c.Name()
	out = load(ctx)

	zlog.Debug().Msgf("resolver: resolved: ref=%s catalog=%s kind=%s", ref, catalogName, out.Kind)
	out = r.admit(ctx, ref, out)
	return out
}

// route picks the catalog for a reference and returns the call to make.
func (r *Resolver) route(ref string) (catalog.Catalog, func(context.Context) catalog.Outcome) {
	if m := searchRefPattern.FindStringSubmatch(ref); m != nil {
		prefix, query := m[1], strings.TrimSpace(m[2])
		c, ok := r.byPrefix[prefix]
		if !ok {
			return nil, failWith(errors.Wrapf(ErrUnknownPrefix, "prefix=%s", prefix))
		}
		return c, func(ctx context.Context) catalog.Outcome {
			return r.search(ctx, c, prefix, query)
		}
	}

	for _, c := range r.catalogs {
		if c.Match(ref) {
			c := c
			return c, func(ctx context.Context) catalog.Outcome {
				return c.Load(ctx, ref)
			}
		}
	}

	if isURL(ref) {
		return nil, failWith(errors.Wrapf(catalog.ErrUnsupported, "ref=%s", ref))
	}

	// Bare phrase
	c := r.byPrefix[r.defaultPrefix]
	return c, func(ctx context.Context) catalog.Outcome {
		return r.search(ctx, c, r.defaultPrefix, ref)
	}
}

func failWith(err error) func(context.Context) catalog.Outcome {
	return func(context.Context) catalog.Outcome { return catalog.Failed(err) }
}

// search runs a catalog search through the cache.
func (r *Resolver) search(ctx context.Context, c catalog.Catalog, prefix, query string) catalog.Outcome {
	if query == "" {
		return catalog.NoMatch()
	}

	key := cacheKey(prefix, query)
	if r.cache != nil {
		var cached []CachedItem
		if ok, _ := r.cache.Get(ctx, key, &cached); ok {
			items := make([]*track.Item, 0, len(cached))
			for _, ci := range cached {
				items = append(items, ci.item(c))
			}
			zlog.Debug().Msgf("resolver: search cache hit: key=%s items=%d", key, len(items))
			return catalog.SearchResult(query, items)
		}
	}

	out := c.Search(ctx, prefix, query)
	if r.cache != nil && out.Kind == catalog.KindPlaylist {
		cached := make([]CachedItem, 0, len(out.Playlist.Items))
		for _, it := range out.Playlist.Items {
			cached = append(cached, newCachedItem(it))
		}
		if err := r.cache.Set(ctx, key, cached); err != nil {
			zlog.Debug().Msgf("resolver: failed to cache search: key=%s error=%v", key, err)
		}
	}
	return out
}

// admit runs the admission chain on successful outcomes.
func (r *Resolver) admit(ctx context.Context, ref string, out catalog.Outcome) catalog.Outcome {
	if out.Kind != catalog.KindSingle && out.Kind != catalog.KindPlaylist {
		return out
	}
	result := r.chain.Execute(ctx, filter.LoadRequest{Ref: ref, Outcome: out})
	if result.Accepted {
		return out
	}
	cause := ErrRejected
	if result.Code == "playlist_too_large" {
		cause = catalog.ErrPlaylistTooLarge
	}
	return catalog.Failed(&RejectedError{Code: result.Code, cause: errors.Wrap(cause, result.Reason)})
}

// RejectedError is the cause of a load refused by the admission chain.
type RejectedError struct {
	Code  string // Filter return code
	cause error
}

func (e *RejectedError) Error() string {
	if e.cause == nil {
		return "rejected: " + e.Code
	}
	return e.cause.Error()
}

func (e *RejectedError) Unwrap() error { return e.cause }

// RejectionCode returns the filter code of a rejected load, or "".
func RejectionCode(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Code
	}
	return ""
}

// Hydrate rebuilds an item from a wire descriptor by matching its URI
// against the catalogs. No network calls are made.
func (r *Resolver) Hydrate(d track.Descriptor) (*track.Item, error) {
	for _, c := range r.catalogs {
		if c.Match(d.URI) {
			return &track.Item{
				Title:    d.Title,
				Author:   d.Author,
				URI:      d.URI,
				Duration: time.Duration(d.DurationMs) * time.Millisecond,
				IsLive:   d.IsLive,
				Catalog:  c.Name(),
				Source:   c,
			}, nil
		}
	}
	return nil, errors.Wrapf(catalog.ErrUnsupported, "uri=%s", d.URI)
}

// Catalogs returns the configured catalogs in match order.
func (r *Resolver) Catalogs() []catalog.Catalog {
	return r.catalogs
}

func isURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func cacheKey(prefix, query string) string {
	return fmt.Sprintf("search:%s:%s", prefix, strings.ToLower(query))
}

// CachedItem is the cache representation of a search hit.
type CachedItem struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	URI        string `json:"uri"`
	Identifier string `json:"identifier"`
	DurationMs int64  `json:"durationMs"`
	IsLive     bool   `json:"isLive"`
	ISRC       string `json:"isrc,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

func newCachedItem(it *track.Item) CachedItem {
	return CachedItem{
		Title:      it.Title,
		Author:     it.Author,
		URI:        it.URI,
		Identifier: it.Identifier,
		DurationMs: it.Duration.Milliseconds(),
		IsLive:     it.IsLive,
		ISRC:       it.ISRC,
		ArtworkURL: it.ArtworkURL,
	}
}

func (ci CachedItem) item(c catalog.Catalog) *track.Item {
	return &track.Item{
		Title:      ci.Title,
		Author:     ci.Author,
		URI:        ci.URI,
		Identifier: ci.Identifier,
		Duration:   time.Duration(ci.DurationMs) * time.Millisecond,
		IsLive:     ci.IsLive,
		ISRC:       ci.ISRC,
		ArtworkURL: ci.ArtworkURL,
		Catalog:    c.Name(),
		Source:     c,
	}
}
