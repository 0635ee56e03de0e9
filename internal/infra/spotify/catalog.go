package spotify

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
)

const (
	Name   = "spotify"
	Prefix = "spsearch"

	defaultMaxPlaylist = 300
	searchLimit        = 10

	fallbackSearchPrefix = "ytsearch:"
	isrcSearchPrefix     = "ytmsearch:"
)

var (
	urlPattern = regexp.MustCompile(`^(https?://)?(www\.)?open\.spotify\.com/(intl-[a-zA-Z-]+/)?(user/[a-zA-Z0-9-_]+/)?(track|album|playlist|artist)/([a-zA-Z0-9-_]+)`)
	uriPattern = regexp.MustCompile(`^spotify:(track|album|playlist|artist):([a-zA-Z0-9]+)$`)
)

// Delegate resolves references in other catalogs. It is how Spotify items,
// which carry no audio, find a playable counterpart.
type Delegate interface {
	Resolve(ctx context.Context, ref string) catalog.Outcome
}

// Catalog resolves Spotify URLs, URIs, and spsearch queries.
type Catalog struct {
	client      *Client
	maxPlaylist int

	mu       sync.RWMutex
	delegate Delegate
}

// NewCatalog creates the catalog. The delegate is set later with
// SetDelegate once the resolver exists.
func NewCatalog(client *Client, maxPlaylist int) *Catalog {
	if maxPlaylist <= 0 {
		maxPlaylist = defaultMaxPlaylist
	}
	return &Catalog{client: client, maxPlaylist: maxPlaylist}
}

// SetDelegate installs the resolver used for audio resolution.
func (c *Catalog) SetDelegate(d Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = d
}

func (c *Catalog) Name() string             { return Name }
func (c *Catalog) SearchPrefixes() []string { return []string{Prefix} }

// Match reports whether the reference is a Spotify URL or URI.
func (c *Catalog) Match(ref string) bool {
	_, _, ok := parseRef(ref)
	return ok
}

// Load resolves a track, album, playlist, or artist reference.
func (c *Catalog) Load(ctx context.Context, ref string) catalog.Outcome {
	kind, id, ok := parseRef(ref)
	if !ok {
		return catalog.NoMatch()
	}

	switch kind {
	case "track":
		t, err := c.client.GetTrack(ctx, id)
		if err != nil {
			return catalog.Failed(err)
		}
		return catalog.Single(c.bind(convertTrack(t)))

	case "album":
		album, tracks, err := c.client.GetAlbumTracks(ctx, id, c.maxPlaylist+1)
		if err != nil {
			return catalog.Failed(err)
		}
		var artwork string
		if len(album.Images) > 0 {
			artwork = album.Images[0].URL
		}
		items := make([]*track.Item, 0, len(tracks))
		for i := range tracks {
			items = append(items, c.bind(convertSimpleTrack(&tracks[i], artwork)))
		}
		return c.playlist(album.Name, ref, items)

	case "playlist":
		name, tracks, err := c.client.GetPlaylistTracks(ctx, id, c.maxPlaylist+1)
		if err != nil {
			return catalog.Failed(err)
		}
		return c.playlist(name, ref, c.convertAll(tracks))

	case "artist":
		name, tracks, err := c.client.GetArtistTopTracks(ctx, id)
		if err != nil {
			return catalog.Failed(err)
		}
		return c.playlist(name+"'s Top Tracks", ref, c.convertAll(tracks))
	}
	return catalog.NoMatch()
}

// Search runs a Spotify track search.
func (c *Catalog) Search(ctx context.Context, prefix, query string) catalog.Outcome {
	if prefix != Prefix {
		return catalog.Failed(errors.Wrapf(catalog.ErrUnsupported, "prefix=%s", prefix))
	}
	tracks, err := c.client.Search(ctx, query, searchLimit)
	if err != nil {
		return catalog.Failed(err)
	}
	return catalog.SearchResult(query, c.convertAll(tracks))
}

// ResolveAudio finds a playable counterpart for a Spotify item:
// a video search on "<title> <author>" first, then a music search on the
// ISRC. The returned item keeps the Spotify metadata.
func (c *Catalog) ResolveAudio(ctx context.Context, it *track.Item) (*track.Item, error) {
	c.mu.RLock()
	d := c.delegate
	c.mu.RUnlock()
	if d == nil {
		return nil, errors.New("spotify: no delegate resolver configured")
	}

	query := it.Title + " " + it.Author
	candidate := first(d.Resolve(ctx, fallbackSearchPrefix+query))
	if candidate == nil && it.ISRC != "" {
		zlog.Debug().Msgf("spotify: falling back to ISRC search: isrc=%s", it.ISRC)
		candidate = first(d.Resolve(ctx, isrcSearchPrefix+it.ISRC))
	}
	if candidate == nil {
		return nil, errors.Wrapf(catalog.ErrTrackNotFound, "query=%s", query)
	}

	playable := candidate
	if candidate.StreamURL == "" {
		if candidate.Source == nil {
			return nil, errors.Wrapf(catalog.ErrTrackNotFound, "query=%s", query)
		}
		resolved, err := candidate.Source.ResolveAudio(ctx, candidate)
		if err != nil {
			return nil, errors.Wrapf(err, "delegate failed: query=%s", query)
		}
		playable = resolved
	}

	out := it.Clone()
	out.StreamURL = playable.StreamURL
	zlog.Debug().Msgf("spotify: resolved audio: title=%s delegate=%s", it.Title, candidate.URI)
	return out, nil
}

func (c *Catalog) playlist(name, uri string, items []*track.Item) catalog.Outcome {
	if len(items) == 0 {
		return catalog.NoMatch()
	}
	return catalog.PlaylistOf(name, uri, items)
}

func (c *Catalog) bind(it *track.Item) *track.Item {
	it.Source = c
	return it
}

func (c *Catalog) convertAll(tracks []spotify.FullTrack) []*track.Item {
	items := make([]*track.Item, 0, len(tracks))
	for i := range tracks {
		items = append(items, c.bind(convertTrack(&tracks[i])))
	}
	return items
}

// first returns the selected item of a successful outcome, nil otherwise.
func first(out catalog.Outcome) *track.Item {
	it, ok := out.First()
	if !ok {
		return nil
	}
	return it
}

// parseRef extracts the kind and id of a Spotify URL or URI.
func parseRef(ref string) (kind, id string, ok bool) {
	ref = strings.TrimSpace(ref)
	if m := uriPattern.FindStringSubmatch(ref); m != nil {
		return m[1], m[2], true
	}
	if m := urlPattern.FindStringSubmatch(ref); m != nil {
		return m[5], m[6], true
	}
	return "", "", false
}
