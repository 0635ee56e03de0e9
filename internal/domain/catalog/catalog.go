// Package catalog defines the catalog adapter contract and load outcomes.
package catalog

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/domain/track"
)

var (
	ErrNoMatch          = errors.New("no matches")
	ErrTrackNotFound    = errors.New("track not found")
	ErrPlaylistTooLarge = errors.New("playlist too large")
	ErrUnsupported      = errors.New("unsupported reference")
)

// Catalog resolves references within one external audio catalog.
type Catalog interface {
	track.Source
	// SearchPrefixes returns the "<catalog>search:" prefixes this catalog owns.
	SearchPrefixes() []string
	// Match reports whether the URL belongs to this catalog.
	Match(url string) bool
	// Load resolves a catalog URL.
	Load(ctx context.Context, url string) Outcome
	// Search runs a query for the given prefix.
	Search(ctx context.Context, prefix, query string) Outcome
}

// Kind is the outcome variant.
type Kind int

const (
	KindNoMatch Kind = iota
	KindSingle
	KindPlaylist
	KindFailed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNoMatch:
		return "no_match"
	case KindSingle:
		return "single"
	case KindPlaylist:
		return "playlist"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Playlist is a bounded list of items produced by one reference.
type Playlist struct {
	Name           string
	URI            string
	Items          []*track.Item
	IsSearchResult bool
}

// Outcome is the single result value of a resolution.
type Outcome struct {
	Kind     Kind
	Item     *track.Item
	Playlist *Playlist
	Err      error
}

// Single returns a single-item outcome.
func Single(it *track.Item) Outcome {
	return Outcome{Kind: KindSingle, Item: it}
}

// PlaylistOf returns a playlist outcome.
func PlaylistOf(name, uri string, items []*track.Item) Outcome {
	return Outcome{Kind: KindPlaylist, Playlist: &Playlist{Name: name, URI: uri, Items: items}}
}

// SearchResult returns a playlist outcome flagged as a search result.
// An empty result set is reported as no match.
func SearchResult(query string, items []*track.Item) Outcome {
	if len(items) == 0 {
		return NoMatch()
	}
	return Outcome{Kind: KindPlaylist, Playlist: &Playlist{
		Name:           "Search results for: " + query,
		Items:          items,
		IsSearchResult: true,
	}}
}

// NoMatch returns a no-match outcome.
func NoMatch() Outcome {
	return Outcome{Kind: KindNoMatch}
}

// Failed returns a failed outcome.
func Failed(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err}
}

// Items returns every item carried by the outcome.
func (o Outcome) Items() []*track.Item {
	switch o.Kind {
	case KindSingle:
		return []*track.Item{o.Item}
	case KindPlaylist:
		return o.Playlist.Items
	default:
		return nil
	}
}

// First returns the selected item: the single item, or element 0 of a playlist.
func (o Outcome) First() (*track.Item, bool) {
	items := o.Items()
	if len(items) == 0 {
		return nil, false
	}
	return items[0], true
}
