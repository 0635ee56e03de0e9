// Package track provides the playable item domain entity.
package track

import (
	"context"
	"time"
)

// Source is the catalog adapter that produced an item.
// It turns the item's metadata into something the player can stream.
type Source interface {
	// Name returns the catalog tag (e.g. "youtube", "spotify").
	Name() string
	// ResolveAudio returns the item that actually carries audio for it.
	// Catalogs that stream directly return a copy with StreamURL filled in;
	// metadata-only catalogs delegate to another catalog.
	ResolveAudio(ctx context.Context, it *Item) (*Item, error)
}

// Item represents a resolved, playable audio item.
type Item struct {
	Title      string        // Track title
	Author     string        // Artist or uploader
	Duration   time.Duration // Zero for live streams
	URI        string        // Canonical catalog URI
	Identifier string        // Catalog-specific id
	IsLive     bool          // Live stream flag
	ISRC       string        // International Standard Recording Code (optional)
	ArtworkURL string        // Artwork URL (optional)
	StreamURL  string        // Direct media URL, set by ResolveAudio
	Catalog    string        // Catalog tag
	Source     Source        // Adapter back-reference, nil for plain items

	requestedBy string
	position    time.Duration
}

// Descriptor is the serialized form of an item on the synchronization wire.
type Descriptor struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	URI        string `json:"uri"`
	DurationMs int64  `json:"durationMs"`
	IsLive     bool   `json:"isLive"`
}

// SetRequestedBy tags the item with the requester.
// The tag can be set only once; later calls are ignored and return false.
func (it *Item) SetRequestedBy(requester string) bool {
	if it.requestedBy != "" {
		return false
	}
	it.requestedBy = requester
	return true
}

// RequestedBy returns the requester tag.
func (it *Item) RequestedBy() string {
	return it.requestedBy
}

// Position returns the playback cursor.
func (it *Item) Position() time.Duration {
	return it.position
}

// SetPosition moves the playback cursor, clamped to [0, Duration].
func (it *Item) SetPosition(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	if it.Duration > 0 && pos > it.Duration {
		pos = it.Duration
	}
	it.position = pos
}

// Seekable reports whether the cursor may be moved.
func (it *Item) Seekable() bool {
	return !it.IsLive && it.Duration > 0
}

// Clone returns a shallow copy sharing metadata with a fresh cursor.
// The requester tag is copied, not reset.
func (it *Item) Clone() *Item {
	c := *it
	c.position = 0
	return &c
}

// Descriptor returns the wire descriptor for the item.
func (it *Item) Descriptor() Descriptor {
	return Descriptor{
		Title:      it.Title,
		Author:     it.Author,
		URI:        it.URI,
		DurationMs: it.Duration.Milliseconds(),
		IsLive:     it.IsLive,
	}
}

// Descriptors converts a list of items.
func Descriptors(items []*Item) []Descriptor {
	result := make([]Descriptor, 0, len(items))
	for _, it := range items {
		result = append(result, it.Descriptor())
	}
	return result
}
