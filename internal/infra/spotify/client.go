// Package spotify provides the Spotify catalog.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/osa030/guildplay/internal/domain/track"
)

const pageSize = 50

// Client is a Spotify Web API client with retries and rate limiting.
type Client struct {
	client     *spotify.Client
	market     string
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID          string
	ClientSecret      string
	Market            string
	RequestsPerSecond float64
}

// New creates a new Spotify client authenticated with client credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	if _, err := creds.Token(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to obtain spotify token")
	}

	return newClient(spotify.New(creds.Client(ctx)), cfg), nil
}

func newClient(api *spotify.Client, cfg Config) *Client {
	market := cfg.Market
	if market == "" {
		market = "US"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		client:     api,
		market:     market,
		limiter:    rate.NewLimiter(rate.Limit(rps), 5),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GetTrack retrieves a track by id.
func (c *Client) GetTrack(ctx context.Context, id string) (*spotify.FullTrack, error) {
	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}
	return result, nil
}

// GetAlbumTracks retrieves an album and up to max of its tracks.
func (c *Client) GetAlbumTracks(ctx context.Context, id string, max int) (*spotify.FullAlbum, []spotify.SimpleTrack, error) {
	var album *spotify.FullAlbum
	err := c.retry(ctx, func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get album")
	}

	var tracks []spotify.SimpleTrack
	offset := 0
	for len(tracks) < max {
		var page *spotify.SimpleTrackPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetAlbumTracks(ctx, spotify.ID(id),
				spotify.Limit(pageSize),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to get album tracks")
		}

		tracks = append(tracks, page.Tracks...)
		if page.Next == "" || len(page.Tracks) == 0 {
			break
		}
		offset += len(page.Tracks)
	}
	if len(tracks) > max {
		tracks = tracks[:max]
	}
	return album, tracks, nil
}

// GetPlaylistTracks retrieves a playlist name and up to max of its tracks.
// Local files and episodes are skipped.
func (c *Client) GetPlaylistTracks(ctx context.Context, id string, max int) (string, []spotify.FullTrack, error) {
	var playlist *spotify.FullPlaylist
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(id), spotify.Fields("name"), spotify.Market(c.market))
		if err != nil {
			return err
		}
		playlist = p
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to get playlist")
	}

	var tracks []spotify.FullTrack
	offset := 0
	for len(tracks) < max {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(pageSize),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return "", nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			if item.IsLocal {
				continue
			}
			// Only process tracks (exclude episodes)
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, *item.Track.Track)
			}
		}

		if page.Next == "" || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}
	if len(tracks) > max {
		tracks = tracks[:max]
	}
	return playlist.Name, tracks, nil
}

// GetArtistTopTracks retrieves an artist name and top tracks.
func (c *Client) GetArtistTopTracks(ctx context.Context, id string) (string, []spotify.FullTrack, error) {
	var artist *spotify.FullArtist
	err := c.retry(ctx, func() error {
		a, err := c.client.GetArtist(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		artist = a
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to get artist")
	}

	var tracks []spotify.FullTrack
	err = c.retry(ctx, func() error {
		t, err := c.client.GetArtistsTopTracks(ctx, spotify.ID(id), c.market)
		if err != nil {
			return err
		}
		tracks = t
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to get artist top tracks")
	}
	return artist.Name, tracks, nil
}

// Search searches for tracks on Spotify.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]spotify.FullTrack, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > pageSize {
		limit = pageSize
	}

	var result *spotify.SearchResult
	err := c.retry(ctx, func() error {
		r, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search")
	}
	if result.Tracks == nil {
		return nil, nil
	}
	return result.Tracks.Tracks, nil
}

// convertTrack converts a full track into an item.
func convertTrack(t *spotify.FullTrack) *track.Item {
	var artwork string
	if len(t.Album.Images) > 0 {
		artwork = t.Album.Images[0].URL
	}
	it := convertSimpleTrack(&t.SimpleTrack, artwork)
	it.ISRC = t.ExternalIDs["isrc"]
	return it
}

// convertSimpleTrack converts an album track; album tracks carry no ISRC,
// the artwork comes from the album.
func convertSimpleTrack(t *spotify.SimpleTrack, artwork string) *track.Item {
	author := "unknown"
	if len(t.Artists) > 0 {
		author = t.Artists[0].Name
	}
	return &track.Item{
		Title:      t.Name,
		Author:     author,
		Duration:   time.Duration(t.Duration) * time.Millisecond,
		URI:        TrackURL(string(t.ID)),
		Identifier: string(t.ID),
		ArtworkURL: artwork,
		Catalog:    Name,
	}
}

// TrackURL returns the Spotify URL for a track.
func TrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// retry retries an operation with linear backoff. Every attempt waits on
// the rate limiter first.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limiter")
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}
