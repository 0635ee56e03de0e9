// Package httpsource implements the catch-all catalog for direct media URLs
// and internet radio streams.
package httpsource

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/domain/catalog"
	"github.com/osa030/guildplay/internal/domain/track"
)

const Name = "http"

// Config represents HTTP catalog configuration.
type Config struct {
	Timeout time.Duration `mapstructure:"timeout" default:"10s"`
}

// Catalog probes plain http(s) URLs.
type Catalog struct {
	httpClient *http.Client
}

// New creates the catalog.
func New(cfg Config) *Catalog {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Catalog{httpClient: &http.Client{Timeout: timeout}}
}

func (c *Catalog) Name() string { return Name }

// SearchPrefixes returns nothing; the catalog has no search.
func (c *Catalog) SearchPrefixes() []string { return nil }

// Match accepts any http(s) URL with a host.
func (c *Catalog) Match(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// Search is not supported.
func (c *Catalog) Search(ctx context.Context, prefix, query string) catalog.Outcome {
	return catalog.Failed(errors.Wrapf(catalog.ErrUnsupported, "prefix=%s", prefix))
}

// Load probes the URL and returns a single item when it serves audio.
func (c *Catalog) Load(ctx context.Context, u string) catalog.Outcome {
	resp, err := c.probe(ctx, u)
	if err != nil {
		return catalog.Failed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return catalog.NoMatch()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return catalog.Failed(errors.Newf("http probe returned %d: url=%s", resp.StatusCode, u))
	}

	icyName := resp.Header.Get("icy-name")
	isRadio := icyName != "" || resp.Header.Get("icy-metaint") != ""
	if !isRadio && !isAudio(resp.Header.Get("Content-Type")) {
		return catalog.Failed(errors.Wrapf(catalog.ErrUnsupported, "not an audio resource: content-type=%s", resp.Header.Get("Content-Type")))
	}

	title := icyName
	if title == "" {
		title = titleFromURL(u)
	}
	author := resp.Header.Get("icy-description")
	if author == "" {
		author = "unknown"
	}

	zlog.Debug().Msgf("httpsource: probed: url=%s radio=%t", u, isRadio)
	return catalog.Single(&track.Item{
		Title:      title,
		Author:     author,
		URI:        u,
		Identifier: u,
		IsLive:     isRadio,
		StreamURL:  u,
		Catalog:    Name,
		Source:     c,
	})
}

// ResolveAudio streams the URI directly.
func (c *Catalog) ResolveAudio(ctx context.Context, it *track.Item) (*track.Item, error) {
	out := it.Clone()
	out.StreamURL = it.URI
	return out, nil
}

// probe issues a HEAD request, falling back to a ranged GET for servers
// that reject HEAD (most icecast/shoutcast servers do).
func (c *Catalog) probe(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Icy-MetaData", "1")

	resp, err := c.httpClient.Do(req)
	if err == nil && resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusNotImplemented {
		return resp, nil
	}
	if resp != nil {
		resp.Body.Close()
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Icy-MetaData", "1")
	req.Header.Set("Range", "bytes=0-0")

	resp, err = c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "http probe failed: url=%s", u)
	}
	return resp, nil
}

func isAudio(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mt, "audio/"):
		return true
	case mt == "application/ogg", mt == "video/mp4", mt == "video/webm", mt == "application/octet-stream":
		return true
	}
	return false
}

func titleFromURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" || base == "" {
		return parsed.Host
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}
