// Package ytdlp wraps the yt-dlp binary for metadata extraction.
package ytdlp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Print templates. Fields are tab separated; yt-dlp prints "NA" for missing values.
const (
	entryTemplate    = "%(webpage_url,url)s\t%(title)s\t%(uploader,channel)s\t%(duration)s\t%(id)s\t%(is_live)s"
	playlistTemplate = "%(playlist_title)s\t" + entryTemplate
	probeTemplate    = "%(url)s\t" + entryTemplate
)

var ErrNoOutput = errors.New("yt-dlp returned no parsable output")

// Entry is one extracted media entry.
type Entry struct {
	URL       string
	Title     string
	Uploader  string
	Duration  time.Duration
	ID        string
	IsLive    bool
	StreamURL string // Only set by Probe
}

// runFunc executes a prepared command and returns its stdout.
type runFunc func(ctx context.Context, cmd *ytdlp.Command, args ...string) (string, error)

// Config represents extractor configuration.
type Config struct {
	Timeout time.Duration
	// TokenSource, when set, adds an Authorization header to every request.
	TokenSource oauth2.TokenSource
}

// Extractor runs yt-dlp.
type Extractor struct {
	timeout     time.Duration
	tokenSource oauth2.TokenSource
	run         runFunc
}

// New creates an extractor.
func New(cfg Config) *Extractor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{
		timeout:     timeout,
		tokenSource: cfg.TokenSource,
		run:         runCommand,
	}
}

func runCommand(ctx context.Context, cmd *ytdlp.Command, args ...string) (string, error) {
	res, err := cmd.Run(ctx, args...)
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return "", errors.Wrapf(err, "yt-dlp: %s", strings.TrimSpace(res.Stderr))
		}
		return "", errors.Wrap(err, "yt-dlp")
	}
	return res.Stdout, nil
}

// Search runs a "<prefix><n>:<query>" search and returns up to n entries.
func (e *Extractor) Search(ctx context.Context, prefix, query string, n int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := ytdlp.New().
		FlatPlaylist().
		Print(entryTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", n)).
		NoWarnings().
		IgnoreConfig()

	out, err := e.run(ctx, cmd, e.withAuth(fmt.Sprintf("%s%d:%s", prefix, n, query))...)
	if err != nil {
		return nil, errors.Wrapf(err, "search failed: prefix=%s", prefix)
	}

	entries := make([]Entry, 0, n)
	for _, fields := range splitLines(out) {
		if ent, ok := parseEntry(fields); ok {
			entries = append(entries, ent)
		}
	}
	return entries, nil
}

// Playlist extracts up to max entries of a playlist URL along with its title.
// Callers that enforce a size cap pass cap+1 so oversize playlists stay detectable.
func (e *Extractor) Playlist(ctx context.Context, url string, max int) (string, []Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := ytdlp.New().
		FlatPlaylist().
		Print(playlistTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", max)).
		NoWarnings().
		IgnoreConfig()

	out, err := e.run(ctx, cmd, e.withAuth(url)...)
	if err != nil {
		return "", nil, errors.Wrapf(err, "playlist extraction failed: url=%s", url)
	}

	var title string
	entries := make([]Entry, 0)
	for _, fields := range splitLines(out) {
		if len(fields) < 2 {
			continue
		}
		if title == "" {
			title = na(fields[0])
		}
		if ent, ok := parseEntry(fields[1:]); ok {
			entries = append(entries, ent)
		}
	}
	return title, entries, nil
}

// Probe extracts a single entry including its direct audio stream URL.
func (e *Extractor) Probe(ctx context.Context, url string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := ytdlp.New().
		Print(probeTemplate).
		Format("bestaudio/best").
		NoPlaylist().
		NoWarnings().
		IgnoreConfig()

	out, err := e.run(ctx, cmd, e.withAuth("--skip-download", url)...)
	if err != nil {
		return nil, errors.Wrapf(err, "probe failed: url=%s", url)
	}

	for _, fields := range splitLines(out) {
		if len(fields) < 2 {
			continue
		}
		ent, ok := parseEntry(fields[1:])
		if !ok {
			continue
		}
		ent.StreamURL = na(fields[0])
		return &ent, nil
	}
	return nil, ErrNoOutput
}

// withAuth prepends the Authorization header when a token is available.
func (e *Extractor) withAuth(args ...string) []string {
	if e.tokenSource == nil {
		return args
	}
	tok, err := e.tokenSource.Token()
	if err != nil {
		zlog.Warn().Msgf("ytdlp: token unavailable, running anonymously: error=%v", err)
		return args
	}
	header := fmt.Sprintf("Authorization:%s %s", tok.Type(), tok.AccessToken)
	return append([]string{"--add-headers", header}, args...)
}

func splitLines(out string) [][]string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	result := make([][]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		result = append(result, strings.Split(l, "\t"))
	}
	return result
}

// parseEntry parses url, title, uploader, duration, id, is_live.
func parseEntry(fields []string) (Entry, bool) {
	if len(fields) < 6 {
		return Entry{}, false
	}
	ent := Entry{
		URL:      na(fields[0]),
		Title:    na(fields[1]),
		Uploader: na(fields[2]),
		ID:       na(fields[4]),
		IsLive:   strings.EqualFold(fields[5], "true"),
	}
	if ent.URL == "" {
		return Entry{}, false
	}
	if secs, err := strconv.ParseFloat(fields[3], 64); err == nil {
		ent.Duration = time.Duration(secs * float64(time.Second)).Round(time.Millisecond)
	}
	return ent, true
}

func na(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}
