package session

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/resolver"
	"github.com/osa030/guildplay/internal/domain/catalog"
)

// StatusKind is the outcome of a load as reported to the caller.
type StatusKind string

const (
	StatusTrackQueued    StatusKind = "track_queued"
	StatusPlaylistQueued StatusKind = "playlist_queued"
	StatusNoMatches      StatusKind = "no_matches"
	StatusLoadFailed     StatusKind = "load_failed"
)

// Status is the outbound status of one load request.
type Status struct {
	Kind   StatusKind
	Title  string // TrackQueued
	URI    string
	Name   string // PlaylistQueued
	Count  int    // PlaylistQueued
	Reason string // LoadFailed
	// Code selects the configured message template for the reply layer.
	Code string
}

// failedStatus classifies a load failure.
func failedStatus(ref string, err error) Status {
	code := resolver.RejectionCode(err)
	if code == "" {
		code = string(StatusLoadFailed)
		if errors.Is(err, catalog.ErrPlaylistTooLarge) {
			code = "playlist_too_large"
		}
	}
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Status{Kind: StatusLoadFailed, URI: ref, Reason: reason, Code: code}
}

func (s Status) notification(tenantID string) *notification.Notification {
	n := &notification.Notification{
		TenantID: tenantID,
		Title:    s.Title,
		URI:      s.URI,
		Name:     s.Name,
		Count:    s.Count,
		Reason:   s.Reason,
	}
	switch s.Kind {
	case StatusTrackQueued:
		n.Kind = notification.KindTrackQueued
	case StatusPlaylistQueued:
		n.Kind = notification.KindPlaylistQueued
	case StatusNoMatches:
		n.Kind = notification.KindNoMatches
	default:
		n.Kind = notification.KindLoadFailed
	}
	return n
}
