package connect

import (
	"time"

	"github.com/osa030/guildplay/internal/domain/track"
)

// ServiceName is the fully-qualified name of the control service.
const ServiceName = "guildplay.control.v1.ControlService"

// Procedure paths.
const (
	ListSessionsProcedure = "/" + ServiceName + "/ListSessions"
	NowPlayingProcedure   = "/" + ServiceName + "/NowPlaying"
	QueueProcedure        = "/" + ServiceName + "/Queue"
	PlayProcedure         = "/" + ServiceName + "/Play"
	PauseProcedure        = "/" + ServiceName + "/Pause"
	ResumeProcedure       = "/" + ServiceName + "/Resume"
	SetVolumeProcedure    = "/" + ServiceName + "/SetVolume"
	SkipProcedure         = "/" + ServiceName + "/Skip"
	StopProcedure         = "/" + ServiceName + "/Stop"
	WatchProcedure        = "/" + ServiceName + "/Watch"
)

type ListSessionsRequest struct{}

type SessionInfo struct {
	GuildID    string    `json:"guildId"`
	InstanceID string    `json:"instanceId"`
	CreatedAt  time.Time `json:"createdAt"`
	State      string    `json:"state"`
	QueueSize  int       `json:"queueSize"`
}

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// GuildRequest addresses one session.
type GuildRequest struct {
	GuildID string `json:"guildId"`
}

type NowPlayingResponse struct {
	GuildID     string            `json:"guildId"`
	State       string            `json:"state"`
	Track       *track.Descriptor `json:"track,omitempty"`
	RequestedBy string            `json:"requestedBy,omitempty"`
	PositionMs  int64             `json:"positionMs"`
	Paused      bool              `json:"paused"`
	Volume      int               `json:"volume"`
	Loop        string            `json:"loop"`
}

type QueueResponse struct {
	GuildID string             `json:"guildId"`
	Items   []track.Descriptor `json:"items"`
}

type PlayRequest struct {
	GuildID   string `json:"guildId"`
	Query     string `json:"query"`
	Requester string `json:"requester"`
}

type PlayResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Title   string `json:"title,omitempty"`
	URI     string `json:"uri,omitempty"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message"`
}

type SetVolumeRequest struct {
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

type SetVolumeResponse struct {
	Volume int `json:"volume"`
}

type SkipRequest struct {
	GuildID string `json:"guildId"`
	// Count skips that many items; zero means one.
	Count int `json:"count"`
}

// ActionResponse reports the result of a session command.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WatchRequest subscribes to notifications. An empty GuildID watches every
// session.
type WatchRequest struct {
	GuildID string `json:"guildId"`
}
