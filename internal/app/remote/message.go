// Package remote implements the synchronization gateway between playback
// sessions and a remote controller.
package remote

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/domain/track"
)

var (
	ErrMalformed       = errors.New("malformed message")
	ErrUnknownType     = errors.New("unknown message type")
	ErrMissingField    = errors.New("missing field")
	ErrInvalidSkip     = errors.New("skip count must be at least 1")
	ErrInvalidLoopMode = playback.ErrInvalidLoopMode
)

// MessageType is the wire discriminator.
type MessageType string

const (
	TypeInitialize  MessageType = "initialize"
	TypePlayTrack   MessageType = "playTrack"
	TypeResume      MessageType = "resume"
	TypePause       MessageType = "pause"
	TypeVolume      MessageType = "volume"
	TypeShuffle     MessageType = "shuffle"
	TypeSkip        MessageType = "skip"
	TypeSeek        MessageType = "seek"
	TypeQueue       MessageType = "queue"
	TypeLoop        MessageType = "loop"
	TypeSynchronize MessageType = "synchronize"
)

// Message is a decoded and validated inbound message. Only the fields of its
// type are set.
type Message struct {
	Type    MessageType
	GuildID string

	Ref      string // playTrack
	Volume   int    // volume
	Count    int    // skip
	Position int64  // seek, milliseconds
	Loop     playback.LoopMode
	Sync     *Synchronize
}

// Synchronize carries a partial state update. Nil fields are left unchanged.
type Synchronize struct {
	DoAll        *bool              `json:"doAll,omitempty"`
	PlayingTrack *track.Descriptor  `json:"playingTrack,omitempty"`
	Paused       *bool              `json:"paused,omitempty"`
	Volume       *int               `json:"volume,omitempty"`
	Queue        []track.Descriptor `json:"queue,omitempty"`
	LoopMode     *int               `json:"loopMode,omitempty"`
	Position     *float64           `json:"position,omitempty"` // seconds
	Shuffle      *bool              `json:"shuffle,omitempty"`
}

type wireMessage struct {
	Type     MessageType `json:"type"`
	GuildID  string      `json:"guildId"`
	Data     *string     `json:"data"`
	Volume   *int        `json:"volume"`
	Track    *int        `json:"track"`
	Position *int64      `json:"position"`
	LoopMode *int        `json:"loopMode"`
}

// Decode parses and validates one wire message. A message that fails
// validation is rejected as a whole.
func Decode(data []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if err := session.ValidateTenant(w.GuildID); err != nil {
		return nil, err
	}

	m := &Message{Type: w.Type, GuildID: w.GuildID}
	switch w.Type {
	case TypeInitialize, TypeResume, TypePause, TypeShuffle, TypeQueue:
	case TypePlayTrack:
		if w.Data == nil || *w.Data == "" {
			return nil, errors.Wrap(ErrMissingField, "data")
		}
		m.Ref = *w.Data
	case TypeVolume:
		if w.Volume == nil {
			return nil, errors.Wrap(ErrMissingField, "volume")
		}
		m.Volume = *w.Volume
	case TypeSkip:
		m.Count = 1
		if w.Track != nil {
			if *w.Track < 1 {
				return nil, errors.Wrapf(ErrInvalidSkip, "track=%d", *w.Track)
			}
			m.Count = *w.Track
		}
	case TypeSeek:
		if w.Position == nil {
			return nil, errors.Wrap(ErrMissingField, "position")
		}
		m.Position = *w.Position
	case TypeLoop:
		if w.LoopMode == nil {
			return nil, errors.Wrap(ErrMissingField, "loopMode")
		}
		mode, err := playback.ParseLoopMode(*w.LoopMode)
		if err != nil {
			return nil, err
		}
		m.Loop = mode
	case TypeSynchronize:
		var sync Synchronize
		if err := json.Unmarshal(data, &sync); err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		if sync.LoopMode != nil {
			mode, err := playback.ParseLoopMode(*sync.LoopMode)
			if err != nil {
				return nil, err
			}
			m.Loop = mode
		}
		m.Sync = &sync
	default:
		return nil, errors.Wrapf(ErrUnknownType, "type=%q", w.Type)
	}
	return m, nil
}

// InitializeReply identifies the bot to the remote controller.
type InitializeReply struct {
	Type    MessageType `json:"type"`
	Token   string      `json:"token"`
	BotID   string      `json:"botId"`
	GuildID string      `json:"guildId"`
}

// QueueReply lists the queued items in order.
type QueueReply struct {
	Type    MessageType        `json:"type"`
	GuildID string             `json:"guildId"`
	Queue   []track.Descriptor `json:"queue"`
}

// StateReply is the full session state sent on a full resync.
type StateReply struct {
	Type         MessageType        `json:"type"`
	GuildID      string             `json:"guildId"`
	PlayingTrack *track.Descriptor  `json:"playingTrack"`
	Paused       bool               `json:"paused"`
	Volume       int                `json:"volume"`
	Queue        []track.Descriptor `json:"queue"`
	LoopMode     int                `json:"loopMode"`
	Position     float64            `json:"position"` // seconds
}
