package cluster

import (
	"encoding/json"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
)

// Operation tags used on the node control connection.
const (
	OpPlay              = "play"
	OpStop              = "stop"
	OpPause             = "pause"
	OpSeek              = "seek"
	OpVolume            = "volume"
	OpVoiceUpdate       = "voiceUpdate"
	OpDestroy           = "destroy"
	OpConfigureResuming = "configureResuming"

	OpStats        = "stats"
	OpEvent        = "event"
	OpPlayerUpdate = "playerUpdate"
)

// PlayCommand starts Track on the guild's player.
type PlayCommand struct {
	Op        string       `json:"op"`
	GuildID   snowflake.ID `json:"guildId"`
	Track     string       `json:"track"`
	StartTime int64        `json:"startTime"`
	Volume    int          `json:"volume"`
	NoReplace bool         `json:"noReplace"`
	Pause     bool         `json:"pause"`
}

// GuildCommand carries commands that only need a guild id (stop, destroy).
type GuildCommand struct {
	Op      string       `json:"op"`
	GuildID snowflake.ID `json:"guildId"`
}

type PauseCommand struct {
	Op      string       `json:"op"`
	GuildID snowflake.ID `json:"guildId"`
	Pause   bool         `json:"pause"`
}

type SeekCommand struct {
	Op       string       `json:"op"`
	GuildID  snowflake.ID `json:"guildId"`
	Position int64        `json:"position"`
}

type VolumeCommand struct {
	Op      string       `json:"op"`
	GuildID snowflake.ID `json:"guildId"`
	Volume  int          `json:"volume"`
}

// VoiceUpdateCommand hands the reconciled voice session to the node.
type VoiceUpdateCommand struct {
	Op        string          `json:"op"`
	GuildID   snowflake.ID    `json:"guildId"`
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

// ConfigureResumingCommand is sent right after the control connection opens.
type ConfigureResumingCommand struct {
	Op      string `json:"op"`
	Key     string `json:"key"`
	Timeout int    `json:"timeout"`
}

// Packet is one decoded inbound message from a node.
// Raw keeps the complete message for player dispatch and diagnostics.
type Packet struct {
	Op      string          `json:"op"`
	GuildID snowflake.ID    `json:"guildId"`
	Raw     json.RawMessage `json:"-"`
}

// DecodePacket parses a node message. The guild id is optional.
func DecodePacket(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("decode packet: %w", err)
	}
	p.Raw = append(json.RawMessage(nil), data...)
	return p, nil
}

// PlayerState mirrors the node-reported state of a guild player.
type PlayerState struct {
	Volume    int    `json:"volume"`
	Equalizer []Band `json:"equalizer"`
	Position  int64  `json:"position"`
	Time      int64  `json:"time"`
	Connected bool   `json:"connected"`
}

// Band is one equalizer band gain.
type Band struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

// playerStatePatch records which state fields a playerUpdate actually carried.
type playerStatePatch struct {
	Volume    *int    `json:"volume"`
	Equalizer *[]Band `json:"equalizer"`
	Position  *int64  `json:"position"`
	Time      *int64  `json:"time"`
	Connected *bool   `json:"connected"`
}

// MergePlayerUpdate applies the fields present in a playerUpdate packet to s.
// Fields the packet omits keep their previous values.
func (s PlayerState) MergePlayerUpdate(raw json.RawMessage) (PlayerState, error) {
	var pkt struct {
		State playerStatePatch `json:"state"`
	}
	if err := json.Unmarshal(raw, &pkt); err != nil {
		return s, fmt.Errorf("decode playerUpdate: %w", err)
	}
	p := pkt.State
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	if p.Equalizer != nil {
		s.Equalizer = append([]Band(nil), (*p.Equalizer)...)
	}
	if p.Position != nil {
		s.Position = *p.Position
	}
	if p.Time != nil {
		s.Time = *p.Time
	}
	if p.Connected != nil {
		s.Connected = *p.Connected
	}
	return s, nil
}
