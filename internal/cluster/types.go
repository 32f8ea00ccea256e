package cluster

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

// Defaults applied by NodeDescriptor.WithDefaults.
const (
	DefaultPort             = 2333
	DefaultResumeTimeout    = 120
	DefaultRetryDelay       = 30 * time.Second
	DefaultRetryAmount      = 5
	DefaultMaxQueuedPackets = 1000
)

// NodeDescriptor identifies and configures one audio node.
// It is treated as immutable once WithDefaults has been applied.
type NodeDescriptor struct {
	// ID is the registry key. A generated token is used when empty.
	ID string `yaml:"id" json:"id"`

	// Host and Port locate both the WebSocket and the REST endpoints.
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Password is the shared secret sent in the Authorization header.
	Password string `yaml:"password" json:"-"`

	// Secure selects wss/https instead of ws/http.
	Secure bool `yaml:"secure" json:"secure"`

	// ResumeKey, when set, is sent as a Resume-Key header and configured on
	// the node with ResumeTimeout (seconds) after every successful open.
	ResumeKey     string `yaml:"resume_key" json:"-"`
	ResumeTimeout int    `yaml:"resume_timeout" json:"resume_timeout"`

	// RetryDelay is the fixed delay before a reconnect attempt.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`

	// RetryAmount bounds consecutive failed reconnect attempts. Zero means
	// DefaultRetryAmount and negative means unlimited. Set NoReconnect to
	// never retry.
	RetryAmount int  `yaml:"retry_amount" json:"retry_amount"`
	NoReconnect bool `yaml:"no_reconnect" json:"no_reconnect"`

	// MaxQueuedPackets bounds the outbound buffer used while disconnected.
	MaxQueuedPackets int `yaml:"max_queued_packets" json:"max_queued_packets"`

	// RequestsPerSecond limits REST calls against this node. Zero is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// WithDefaults returns a copy of d with every unset field filled in.
func (d NodeDescriptor) WithDefaults() NodeDescriptor {
	if d.ID == "" {
		d.ID = "node-" + uuid.NewString()[:8]
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.ResumeTimeout == 0 {
		d.ResumeTimeout = DefaultResumeTimeout
	}
	if d.RetryDelay == 0 {
		d.RetryDelay = DefaultRetryDelay
	}
	switch {
	case d.NoReconnect:
		d.RetryAmount = 0
	case d.RetryAmount == 0:
		d.RetryAmount = DefaultRetryAmount
	}
	if d.MaxQueuedPackets <= 0 {
		d.MaxQueuedPackets = DefaultMaxQueuedPackets
	}
	return d
}

// Key returns the registry key for the node: its ID, or the host when no ID was given.
func (d NodeDescriptor) Key() string {
	if d.ID != "" {
		return d.ID
	}
	return d.Host
}

// SocketURL returns the persistent control connection URL.
func (d NodeDescriptor) SocketURL() string {
	scheme := "ws"
	if d.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, d.Host, d.Port)
}

// BaseURL returns the REST base URL without a trailing slash.
func (d NodeDescriptor) BaseURL() string {
	scheme := "http"
	if d.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, d.Host, d.Port)
}

// NodeStats is the last snapshot pushed by a node in a "stats" packet.
type NodeStats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         MemoryStats `json:"memory"`
	CPU            *CPUStats   `json:"cpu,omitempty"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`
}

type MemoryStats struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type CPUStats struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// Load returns the normalised CPU load used for node selection.
// Nodes that have not reported CPU stats yet count as idle.
func (s NodeStats) Load() float64 {
	if s.CPU == nil || s.CPU.Cores <= 0 {
		return 0
	}
	return s.CPU.SystemLoad / float64(s.CPU.Cores) * 100
}

// VoiceServerUpdate is the platform's voice server assignment for a guild.
// Only GuildID is interpreted; the full payload is forwarded to the node.
type VoiceServerUpdate struct {
	GuildID  snowflake.ID `json:"guild_id"`
	Token    string       `json:"token"`
	Endpoint *string      `json:"endpoint"`
}

// VoiceStateUpdate is the platform's voice state for one user in a guild.
type VoiceStateUpdate struct {
	UserID    snowflake.ID  `json:"user_id"`
	GuildID   snowflake.ID  `json:"guild_id"`
	ChannelID *snowflake.ID `json:"channel_id"`
	SessionID string        `json:"session_id"`
}

// GatewayOpVoiceStateUpdate is the platform gateway opcode for joining or leaving voice.
const GatewayOpVoiceStateUpdate = 4

// GatewayPayload is an outbound gateway command handed to the caller's send callback.
type GatewayPayload struct {
	Op int               `json:"op"`
	D  VoiceStateCommand `json:"d"`
}

// VoiceStateCommand asks the platform to join (ChannelID set) or leave (nil) voice.
type VoiceStateCommand struct {
	GuildID   snowflake.ID  `json:"guild_id"`
	ChannelID *snowflake.ID `json:"channel_id"`
	SelfMute  bool          `json:"self_mute"`
	SelfDeaf  bool          `json:"self_deaf"`
}

// JoinPayload builds the op 4 payload for joining channelID, or leaving when channelID is 0.
func JoinPayload(guildID, channelID snowflake.ID, selfMute, selfDeaf bool) GatewayPayload {
	cmd := VoiceStateCommand{GuildID: guildID, SelfMute: selfMute, SelfDeaf: selfDeaf}
	if channelID != 0 {
		cmd.ChannelID = &channelID
	}
	return GatewayPayload{Op: GatewayOpVoiceStateUpdate, D: cmd}
}

// VoiceSession is the reconciled voice connection info forwarded to a node.
type VoiceSession struct {
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}
