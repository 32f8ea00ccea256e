package player

import (
	"github.com/disgoorg/snowflake/v2"

	"github.com/dreamware/lavapool/internal/cluster"
)

// Status derives the state machine position from the queue and flags.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Player) statusLocked() Status {
	switch {
	case len(p.queue) == 0:
		return StatusIdle
	case p.paused:
		return StatusPaused
	case p.playing:
		return StatusPlaying
	default:
		return StatusQueued
	}
}

// Track returns the track most recently handed to the node, if any.
func (p *Player) Track() *cluster.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Playing reports whether a track is playing. Play sets it, even for a
// track started paused, and Pause flips it against Paused.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Paused reports whether the node was last told to pause.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Position is the advisory playback cursor in milliseconds. The node owns
// the real position; this follows seeks and playerUpdate packets.
func (p *Player) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Player) TrackRepeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trackRepeat
}

func (p *Player) QueueRepeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queueRepeat
}

func (p *Player) VoiceChannelID() snowflake.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceChannelID
}

func (p *Player) TextChannelID() snowflake.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textChannelID
}

// State returns the node-reported state mirror.
func (p *Player) State() cluster.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Equalizer = append([]cluster.Band(nil), p.state.Equalizer...)
	return s
}

// Info is a JSON-friendly summary of a player.
type Info struct {
	GuildID        snowflake.ID `json:"guild_id"`
	Node           string       `json:"node"`
	Status         Status       `json:"status"`
	VoiceChannelID snowflake.ID `json:"voice_channel_id"`
	QueueLength    int          `json:"queue_length"`
	Track          string       `json:"track,omitempty"`
	Volume         int          `json:"volume"`
	Position       int64        `json:"position"`
	TrackRepeat    bool         `json:"track_repeat"`
	QueueRepeat    bool         `json:"queue_repeat"`
}

// Snapshot returns a consistent summary taken under a single lock.
func (p *Player) Snapshot() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{
		GuildID:        p.guildID,
		Node:           p.node.Key(),
		Status:         p.statusLocked(),
		VoiceChannelID: p.voiceChannelID,
		QueueLength:    len(p.queue),
		Volume:         p.volume,
		Position:       p.position,
		TrackRepeat:    p.trackRepeat,
		QueueRepeat:    p.queueRepeat,
	}
	if p.current != nil {
		info.Track = p.current.Info.Title
	}
	return info
}
