package player

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/dreamware/lavapool/internal/cluster"
)

var (
	ErrSkipOutOfRange  = errors.New("cannot skip more than the queue length")
	ErrInvalidVolume   = errors.New("volume must not be negative")
	ErrInvalidPosition = errors.New("position must not be negative")
)

// DefaultVolume is the volume a new player starts with.
const DefaultVolume = 100

// Close codes of the voice WebSocket after which the session must be re-joined.
const (
	CloseSessionTimeout     = 4009
	CloseVoiceServerCrashed = 4015
)

// Status summarises where a player is in its state machine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusQueued  Status = "queued"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// Node is the part of a node connection a player talks to.
type Node interface {
	Key() string
	Send(payload any) error
}

// Host is the owner of a player, normally the connection pool.
type Host interface {
	// SendGateway hands a join or leave payload to the chat platform.
	SendGateway(payload cluster.GatewayPayload) error

	Emit(ev cluster.Event)

	// ReleasePlayer removes p from the session registry.
	ReleasePlayer(guildID snowflake.ID, p *Player)
}

// Options describes the session a player is created for.
type Options struct {
	GuildID        snowflake.ID
	VoiceChannelID snowflake.ID
	TextChannelID  snowflake.ID
	SelfMute       bool
	SelfDeaf       bool
	Logger         *slog.Logger
}

// PlayOptions tune a single play command.
type PlayOptions struct {
	StartTime int64
	NoReplace bool

	// Volume overrides the player volume for this command when set.
	Volume *int

	// Pause starts the track paused.
	Pause bool
}

// Player is the playback state machine of one guild. It is bound to a single
// node for its whole life.
//
// State is guarded by mu. Node commands, gateway payloads and events are
// issued after mu is released so listeners may call back into the player.
type Player struct {
	guildID  snowflake.ID
	node     Node
	host     Host
	logger   *slog.Logger
	selfMute bool
	selfDeaf bool

	mu             sync.Mutex
	voiceChannelID snowflake.ID
	textChannelID  snowflake.ID
	queue          []*cluster.Track
	current        *cluster.Track
	playing        bool
	paused         bool
	trackRepeat    bool
	queueRepeat    bool
	volume         int
	position       int64
	session        *cluster.VoiceSession
	state          cluster.PlayerState
	destroyed      bool
}

// New creates a player for opts.GuildID bound to node.
func New(node Node, host Host, opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		guildID:        opts.GuildID,
		node:           node,
		host:           host,
		logger:         logger.With("component", "player", "guild", opts.GuildID.String(), "node", node.Key()),
		selfMute:       opts.SelfMute,
		selfDeaf:       opts.SelfDeaf,
		voiceChannelID: opts.VoiceChannelID,
		textChannelID:  opts.TextChannelID,
		volume:         DefaultVolume,
		state:          cluster.PlayerState{Volume: DefaultVolume, Equalizer: []cluster.Band{}},
	}
}

// GuildID returns the guild the player belongs to.
func (p *Player) GuildID() snowflake.ID { return p.guildID }

// NodeKey returns the registry key of the node this player is bound to.
func (p *Player) NodeKey() string { return p.node.Key() }

// Connect asks the chat platform to join the player's voice channel.
func (p *Player) Connect() error {
	p.mu.Lock()
	channel := p.voiceChannelID
	p.mu.Unlock()
	return p.host.SendGateway(cluster.JoinPayload(p.guildID, channel, p.selfMute, p.selfDeaf))
}

// Enqueue appends tracks to the queue.
func (p *Player) Enqueue(tracks ...*cluster.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, tracks...)
}

// Queue returns a copy of the queue; index 0 is the track now playing.
func (p *Player) Queue() []*cluster.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*cluster.Track(nil), p.queue...)
}

// Shift removes and returns the head of the queue, or nil when it is empty.
func (p *Player) Shift() *cluster.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shiftLocked()
}

func (p *Player) shiftLocked() *cluster.Track {
	if len(p.queue) == 0 {
		return nil
	}
	head := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return head
}

// Play starts the head of the queue. It reports false, and sends nothing,
// when the queue is empty. Playing reports true afterwards. Paused follows
// opts.Pause, so a track started paused resumes with Pause(false).
func (p *Player) Play(opts PlayOptions) bool {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return false
	}
	track := p.queue[0]
	p.current = track
	p.playing = true
	p.paused = opts.Pause

	volume := p.volume
	if opts.Volume != nil {
		volume = *opts.Volume
	}
	cmd := cluster.PlayCommand{
		Op:        cluster.OpPlay,
		GuildID:   p.guildID,
		Track:     track.Encoded,
		StartTime: opts.StartTime,
		Volume:    volume,
		NoReplace: opts.NoReplace,
		Pause:     opts.Pause,
	}
	p.mu.Unlock()

	p.send(cmd)
	return true
}

// Stop stops the current track. A skip greater than one first drops skip-1
// tracks from the front of the queue; skipping past the end is rejected
// without touching the queue. Playing and paused flags are left alone.
func (p *Player) Stop(skip int) error {
	p.mu.Lock()
	if skip > 1 {
		if skip > len(p.queue) {
			n := len(p.queue)
			p.mu.Unlock()
			return fmt.Errorf("%w: skip %d, queue has %d", ErrSkipOutOfRange, skip, n)
		}
		p.queue = append([]*cluster.Track(nil), p.queue[skip-1:]...)
	}
	p.mu.Unlock()

	p.send(cluster.GuildCommand{Op: cluster.OpStop, GuildID: p.guildID})
	return nil
}

// Pause pauses or resumes playback. Nothing is sent when the player is
// already in the requested state or the queue is empty.
func (p *Player) Pause(pause bool) {
	p.mu.Lock()
	if p.paused == pause || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	p.playing = !pause
	p.paused = pause
	p.mu.Unlock()

	p.send(cluster.PauseCommand{Op: cluster.OpPause, GuildID: p.guildID, Pause: pause})
}

// Seek moves playback to position milliseconds.
func (p *Player) Seek(position int64) error {
	if position < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	p.mu.Lock()
	p.position = position
	p.mu.Unlock()

	p.send(cluster.SeekCommand{Op: cluster.OpSeek, GuildID: p.guildID, Position: position})
	return nil
}

// SetVolume sets the volume used by later plays and sends it to the node.
// Negative volumes are rejected.
func (p *Player) SetVolume(volume int) error {
	if volume < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, volume)
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()

	p.send(cluster.VolumeCommand{Op: cluster.OpVolume, GuildID: p.guildID, Volume: volume})
	return nil
}

// SetTrackRepeat makes an ended track replay. It takes precedence over
// queue repeat.
func (p *Player) SetTrackRepeat(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackRepeat = on
}

// SetQueueRepeat keeps finished tracks in rotation instead of draining the
// queue.
func (p *Player) SetQueueRepeat(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queueRepeat = on
}

// RemoveRepeat turns off both repeat modes.
func (p *Player) RemoveRepeat() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackRepeat = false
	p.queueRepeat = false
}

// SetTextChannel records the channel notices for this player go to.
func (p *Player) SetTextChannel(id snowflake.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.textChannelID = id
}

// SetVoiceChannel records the voice channel without sending a join; call
// Connect to move the bot.
func (p *Player) SetVoiceChannel(id snowflake.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceChannelID = id
}

// VoiceConnect forwards a reconciled voice session to the node.
func (p *Player) VoiceConnect(sessionID string, event json.RawMessage) {
	p.mu.Lock()
	p.session = &cluster.VoiceSession{SessionID: sessionID, Event: append(json.RawMessage(nil), event...)}
	p.mu.Unlock()

	p.send(cluster.VoiceUpdateCommand{
		Op:        cluster.OpVoiceUpdate,
		GuildID:   p.guildID,
		SessionID: sessionID,
		Event:     event,
	})
}

// SessionID returns the voice session id last forwarded to the node.
func (p *Player) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return ""
	}
	return p.session.SessionID
}

// Disconnect leaves the voice channel, resuming first when paused.
// It does nothing when the player has no voice channel.
func (p *Player) Disconnect() {
	p.mu.Lock()
	if p.voiceChannelID == 0 {
		p.mu.Unlock()
		return
	}
	paused := p.paused
	p.mu.Unlock()

	if paused {
		p.Pause(false)
	}
	if err := p.host.SendGateway(cluster.JoinPayload(p.guildID, 0, false, false)); err != nil {
		p.logger.Warn("leave voice channel failed", "error", err)
	}

	p.mu.Lock()
	p.voiceChannelID = 0
	p.mu.Unlock()
}

// Destroy disconnects, tells the node to drop the player and removes the
// player from its host. Calling it again does nothing.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	p.Disconnect()
	p.send(cluster.GuildCommand{Op: cluster.OpDestroy, GuildID: p.guildID})
	p.emit(cluster.Event{Kind: cluster.EventPlayerDestroy})
	p.host.ReleasePlayer(p.guildID, p)
}

func (p *Player) send(payload any) {
	if err := p.node.Send(payload); err != nil {
		p.logger.Error("send to node failed", "error", err)
		p.emit(cluster.Event{Kind: cluster.EventError, Err: err})
	}
}

func (p *Player) emit(ev cluster.Event) {
	ev.GuildID = p.guildID
	if ev.NodeID == "" {
		ev.NodeID = p.node.Key()
	}
	p.host.Emit(ev)
}
