package player

import (
	"fmt"

	"github.com/dreamware/lavapool/internal/cluster"
)

// HandlePacket applies a guild-scoped packet delivered by the player's node.
// Lifecycle events drive the state machine; playerUpdate refreshes the state
// mirror. Other ops are ignored.
func (p *Player) HandlePacket(pkt cluster.Packet) {
	switch pkt.Op {
	case cluster.OpEvent:
		ev, err := cluster.DecodeLifecycleEvent(pkt.Raw)
		if err != nil {
			p.logger.Warn("dropping malformed event", "error", err)
			p.emit(cluster.Event{Kind: cluster.EventError, Packet: pkt.Raw, Err: err})
			return
		}
		p.HandleEvent(ev, pkt.Raw)
	case cluster.OpPlayerUpdate:
		p.mu.Lock()
		next, err := p.state.MergePlayerUpdate(pkt.Raw)
		if err == nil {
			p.state = next
			p.position = next.Position
		}
		p.mu.Unlock()
		if err != nil {
			p.logger.Warn("dropping malformed playerUpdate", "error", err)
		}
	default:
		p.logger.Debug("ignoring packet", "op", pkt.Op)
	}
}

// HandleEvent runs the track lifecycle state machine for one event.
func (p *Player) HandleEvent(ev cluster.LifecycleEvent, raw []byte) {
	switch e := ev.(type) {
	case cluster.TrackStart:
		p.emit(cluster.Event{Kind: cluster.EventStart, Track: p.Track()})
	case cluster.TrackEnd:
		p.trackEnded(e)
	case cluster.TrackException:
		track := p.dropHead()
		p.emit(cluster.Event{
			Kind:    cluster.EventException,
			Track:   track,
			Packet:  raw,
			Message: e.Error,
			Err:     fmt.Errorf("track exception: %s", e.Error),
		})
	case cluster.TrackStuck:
		track := p.dropHead()
		p.emit(cluster.Event{Kind: cluster.EventStuck, Track: track, Packet: raw})
	case cluster.WebSocketClosed:
		if e.Code == CloseVoiceServerCrashed || e.Code == CloseSessionTimeout {
			p.logger.Info("voice session invalidated, rejoining", "code", e.Code)
			if err := p.Connect(); err != nil {
				p.logger.Warn("rejoin voice channel failed", "error", err)
			}
		}
		p.emit(cluster.Event{
			Kind:   cluster.EventError,
			Packet: raw,
			Code:   e.Code,
			Reason: e.Reason,
			Err:    fmt.Errorf("voice websocket closed: %d %s", e.Code, e.Reason),
		})
	case cluster.UnknownEvent:
		p.emit(cluster.Event{
			Kind:    cluster.EventWarn,
			Packet:  raw,
			Message: fmt.Sprintf("An unknown event was passed, event: %s", e.Type()),
		})
	}
}

// dropHead removes the head of the queue, presumed unplayable, and returns
// the current track for the event.
func (p *Player) dropHead() *cluster.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shiftLocked()
	return p.current
}

// trackEnded applies repeat policy. Track repeat always replays. Queue
// repeat replays when the last track finished. A finished last track without
// repeat empties the queue and stops.
func (p *Player) trackEnded(e cluster.TrackEnd) {
	p.mu.Lock()
	track := p.current
	trackRepeat := p.trackRepeat
	last := len(p.queue) <= 1
	finished := e.Finished()
	replay := trackRepeat || (p.queueRepeat && last && finished)
	drained := !replay && last && finished
	if drained {
		p.queue = nil
		p.playing = false
		p.paused = false
	}
	p.mu.Unlock()

	switch {
	case replay:
		p.Play(PlayOptions{})
	case drained:
		p.send(cluster.GuildCommand{Op: cluster.OpStop, GuildID: p.guildID})
		p.emit(cluster.Event{Kind: cluster.EventEnd, Track: track, Reason: e.Reason})
	default:
		p.emit(cluster.Event{Kind: cluster.EventEnd, Track: track, Reason: e.Reason})
	}
}
