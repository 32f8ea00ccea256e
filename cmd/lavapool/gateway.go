package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/dreamware/lavapool/internal/cluster"
	"github.com/dreamware/lavapool/internal/coordinator"
)

// gatewaySendTimeout bounds a single op 4 write to the gateway.
const gatewaySendTimeout = 5 * time.Second

// voiceStateUpdater is the part of the disgo client the pool sends through.
type voiceStateUpdater interface {
	UpdateVoiceState(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID, selfMute bool, selfDeaf bool) error
}

// relay forwards gateway voice events to the pool. The pool is attached
// after the client exists, but before the gateway is opened.
type relay struct {
	pool    *coordinator.Pool
	guildID snowflake.ID
	logger  *slog.Logger
}

func (r *relay) allowed(guildID snowflake.ID) bool {
	return r.guildID == 0 || r.guildID == guildID
}

func (r *relay) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	r.voiceState(event.VoiceState)
}

func (r *relay) onVoiceServerUpdate(event *events.VoiceServerUpdate) {
	r.voiceServer(event.GuildID, event.Token, event.Endpoint)
}

func (r *relay) voiceState(vs discord.VoiceState) bool {
	if r.pool == nil || !r.allowed(vs.GuildID) {
		return false
	}
	reconciled := r.pool.HandleVoiceStateUpdate(cluster.VoiceStateUpdate{
		UserID:    vs.UserID,
		GuildID:   vs.GuildID,
		ChannelID: vs.ChannelID,
		SessionID: vs.SessionID,
	})
	if reconciled {
		r.logger.Debug("voice state reconciled", "guild", vs.GuildID)
	}
	return reconciled
}

func (r *relay) voiceServer(guildID snowflake.ID, token string, endpoint *string) bool {
	if r.pool == nil || !r.allowed(guildID) {
		return false
	}
	reconciled := r.pool.HandleVoiceServerUpdate(cluster.VoiceServerUpdate{
		GuildID:  guildID,
		Token:    token,
		Endpoint: endpoint,
	})
	if reconciled {
		r.logger.Debug("voice server reconciled", "guild", guildID)
	}
	return reconciled
}

// gatewaySender adapts the client's voice state update to the pool's Send hook.
func gatewaySender(client voiceStateUpdater) func(cluster.GatewayPayload) error {
	return func(payload cluster.GatewayPayload) error {
		ctx, cancel := context.WithTimeout(context.Background(), gatewaySendTimeout)
		defer cancel()
		d := payload.D
		return client.UpdateVoiceState(ctx, d.GuildID, d.ChannelID, d.SelfMute, d.SelfDeaf)
	}
}

// logEvent writes pool events to the process log.
func logEvent(logger *slog.Logger) func(cluster.Event) {
	return func(ev cluster.Event) {
		msg := ev.Message
		if msg == "" {
			msg = string(ev.Kind)
		}
		attrs := []any{}
		if ev.NodeID != "" {
			attrs = append(attrs, "node", ev.NodeID)
		}
		if ev.GuildID != 0 {
			attrs = append(attrs, "guild", ev.GuildID)
		}
		if ev.Track != nil {
			attrs = append(attrs, "track", ev.Track.Info.Title)
		}

		switch ev.Kind {
		case cluster.EventError, cluster.EventException:
			if ev.Err != nil {
				attrs = append(attrs, "error", ev.Err)
			}
			logger.Error(msg, attrs...)
		case cluster.EventWarn, cluster.EventStuck:
			logger.Warn(msg, attrs...)
		case cluster.EventDisconnect:
			logger.Warn("node disconnected", append(attrs, "code", ev.Code, "reason", ev.Reason)...)
		case cluster.EventReady, cluster.EventReconnecting, cluster.EventStart, cluster.EventEnd, cluster.EventPlayerDestroy:
			logger.Info(msg, attrs...)
		case cluster.EventRaw:
		default:
			logger.Debug(msg, attrs...)
		}
	}
}
