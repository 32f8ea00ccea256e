// Package coordinator implements the connection pool: the orchestration layer
// that owns every audio node connection and every guild player, places new
// sessions on nodes and routes voice signals and node packets between them.
//
// # Overview
//
// A Pool is the only object callers need. It registers nodes, hands out one
// Player per guild and turns the chat platform's two voice signals into the
// single voiceUpdate command a node needs before it can stream audio.
//
//	┌───────────────────────────────────────────┐
//	│                   POOL                    │
//	├───────────────────────────────────────────┤
//	│  nodes     key → *node.Connection         │
//	│  sessions  guild → *player.Player         │
//	│  servers   guild → VOICE_SERVER_UPDATE    │
//	│  states    guild → VOICE_STATE_UPDATE     │
//	│  monitor   key → NodeHealth (optional)    │
//	└───────────────────────────────────────────┘
//	      ▲ gateway signals          │ op 4 join/leave (Config.Send)
//	      │                          ▼
//	   caller                   chat platform
//
// # Node Selection
//
// CreateSession places a new session on the connected node with the lowest
// CPU load, computed as systemLoad / cores * 100 from the node's last stats
// packet. A node that has not reported CPU stats counts as load 0, so freshly
// started nodes are preferred. Selection is recomputed on every call and
// sessions are never moved once placed.
//
// # Voice Reconciliation
//
// A node can only join a voice channel once it has both the voice server
// (token and endpoint) and the bot's voice session id. The platform delivers
// these as two independent signals in either order. The pool keeps the latest
// of each per guild and, after every arrival, sends a voiceUpdate to the
// guild's player when:
//
//   - a voice server is pending, and
//   - a session id is known, from the pending voice state or from the
//     player's previous session (a server move without a new state)
//
// A voice state without a channel means the bot left; both pending signals
// for that guild are dropped. Voice states for other users are ignored.
//
// # Events
//
// Connections and players emit cluster.Event values; the pool fans them out
// to listeners registered with AddListener, synchronously and in order, on
// the goroutine that produced them. For node events this is the node's read
// goroutine, so a slow listener delays that node's packets.
//
// # REST
//
// LoadTracks, DecodeTrack, RoutePlannerStatus, FreeAddress and
// FreeAllAddresses run against the least loaded node. Request is the general
// form against a chosen node. Every call is bounded by the context and the
// HTTP client timeout and is never retried.
//
// # Usage Example
//
//	pool, err := coordinator.New(coordinator.Config{
//	    UserID: botID,
//	    Send:   func(p cluster.GatewayPayload) error { return gateway.Send(p) },
//	    Nodes:  []cluster.NodeDescriptor{{ID: "main", Host: "localhost", Password: "youshallnotpass"}},
//	})
//	if err != nil {
//	    return err
//	}
//	pool.Start()
//	defer pool.Close()
//
//	pl, err := pool.CreateSession(coordinator.SessionOptions{GuildID: guild, VoiceChannelID: channel})
//	// feed VOICE_SERVER_UPDATE and VOICE_STATE_UPDATE into pool.HandleGatewayPacket
//	res, err := pool.LoadTracks(ctx, "lofi", "")
//	pl.Enqueue(res.Tracks[0])
//	pl.Play(player.PlayOptions{})
package coordinator
