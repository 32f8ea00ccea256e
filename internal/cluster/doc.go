// Package cluster defines the shared vocabulary of lavapool: node
// descriptors and stats, the packets exchanged with audio nodes, track
// lifecycle events, the domain events emitted to pool listeners, and the
// small REST helpers used to talk to a node over HTTP.
//
// # Overview
//
// A lavapool deployment is a single client process talking to one or more
// remote audio nodes. Each node exposes a persistent WebSocket control
// connection and a REST API on the same host and port:
//
//	            +-----------------+
//	            |  lavapool Pool  |
//	            |                 |
//	            | - node registry |
//	            | - player map    |
//	            | - voice signals |
//	            +--------+--------+
//	                     |
//	      +--------------+--------------+
//	      |              |              |
//	+-----v-----+  +-----v-----+  +-----v-----+
//	|  Node A   |  |  Node B   |  |  Node C   |
//	| ws + rest |  | ws + rest |  | ws + rest |
//	+-----------+  +-----------+  +-----------+
//
// This package holds only data types and pure functions so that the node,
// player and coordinator packages can share them without import cycles.
//
// # Core Types
//
// NodeDescriptor: static configuration for one node
//   - Host, port, password and TLS selection
//   - Resume key and timeout sent after each open
//   - Retry delay and retry budget for reconnects
//
// NodeStats: the last snapshot pushed in a "stats" packet
//   - Load() normalises system load by core count for node selection
//
// Packet, PlayCommand and friends: the JSON control protocol
//   - Outbound commands carry an "op" tag and a guild id
//   - Inbound packets are decoded with DecodePacket and keep their raw bytes
//
// LifecycleEvent: the closed set of "event" packet variants
//   - TrackStart, TrackEnd, TrackException, TrackStuck, WebSocketClosed
//   - UnknownEvent for tags this client does not understand
//
// Event: the domain events delivered to pool listeners.
//
// # Wire Format
//
// Guild ids are snowflakes and travel as JSON strings. Voice signals from the
// chat platform use snake_case field names while node packets use camelCase;
// both shapes are modelled here.
//
// # REST
//
// Do and GetJSON send the node password as the Authorization header and
// bound each call by a client timeout plus the caller's context. GetJSON
// wraps ErrUnexpectedStatus for non-2xx answers; Do returns the status code
// so callers can give statuses their own meaning.
//
// # Testing
//
//	go test ./internal/cluster/... -cover
package cluster
