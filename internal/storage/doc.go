// Package storage provides the small in-memory stores lavapool keeps between
// network events.
//
// # Overview
//
// Two kinds of state outlive a single callback:
//
//   - Voice signals. The chat platform delivers a voice server assignment and
//     the bot's own voice state as two independent events, in either order.
//     Each is parked in a Store keyed by guild until its partner arrives and
//     the pair can be forwarded to the guild's audio node.
//   - Outbound frames. Commands sent to a node while its control connection
//     is down are buffered in a PacketQueue and flushed in order once the
//     connection opens again.
//
// # Store
//
// Store is the interface the pool programs against; MemoryStore is the only
// implementation. Values are opaque byte slices (the raw JSON of the
// signal) and are copied on the way in and out so callers can reuse buffers.
//
// # PacketQueue
//
// PacketQueue is bounded. When full, Push evicts the oldest frame and reports
// how many were dropped so the caller can warn about it. Requeue restores a
// partially flushed batch at the front of the queue.
//
// # Concurrency
//
// Both types guard their state with a mutex and never block on I/O.
package storage
