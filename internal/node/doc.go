// Package node manages the persistent control connection to a single audio
// node.
//
// # Lifecycle
//
//	disconnected --Connect--> connecting --open--> connected
//	     ^                        |                    |
//	     |                   dial error       close != 1000 / read error
//	     |                        v                    v
//	     +------ timer fires <-- Reconnect <-----------+
//
//	any state --Destroy--> destroyed (terminal)
//
// A close with code 1000 leaves the connection disconnected without
// scheduling anything. Every other close code, a read error or a failed dial
// schedules exactly one attempt after the descriptor's RetryDelay; scheduling
// again replaces the pending attempt. After RetryAmount consecutive attempts
// fail the connection emits an error wrapping ErrRetriesExhausted and stays
// down until Connect is called.
//
// # Outbound
//
// Send never blocks on the network for long and only fails when a payload
// cannot be encoded. While disconnected, frames go to a bounded
// storage.PacketQueue that evicts the oldest frame when full. On open the
// connection sends configureResuming (when a resume key is configured) and
// then flushes the queue in order before any new frame is written.
//
// # Inbound
//
// One goroutine per transport reads frames and handles them in arrival
// order. Stats packets replace the stats snapshot. Packets that carry both an
// op and a guild id go to Handler.DispatchPacket. Every decoded packet is
// also emitted as a raw event. Malformed frames, and panics raised by the
// handler, are logged, emitted as error events and dropped.
package node
