// Package player implements the per-guild playback state machine.
//
// A Player owns the guild's queue, repeat flags and playback flags and turns
// caller commands into node packets:
//
//	idle    queue empty
//	queued  tracks queued, Play not called since the last stop
//	playing Play called, not paused
//	paused  Pause(true) or Play with the Pause option
//
// Track lifecycle events reported by the node re-enter the player through
// HandlePacket. On TrackEnd track repeat wins over queue repeat; a finished
// last track with no repeat empties the queue and stops. Exceptions and stuck
// tracks drop the head of the queue. Voice WebSocket closes with code 4015 or
// 4009 re-send the join payload so the platform hands out a fresh session.
//
// Advancing through a multi-track queue is left to the caller: listen for the
// end event, Shift the queue and Play again.
package player
