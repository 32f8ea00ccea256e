package main

import (
	"github.com/dreamware/lavapool/internal/cluster"
	"github.com/dreamware/lavapool/internal/coordinator"
	"github.com/dreamware/lavapool/internal/player"
)

// advanceQueue starts the next queued track when one ends. The player keeps
// the ended track at the head of its queue, so it is shifted off first and,
// with queue repeat on, moved to the back.
func advanceQueue(pool *coordinator.Pool) func(cluster.Event) {
	return func(ev cluster.Event) {
		if ev.Kind != cluster.EventEnd || !cluster.MayStartNext(ev.Reason) {
			return
		}
		pl := pool.Player(ev.GuildID)
		if pl == nil || len(pl.Queue()) <= 1 {
			return
		}
		ended := pl.Shift()
		if pl.QueueRepeat() && ended != nil {
			pl.Enqueue(ended)
		}
		pl.Play(player.PlayOptions{})
	}
}
