package coordinator

import (
	"cmp"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/exp/slices"

	"github.com/dreamware/lavapool/internal/player"
)

// SessionRegistry maps guilds to their live Player and answers which
// sessions a node is serving. It is the authoritative source for "does this
// guild already have a player", which is what makes CreateSession idempotent.
//
// A session is bound to one node for its whole life. Sessions are never
// migrated between nodes, so the node index is derived from the players
// themselves rather than maintained separately.
//
// Thread Safety:
// All methods are safe for concurrent use. Lookups take a read lock; Add and
// Remove take the write lock. Returned slices are fresh copies.
type SessionRegistry struct {
	sessions map[snowflake.ID]*player.Player
	mu       sync.RWMutex
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[snowflake.ID]*player.Player),
	}
}

// Add registers p under its guild unless a player is already registered.
// It returns the player that ends up registered and whether it was p.
//
// Example:
//
//	pl, added := registry.Add(candidate)
//	if !added {
//	    // another caller won; use pl
//	}
func (r *SessionRegistry) Add(p *player.Player) (*player.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[p.GuildID()]; ok {
		return existing, false
	}
	r.sessions[p.GuildID()] = p
	return p, true
}

// Get returns the player for guildID, or nil.
func (r *SessionRegistry) Get(guildID snowflake.ID) *player.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[guildID]
}

// Remove deletes the guild's entry only when it still points at p, so a
// late release from a destroyed player cannot evict its replacement.
func (r *SessionRegistry) Remove(guildID snowflake.ID, p *player.Player) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[guildID]; !ok || current != p {
		return false
	}
	delete(r.sessions, guildID)
	return true
}

// All returns every live player ordered by guild id.
func (r *SessionRegistry) All() []*player.Player {
	r.mu.RLock()
	out := make([]*player.Player, 0, len(r.sessions))
	for _, p := range r.sessions {
		out = append(out, p)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *player.Player) int {
		return cmp.Compare(a.GuildID(), b.GuildID())
	})
	return out
}

// NodeSessions returns the players bound to the node registered under
// nodeKey, ordered by guild id.
func (r *SessionRegistry) NodeSessions(nodeKey string) []*player.Player {
	all := r.All()
	out := all[:0]
	for _, p := range all {
		if p.NodeKey() == nodeKey {
			out = append(out, p)
		}
	}
	return out
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
