package storage

import (
	"errors"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// ErrNotFound is returned when no signal is pending for a guild.
var ErrNotFound = errors.New("no pending signal")

// Store holds the latest raw voice signal per guild until it can be
// reconciled. All implementations must be safe for concurrent use.
type Store interface {
	// Get returns the pending signal for a guild or ErrNotFound.
	Get(guildID snowflake.ID) ([]byte, error)

	// Put replaces any signal already pending for the guild.
	Put(guildID snowflake.ID, value []byte) error

	// Delete forgets the guild's signal. Deleting a missing guild is not an error.
	Delete(guildID snowflake.ID) error

	// Guilds lists the guilds with a pending signal, in no particular order.
	Guilds() []snowflake.ID

	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Guilds int `json:"guilds"`
	Bytes  int `json:"bytes"`
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[snowflake.ID][]byte
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[snowflake.ID][]byte),
	}
}

// Get returns a copy of the stored signal.
func (m *MemoryStore) Get(guildID snowflake.ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[guildID]
	if !exists {
		return nil, ErrNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a copy of value so callers may reuse their buffer.
func (m *MemoryStore) Put(guildID snowflake.ID, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[guildID] = stored
	return nil
}

func (m *MemoryStore) Delete(guildID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, guildID)
	return nil
}

func (m *MemoryStore) Guilds() []snowflake.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	guilds := make([]snowflake.ID, 0, len(m.data))
	for id := range m.data {
		guilds = append(guilds, id)
	}
	return guilds
}

// Stats counts the guilds held and the bytes their signals take.
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, value := range m.data {
		total += len(value)
	}
	return StoreStats{Guilds: len(m.data), Bytes: total}
}
