package node

import "time"

// Connection states reported by Health.
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusDestroyed    = "destroyed"
)

// Health is a point-in-time view of a connection's lifecycle bookkeeping.
type Health struct {
	LastAttempt       time.Time `json:"last_attempt"`
	LastConnected     time.Time `json:"last_connected"`
	NodeID            string    `json:"node_id"`
	Status            string    `json:"status"`
	ConsecutiveFails  int       `json:"consecutive_fails"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
}

// IsHealthy reports whether the connection is currently open.
func (h Health) IsHealthy() bool {
	return h.Status == StatusConnected
}

// Health returns a copy of the connection's bookkeeping.
func (c *Connection) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.health
	h.NodeID = c.key
	h.ReconnectAttempts = c.retries
	return h
}
