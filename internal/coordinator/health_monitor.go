package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dreamware/lavapool/internal/node"
)

// ErrNodeNotConnected is reported by the default check for a node whose
// control connection is down.
var ErrNodeNotConnected = errors.New("node not connected")

// Health statuses tracked by the monitor.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// NodeHealth is the monitor's view of one node across checks.
type NodeHealth struct {
	LastCheck        time.Time
	LastHealthy      time.Time
	NodeKey          string
	Status           string
	ConsecutiveFails int
}

// HealthMonitor periodically checks every registered node and reports the
// ones that stay down for maxFailures consecutive checks.
//
// A node connection already reconnects on its own. The monitor exists for the
// case reconnection cannot fix: a node that keeps refusing connections until
// its retry budget runs out. The pool turns the unhealthy callback into a warn
// event so operators see it without polling.
//
// Lifecycle:
//  1. NewHealthMonitor with the check interval
//  2. SetOnUnhealthy and optionally SetCheckFunction
//  3. Start in a goroutine with a node provider
//  4. Stop, or cancel the context passed to Start
type HealthMonitor struct {
	nodes       map[string]*NodeHealth
	checkFunc   func(conn *node.Connection) error
	onUnhealthy func(nodeKey string)
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that checks every interval and marks a
// node unhealthy after three consecutive failures.
func NewHealthMonitor(interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		logger:      logger.With("component", "health"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, in its own goroutine, when a node
// crosses into the unhealthy state. Call before Start.
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeKey string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction replaces the default connectivity check. Call before Start.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(conn *node.Connection) error) {
	h.checkFunc = checkFunc
}

// Start runs checks until ctx or the monitor is cancelled. nodeProvider is
// called on every tick so nodes registered or destroyed later are picked up.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []*node.Connection) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", "interval", h.interval)

	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopping", "cause", "context")
			return
		case <-h.ctx.Done():
			h.logger.Info("health monitor stopping", "cause", "stop")
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAllNodes(conns []*node.Connection) {
	current := make(map[string]bool, len(conns))
	for _, conn := range conns {
		current[conn.Key()] = true
		h.checkNode(conn)
	}

	h.mu.Lock()
	for key := range h.nodes {
		if !current[key] {
			delete(h.nodes, key)
			h.logger.Debug("stopped monitoring node", "node", key)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkNode(conn *node.Connection) {
	key := conn.Key()

	h.mu.Lock()
	health, exists := h.nodes[key]
	if !exists {
		now := time.Now()
		health = &NodeHealth{
			NodeKey:     key,
			Status:      HealthUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.nodes[key] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(conn)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.logger.Debug("node check failed", "node", key,
			"attempt", health.ConsecutiveFails, "max", h.maxFailures, "error", err)

		if health.ConsecutiveFails >= h.maxFailures && health.Status != HealthUnhealthy {
			health.Status = HealthUnhealthy
			h.logger.Warn("node marked unhealthy", "node", key, "failures", health.ConsecutiveFails)
			if h.onUnhealthy != nil {
				go h.onUnhealthy(key)
			}
		}
		return
	}

	if health.Status == HealthUnhealthy {
		h.logger.Info("node recovered", "node", key)
	}
	health.Status = HealthHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

func defaultHealthCheck(conn *node.Connection) error {
	if !conn.Health().IsHealthy() {
		return ErrNodeNotConnected
	}
	return nil
}

// GetNodeHealth returns a copy of the node's record, or nil when the node
// has not been checked yet.
func (h *HealthMonitor) GetNodeHealth(nodeKey string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeKey]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns copies of every record keyed by node.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for key, health := range h.nodes {
		cp := *health
		result[key] = &cp
	}
	return result
}
