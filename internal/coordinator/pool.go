package coordinator

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slices"

	"github.com/dreamware/lavapool/internal/cluster"
	"github.com/dreamware/lavapool/internal/node"
	"github.com/dreamware/lavapool/internal/player"
	"github.com/dreamware/lavapool/internal/storage"
)

var (
	ErrNoNodes       = errors.New("no nodes are connected")
	ErrMissingSend   = errors.New("send is a required function")
	ErrMissingUserID = errors.New("user id is required")
	ErrUnknownNode   = errors.New("unknown node")
)

// Gateway dispatch names understood by HandleGatewayPacket.
const (
	GatewayVoiceServerUpdate = "VOICE_SERVER_UPDATE"
	GatewayVoiceStateUpdate  = "VOICE_STATE_UPDATE"
)

// DefaultSource is the search prefix used by LoadTracks for plain queries.
const DefaultSource = "yt"

// Config configures a Pool.
type Config struct {
	// UserID is the bot's own user id. Voice states for other users are ignored.
	UserID snowflake.ID

	// Send hands op 4 join and leave payloads to the chat platform gateway.
	Send func(payload cluster.GatewayPayload) error

	// Nodes are registered by Start.
	Nodes []cluster.NodeDescriptor

	ClientName    string
	DefaultSource string

	// HealthInterval enables the node health monitor when positive.
	HealthInterval time.Duration

	// HealthCheck replaces the monitor's connectivity check. Nodes it fails
	// for consecutive ticks are left out of node selection until it passes.
	HealthCheck func(conn *node.Connection) error

	// HTTPClient is used for REST calls. Its timeout bounds every request.
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// SessionOptions describes the voice channel a session is created for.
type SessionOptions struct {
	GuildID        snowflake.ID
	VoiceChannelID snowflake.ID
	TextChannelID  snowflake.ID
	SelfMute       bool
	SelfDeaf       bool
}

// Pool is the connection pool: it owns the node connections, the per-guild
// players and the pending voice signals, and routes everything between them.
//
// Every registry belongs to the Pool instance; nothing is global. A Pool is
// created with New, brought up with Start and torn down with Close.
type Pool struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	mu    sync.RWMutex
	nodes map[string]*node.Connection

	sessions *SessionRegistry
	servers  storage.Store
	states   storage.Store
	monitor  *HealthMonitor

	// createMu makes the check-then-create in CreateSession atomic. It is
	// released before the join is sent.
	createMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []func(cluster.Event)

	lifeMu  sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
}

// New validates cfg and creates an idle pool.
func New(cfg Config) (*Pool, error) {
	if cfg.UserID == 0 {
		return nil, ErrMissingUserID
	}
	if cfg.Send == nil {
		return nil, ErrMissingSend
	}
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = DefaultSource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = cluster.NewHTTPClient(cluster.DefaultRequestTimeout)
	}

	return &Pool{
		cfg:        cfg,
		logger:     logger,
		httpClient: client,
		nodes:      make(map[string]*node.Connection),
		sessions:   NewSessionRegistry(),
		servers:    storage.NewMemoryStore(),
		states:     storage.NewMemoryStore(),
	}, nil
}

// Start registers the configured nodes and starts the health monitor.
// Calling it more than once does nothing.
func (p *Pool) Start() {
	p.lifeMu.Lock()
	if p.started || p.closed {
		p.lifeMu.Unlock()
		return
	}
	p.started = true
	var ctx context.Context
	if p.cfg.HealthInterval > 0 {
		ctx, p.cancel = context.WithCancel(context.Background())
		p.monitor = NewHealthMonitor(p.cfg.HealthInterval, p.logger)
		p.monitor.SetOnUnhealthy(p.nodeUnhealthy)
		if p.cfg.HealthCheck != nil {
			p.monitor.SetCheckFunction(p.cfg.HealthCheck)
		}
	}
	p.lifeMu.Unlock()

	for _, desc := range p.cfg.Nodes {
		p.RegisterNode(desc)
	}
	if p.monitor != nil {
		go p.monitor.Start(ctx, p.Nodes)
	}
}

// Close destroys every player and every node. The pool must not be used
// afterwards.
func (p *Pool) Close() {
	p.lifeMu.Lock()
	if p.closed {
		p.lifeMu.Unlock()
		return
	}
	p.closed = true
	cancel, monitor := p.cancel, p.monitor
	p.lifeMu.Unlock()

	if cancel != nil {
		cancel()
		monitor.Stop()
	}
	for _, pl := range p.sessions.All() {
		pl.Destroy()
	}
	for _, conn := range p.Nodes() {
		conn.Destroy("pool closed")
	}
}

// RegisterNode creates a connection for desc, keyed by its id or host, and
// starts connecting. A node already registered under the same key is
// destroyed and replaced.
func (p *Pool) RegisterNode(desc cluster.NodeDescriptor) *node.Connection {
	conn := node.New(desc, nodeHandler{p}, node.Options{
		UserID:     p.cfg.UserID,
		ClientName: p.cfg.ClientName,
		Logger:     p.logger,
		Dialer:     p.cfg.Dialer,
	})

	p.mu.Lock()
	old := p.nodes[conn.Key()]
	p.nodes[conn.Key()] = conn
	p.mu.Unlock()

	if old != nil {
		p.logger.Info("replacing node", "node", conn.Key())
		old.Destroy("replaced")
	}
	conn.Connect()
	return conn
}

// Node returns the connection registered under key, or nil.
func (p *Pool) Node(key string) *node.Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nodes[key]
}

// Nodes returns every registered connection ordered by key.
func (p *Pool) Nodes() []*node.Connection {
	p.mu.RLock()
	out := make([]*node.Connection, 0, len(p.nodes))
	for _, conn := range p.nodes {
		out = append(out, conn)
	}
	p.mu.RUnlock()

	slices.SortFunc(out, func(a, b *node.Connection) int {
		return cmp.Compare(a.Key(), b.Key())
	})
	return out
}

// DestroyNode closes the node gracefully and removes it from the pool.
// Players bound to it are left in place; they are not migrated.
func (p *Pool) DestroyNode(key, reason string) error {
	conn := p.Node(key)
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, key)
	}
	if n := len(p.sessions.NodeSessions(key)); n > 0 {
		p.logger.Warn("destroying node with live sessions", "node", key, "sessions", n)
	}
	conn.Destroy(reason)
	return nil
}

// LeastLoadedNodes returns the connected nodes ordered by ascending CPU
// load. Nodes that have not reported CPU stats count as load 0. Equal loads
// keep key order so the result is deterministic. Nodes the health monitor
// marked unhealthy are left out.
func (p *Pool) LeastLoadedNodes() []*node.Connection {
	type ranked struct {
		conn *node.Connection
		load float64
	}

	monitor := p.healthMonitor()
	var candidates []ranked
	for _, conn := range p.Nodes() {
		if !conn.Connected() {
			continue
		}
		if monitor != nil {
			if h := monitor.GetNodeHealth(conn.Key()); h != nil && h.Status == HealthUnhealthy {
				continue
			}
		}
		candidates = append(candidates, ranked{conn: conn, load: conn.Stats().Load()})
	}
	slices.SortStableFunc(candidates, func(a, b ranked) int {
		return cmp.Compare(a.load, b.load)
	})

	out := make([]*node.Connection, len(candidates))
	for i, c := range candidates {
		out[i] = c.conn
	}
	return out
}

func (p *Pool) leastLoaded() (*node.Connection, error) {
	nodes := p.LeastLoadedNodes()
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	return nodes[0], nil
}

// CreateSession returns the guild's player, creating it on the least loaded
// node and asking the platform to join the voice channel when none exists.
// It fails with ErrNoNodes before any join is sent when no node is connected.
//
// The join is sent outside the creation lock, so a slow gateway for one guild
// does not hold up sessions for others. A concurrent call for the same guild
// may get the player while its join is still in flight.
func (p *Pool) CreateSession(opts SessionOptions) (*player.Player, error) {
	p.createMu.Lock()
	if pl := p.sessions.Get(opts.GuildID); pl != nil {
		p.createMu.Unlock()
		return pl, nil
	}

	conn, err := p.leastLoaded()
	if err != nil {
		p.createMu.Unlock()
		return nil, err
	}

	pl := player.New(conn, playerHost{p}, player.Options{
		GuildID:        opts.GuildID,
		VoiceChannelID: opts.VoiceChannelID,
		TextChannelID:  opts.TextChannelID,
		SelfMute:       opts.SelfMute,
		SelfDeaf:       opts.SelfDeaf,
		Logger:         p.logger,
	})
	p.sessions.Add(pl)
	p.createMu.Unlock()

	if err := pl.Connect(); err != nil {
		p.sessions.Remove(opts.GuildID, pl)
		return nil, fmt.Errorf("join voice channel in guild %s: %w", opts.GuildID, err)
	}

	p.logger.Debug("session created", "guild", opts.GuildID.String(), "node", conn.Key())
	return pl, nil
}

// Player returns the guild's player, or nil.
func (p *Pool) Player(guildID snowflake.ID) *player.Player {
	return p.sessions.Get(guildID)
}

// Players returns every live player ordered by guild id.
func (p *Pool) Players() []*player.Player {
	return p.sessions.All()
}

// AddListener registers fn for every domain event. Listeners run
// synchronously on the goroutine that produced the event and may call back
// into the pool and its players.
func (p *Pool) AddListener(fn func(cluster.Event)) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Pool) emit(ev cluster.Event) {
	p.listenersMu.RLock()
	listeners := p.listeners
	p.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func (p *Pool) nodeUnhealthy(key string) {
	p.emit(cluster.Event{
		Kind:    cluster.EventWarn,
		NodeID:  key,
		Message: fmt.Sprintf("node %s failed consecutive health checks", key),
	})
}

func (p *Pool) healthMonitor() *HealthMonitor {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	return p.monitor
}

// NodeHealth returns the monitor's records keyed by node. It is nil when the
// monitor is disabled; nodes not checked yet have no entry.
func (p *Pool) NodeHealth() map[string]*NodeHealth {
	monitor := p.healthMonitor()
	if monitor == nil {
		return nil
	}
	return monitor.GetAllNodeHealth()
}

// PendingSignals describes the voice signals held until a session can use
// them.
type PendingSignals struct {
	States  storage.StoreStats `json:"states"`
	Servers storage.StoreStats `json:"servers"`
	Guilds  []snowflake.ID     `json:"guilds"`
}

// PendingSignals reports the held voice signals. Guilds lists every guild
// with a state or server signal, sorted.
func (p *Pool) PendingSignals() PendingSignals {
	guilds := append(p.states.Guilds(), p.servers.Guilds()...)
	slices.Sort(guilds)
	return PendingSignals{
		States:  p.states.Stats(),
		Servers: p.servers.Stats(),
		Guilds:  slices.Compact(guilds),
	}
}

// nodeHandler receives what node connections produce.
type nodeHandler struct{ p *Pool }

func (h nodeHandler) Emit(ev cluster.Event) { h.p.emit(ev) }

func (h nodeHandler) DispatchPacket(nodeKey string, pkt cluster.Packet) {
	pl := h.p.sessions.Get(pkt.GuildID)
	if pl == nil {
		return
	}
	if pl.NodeKey() != nodeKey {
		h.p.logger.Debug("ignoring packet from foreign node",
			"guild", pkt.GuildID.String(), "node", nodeKey, "owner", pl.NodeKey())
		return
	}
	pl.HandlePacket(pkt)
}

func (h nodeHandler) NodeDestroyed(c *node.Connection) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.p.nodes[c.Key()] == c {
		delete(h.p.nodes, c.Key())
	}
}

// playerHost is what players see of the pool.
type playerHost struct{ p *Pool }

func (h playerHost) SendGateway(payload cluster.GatewayPayload) error {
	return h.p.cfg.Send(payload)
}

func (h playerHost) Emit(ev cluster.Event) { h.p.emit(ev) }

func (h playerHost) ReleasePlayer(guildID snowflake.ID, pl *player.Player) {
	h.p.sessions.Remove(guildID, pl)
}

// HandleVoiceServerUpdate records the guild's voice server and attempts
// reconciliation, reporting whether a voice update was sent.
func (p *Pool) HandleVoiceServerUpdate(ev cluster.VoiceServerUpdate) bool {
	raw, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return p.storeServer(ev.GuildID, raw)
}

// HandleVoiceStateUpdate records the bot's voice state and attempts
// reconciliation. A state without a channel means the bot left: both
// pending signals for the guild are cleared.
func (p *Pool) HandleVoiceStateUpdate(ev cluster.VoiceStateUpdate) bool {
	raw, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return p.storeState(ev, raw)
}

// HandleGatewayPacket routes a raw gateway dispatch by name. Unrelated
// dispatches are ignored. The payload is kept verbatim so fields lavapool
// does not model still reach the node.
func (p *Pool) HandleGatewayPacket(t string, d json.RawMessage) (bool, error) {
	switch t {
	case GatewayVoiceServerUpdate:
		var ev cluster.VoiceServerUpdate
		if err := json.Unmarshal(d, &ev); err != nil {
			return false, fmt.Errorf("decode %s: %w", t, err)
		}
		return p.storeServer(ev.GuildID, d), nil
	case GatewayVoiceStateUpdate:
		var ev cluster.VoiceStateUpdate
		if err := json.Unmarshal(d, &ev); err != nil {
			return false, fmt.Errorf("decode %s: %w", t, err)
		}
		return p.storeState(ev, d), nil
	default:
		return false, nil
	}
}

func (p *Pool) storeServer(guildID snowflake.ID, raw []byte) bool {
	if err := p.servers.Put(guildID, raw); err != nil {
		p.logger.Warn("store voice server failed", "guild", guildID.String(), "error", err)
		return false
	}
	return p.Reconcile(guildID)
}

func (p *Pool) storeState(ev cluster.VoiceStateUpdate, raw []byte) bool {
	if ev.UserID != p.cfg.UserID {
		return false
	}
	if ev.ChannelID == nil || *ev.ChannelID == 0 {
		_ = p.servers.Delete(ev.GuildID)
		_ = p.states.Delete(ev.GuildID)
		return false
	}
	if err := p.states.Put(ev.GuildID, raw); err != nil {
		p.logger.Warn("store voice state failed", "guild", ev.GuildID.String(), "error", err)
		return false
	}
	return p.Reconcile(ev.GuildID)
}

// Reconcile sends a voice update to the guild's player once a voice server
// and a session id are both known. The session id comes from the pending
// voice state, or from the player when the server moved without a new
// state. It reports whether the update was sent.
func (p *Pool) Reconcile(guildID snowflake.ID) bool {
	server, err := p.servers.Get(guildID)
	if err != nil {
		return false
	}
	pl := p.sessions.Get(guildID)
	if pl == nil {
		return false
	}

	sessionID := pl.SessionID()
	if raw, err := p.states.Get(guildID); err == nil {
		var state cluster.VoiceStateUpdate
		if err := json.Unmarshal(raw, &state); err == nil && state.SessionID != "" {
			sessionID = state.SessionID
		}
	}
	if sessionID == "" {
		return false
	}

	pl.VoiceConnect(sessionID, server)
	return true
}
