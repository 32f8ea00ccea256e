package node

import (
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
	"golang.org/x/time/rate"

	"github.com/dreamware/lavapool/internal/cluster"
	"github.com/dreamware/lavapool/internal/storage"
)

// DefaultClientName is sent in the Client-Name header when none is configured.
const DefaultClientName = "lavapool"

const writeTimeout = 10 * time.Second

// ErrRetriesExhausted is emitted when a node used up its reconnect budget.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// Handler receives everything a Connection produces. The pool implements it.
// Calls are made without any Connection lock held.
type Handler interface {
	// Emit delivers a domain event tagged with the node key.
	Emit(ev cluster.Event)

	// DispatchPacket forwards a guild-scoped packet to that guild's player.
	DispatchPacket(nodeKey string, pkt cluster.Packet)

	// NodeDestroyed is called once after Destroy so the owner can forget the node.
	NodeDestroyed(c *Connection)
}

// Options configures identity and plumbing shared by every connection.
type Options struct {
	UserID     snowflake.ID
	ClientName string
	Logger     *slog.Logger
	Dialer     *websocket.Dialer
}

// Connection owns the persistent control connection to one audio node.
//
// Inbound messages are read by a single goroutine per transport and handled
// in arrival order. Outbound frames are written directly while connected and
// buffered in a bounded queue otherwise.
type Connection struct {
	desc    cluster.NodeDescriptor
	key     string
	opts    Options
	handler Handler
	logger  *slog.Logger
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	queue   *storage.PacketQueue

	mu        sync.Mutex
	ws        *websocket.Conn
	gen       uint64
	connected bool
	destroyed bool
	stats     cluster.NodeStats
	timer     *time.Timer
	timerSeq  uint64
	retries   int
	health    Health

	// writeMu serialises frames onto the socket; gorilla allows one writer.
	writeMu sync.Mutex
}

// New creates a connection for desc. The registry key is computed before
// defaults are applied, so a descriptor without an ID is keyed by its host.
// The connection is idle until Connect is called.
func New(desc cluster.NodeDescriptor, handler Handler, opts Options) *Connection {
	key := desc.Key()
	desc = desc.WithDefaults()

	if opts.ClientName == "" {
		opts.ClientName = DefaultClientName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if handler == nil {
		handler = nopHandler{}
	}

	var limiter *rate.Limiter
	if desc.RequestsPerSecond > 0 {
		burst := int(desc.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(desc.RequestsPerSecond), burst)
	}

	return &Connection{
		desc:    desc,
		key:     key,
		opts:    opts,
		handler: handler,
		logger:  logger.With("component", "node", "node", key),
		dialer:  dialer,
		limiter: limiter,
		queue:   storage.NewPacketQueue(desc.MaxQueuedPackets),
		health:  Health{Status: StatusDisconnected},
	}
}

// Key returns the registry key used to tag this node's events.
func (c *Connection) Key() string { return c.key }

// ID returns the descriptor ID, generated when none was configured.
func (c *Connection) ID() string { return c.desc.ID }

// Descriptor returns the node's descriptor with defaults applied.
func (c *Connection) Descriptor() cluster.NodeDescriptor { return c.desc }

// Connected reports whether the control socket is open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns the latest snapshot pushed by the node.
func (c *Connection) Stats() cluster.NodeStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// QueuedPackets reports how many frames wait for the next open.
func (c *Connection) QueuedPackets() int { return c.queue.Len() }

// Wait blocks until the node's REST rate limit allows another request.
func (c *Connection) Wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.Wait(ctx)
}

// Connect drops any existing transport and dials the node in the background.
// Events from the dropped transport are discarded.
func (c *Connection) Connect() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	old := c.ws
	c.ws = nil
	c.connected = false
	c.health.Status = StatusConnecting
	c.health.LastAttempt = time.Now()
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go c.dial(gen)
}

func (c *Connection) dial(gen uint64) {
	header := http.Header{}
	header.Set("Authorization", c.desc.Password)
	header.Set("User-Id", c.opts.UserID.String())
	header.Set("Client-Name", c.opts.ClientName)
	if c.desc.ResumeKey != "" {
		header.Set("Resume-Key", c.desc.ResumeKey)
	}

	ws, _, err := c.dialer.Dial(c.desc.SocketURL(), header)
	if err != nil {
		c.mu.Lock()
		stale := c.gen != gen || c.destroyed
		if !stale {
			c.health.ConsecutiveFails++
			c.health.Status = StatusDisconnected
		}
		c.mu.Unlock()
		if stale {
			return
		}

		c.logger.Warn("node dial failed", "url", c.desc.SocketURL(), "error", err)
		c.emit(cluster.Event{Kind: cluster.EventError, Err: fmt.Errorf("dial %s: %w", c.desc.SocketURL(), err)})
		c.Reconnect()
		return
	}

	c.writeMu.Lock()
	c.mu.Lock()
	if c.gen != gen || c.destroyed {
		c.mu.Unlock()
		c.writeMu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.stopTimerLocked()
	c.retries = 0
	c.connected = true
	c.health.ConsecutiveFails = 0
	c.health.Status = StatusConnected
	c.health.LastConnected = time.Now()
	pending := c.queue.Drain()
	c.mu.Unlock()

	go c.readLoop(gen, ws)

	err = c.flush(ws, pending)
	c.writeMu.Unlock()
	if err != nil {
		c.emit(cluster.Event{Kind: cluster.EventError, Err: err})
	}

	c.logger.Info("node connected", "url", c.desc.SocketURL(), "flushed", len(pending))
	c.emit(cluster.Event{Kind: cluster.EventReady})
}

// flush sends configureResuming followed by the frames buffered while the
// node was away. Frames left unsent by a write error go back to the queue.
// Callers hold writeMu.
func (c *Connection) flush(ws *websocket.Conn, pending [][]byte) error {
	if c.desc.ResumeKey != "" {
		frame, err := json.Marshal(cluster.ConfigureResumingCommand{
			Op:      cluster.OpConfigureResuming,
			Key:     c.desc.ResumeKey,
			Timeout: c.desc.ResumeTimeout,
		})
		if err != nil {
			return fmt.Errorf("encode configureResuming: %w", err)
		}
		if err := c.write(ws, frame); err != nil {
			c.requeue(pending)
			return err
		}
	}

	for i, frame := range pending {
		if err := c.write(ws, frame); err != nil {
			c.requeue(pending[i:])
			return err
		}
	}
	return nil
}

func (c *Connection) requeue(frames [][]byte) {
	if dropped := c.queue.Requeue(frames); dropped > 0 {
		c.logger.Warn("dropped queued packets", "count", dropped)
	}
}

// write sends one text frame. Callers hold writeMu and report the error
// after releasing it; the read loop notices a broken transport and reconnects.
func (c *Connection) write(ws *websocket.Conn, frame []byte) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error("node write failed", "error", err)
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Send encodes payload and writes it, or queues it while disconnected.
// Only encoding failures are returned.
func (c *Connection) Send(payload any) error {
	frame, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}

	c.mu.Lock()
	if !c.connected || c.ws == nil {
		dropped := c.queue.Push(frame)
		c.mu.Unlock()
		if dropped > 0 {
			c.logger.Warn("outbound queue full, dropped oldest packets", "count", dropped, "capacity", c.queue.Cap())
			c.emit(cluster.Event{
				Kind:    cluster.EventWarn,
				Message: fmt.Sprintf("node %s outbound queue full, dropped %d packet(s)", c.key, dropped),
			})
		}
		return nil
	}
	ws := c.ws
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.write(ws, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.emit(cluster.Event{Kind: cluster.EventError, Err: err})
	}
	return nil
}

// Reconnect marks the node disconnected and schedules a single attempt after
// the retry delay, replacing any attempt already scheduled. Once RetryAmount
// attempts have failed in a row an error is emitted and nothing is scheduled.
func (c *Connection) Reconnect() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.health.Status = StatusDisconnected
	c.stopTimerLocked()

	if c.desc.RetryAmount >= 0 && c.retries >= c.desc.RetryAmount {
		attempts := c.retries
		c.mu.Unlock()
		c.logger.Error("giving up on node", "attempts", attempts)
		c.emit(cluster.Event{
			Kind: cluster.EventError,
			Err:  fmt.Errorf("node %s: %w after %d attempts", c.key, ErrRetriesExhausted, attempts),
		})
		return
	}

	c.retries++
	c.timerSeq++
	seq := c.timerSeq
	delay := c.desc.RetryDelay
	c.timer = time.AfterFunc(delay, func() { c.fireReconnect(seq) })
	c.mu.Unlock()

	c.logger.Debug("reconnect scheduled", "delay", delay)
}

func (c *Connection) fireReconnect(seq uint64) {
	c.mu.Lock()
	if c.destroyed || c.timerSeq != seq {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.emit(cluster.Event{Kind: cluster.EventReconnecting})
	c.Connect()
}

// stopTimerLocked cancels the pending reconnect. Callers hold mu.
func (c *Connection) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

// Destroy closes the transport gracefully and tells the handler the node is
// gone. A destroyed connection never reconnects.
func (c *Connection) Destroy(reason string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.gen++
	c.stopTimerLocked()
	ws := c.ws
	c.ws = nil
	c.connected = false
	c.health.Status = StatusDestroyed
	c.mu.Unlock()

	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.Close()
	}

	c.logger.Info("node destroyed", "reason", reason)
	c.emit(cluster.Event{Kind: cluster.EventDisconnect, Code: websocket.CloseNormalClosure, Reason: reason})
	c.handler.NodeDestroyed(c)
}

func (c *Connection) readLoop(gen uint64, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.closed(gen, ws, err)
			return
		}
		if !c.current(gen) {
			return
		}
		c.handleMessage(data)
	}
}

func (c *Connection) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && !c.destroyed
}

// closed handles the end of a transport. Graceful closes stay down, anything
// else reconnects.
func (c *Connection) closed(gen uint64, ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.gen != gen || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.connected = false
	c.health.Status = StatusDisconnected
	c.mu.Unlock()
	ws.Close()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Warn("node closed connection", "code", ce.Code, "reason", ce.Text)
		c.emit(cluster.Event{Kind: cluster.EventDisconnect, Code: ce.Code, Reason: ce.Text})
		if ce.Code == websocket.CloseNormalClosure {
			return
		}
		c.Reconnect()
		return
	}

	c.logger.Error("node transport error", "error", err)
	c.emit(cluster.Event{Kind: cluster.EventError, Err: fmt.Errorf("read: %w", err)})
	c.Reconnect()
}

// handleMessage decodes and routes one inbound packet. A malformed packet or
// a panicking listener is reported and the packet dropped; the read loop
// keeps going.
func (c *Connection) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered while handling node packet", "panic", r)
			c.emit(cluster.Event{Kind: cluster.EventError, Err: fmt.Errorf("handle packet: %v", r)})
		}
	}()

	pkt, err := cluster.DecodePacket(data)
	if err != nil {
		c.logger.Warn("dropping malformed packet", "error", err, "size", len(data))
		c.emit(cluster.Event{Kind: cluster.EventError, Err: err})
		return
	}

	if pkt.Op == cluster.OpStats {
		stats, err := cluster.DecodeStats(pkt.Raw)
		if err != nil {
			c.logger.Warn("dropping malformed stats", "error", err)
			c.emit(cluster.Event{Kind: cluster.EventError, Err: err})
		} else {
			c.mu.Lock()
			c.stats = stats
			c.mu.Unlock()
		}
	}

	if pkt.GuildID != 0 && pkt.Op != "" {
		c.handler.DispatchPacket(c.key, pkt)
	}

	c.emit(cluster.Event{Kind: cluster.EventRaw, Packet: pkt.Raw})
}

func (c *Connection) emit(ev cluster.Event) {
	ev.NodeID = c.key
	c.handler.Emit(ev)
}

type nopHandler struct{}

func (nopHandler) Emit(cluster.Event)                    {}
func (nopHandler) DispatchPacket(string, cluster.Packet) {}
func (nopHandler) NodeDestroyed(*Connection)             {}
