package mocknode

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/lavapool/internal/cluster"
)

// Node is an in-process fake audio node. It speaks the control protocol on
// "/" and serves the REST endpoints lavapool uses.
//
// Every text frame a client sends is recorded. Tests push packets back with
// Push and close sockets with Close to drive reconnect paths.
type Node struct {
	// Password must match the Authorization header, on both WebSocket and REST.
	Password string

	// AutoEvents makes the node answer play and stop commands with the
	// matching TrackStartEvent and TrackEndEvent.
	AutoEvents bool

	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*websocket.Conn]*sync.Mutex
	received  []json.RawMessage
	headers   []http.Header
	tracks    map[string]*cluster.Track
	freed     []string
	freedAll  int
	notify    chan struct{}
	connectCh chan struct{}
}

// New creates a fake node guarded by password.
func New(password string, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		Password:  password,
		logger:    logger.With("component", "mocknode"),
		conns:     make(map[*websocket.Conn]*sync.Mutex),
		tracks:    make(map[string]*cluster.Track),
		notify:    make(chan struct{}, 1),
		connectCh: make(chan struct{}, 16),
	}
}

// AddTrack makes a track discoverable through loadtracks and decodetrack.
func (n *Node) AddTrack(t *cluster.Track) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tracks[t.Encoded] = t
}

// Handler returns the HTTP handler serving both the socket and REST API.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", n.handleSocket)
	mux.HandleFunc("/loadtracks", n.authorized(n.handleLoadTracks))
	mux.HandleFunc("/decodetrack", n.authorized(n.handleDecodeTrack))
	mux.HandleFunc("/routeplanner/status", n.authorized(n.handleRoutePlannerStatus))
	mux.HandleFunc("/routeplanner/free/address", n.authorized(n.handleFreeAddress))
	mux.HandleFunc("/routeplanner/free/all", n.authorized(n.handleFreeAll))
	return mux
}

func (n *Node) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != n.Password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (n *Node) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") != n.Password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.Warn("upgrade failed", "error", err)
		return
	}

	n.mu.Lock()
	n.conns[ws] = &sync.Mutex{}
	n.headers = append(n.headers, r.Header.Clone())
	n.mu.Unlock()

	n.logger.Info("client connected", "user", r.Header.Get("User-Id"), "client", r.Header.Get("Client-Name"))
	select {
	case n.connectCh <- struct{}{}:
	default:
	}

	go n.readLoop(ws)
}

func (n *Node) readLoop(ws *websocket.Conn) {
	defer func() {
		n.mu.Lock()
		delete(n.conns, ws)
		n.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		n.mu.Lock()
		n.received = append(n.received, append(json.RawMessage(nil), data...))
		n.mu.Unlock()
		select {
		case n.notify <- struct{}{}:
		default:
		}

		if n.AutoEvents {
			n.autoRespond(data)
		}
	}
}

func (n *Node) autoRespond(data []byte) {
	var cmd struct {
		Op      string `json:"op"`
		GuildID string `json:"guildId"`
		Track   string `json:"track"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return
	}

	switch cmd.Op {
	case cluster.OpPlay:
		n.Push(map[string]any{"op": cluster.OpEvent, "type": cluster.TypeTrackStart, "guildId": cmd.GuildID, "track": cmd.Track})
	case cluster.OpStop:
		n.Push(map[string]any{"op": cluster.OpEvent, "type": cluster.TypeTrackEnd, "guildId": cmd.GuildID, "reason": "STOPPED"})
	}
}

// Push sends v as JSON to every connected client.
func (n *Node) Push(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	n.PushRaw(data)
	return nil
}

// PushRaw sends data as-is, which lets tests deliver malformed frames.
func (n *Node) PushRaw(data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ws, wmu := range n.conns {
		wmu.Lock()
		err := ws.WriteMessage(websocket.TextMessage, data)
		wmu.Unlock()
		if err != nil {
			n.logger.Warn("push failed", "error", err)
		}
	}
}

// PushStats sends a stats packet built from s.
func (n *Node) PushStats(s cluster.NodeStats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	m["op"] = cluster.OpStats
	return n.Push(m)
}

// Close sends a close frame with code to every client and drops them.
func (n *Node) Close(code int, reason string) {
	n.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(n.conns))
	for ws, wmu := range n.conns {
		wmu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		wmu.Unlock()
		conns = append(conns, ws)
	}
	n.mu.Unlock()

	for _, ws := range conns {
		ws.Close()
	}
}

// Clients returns the number of open control connections.
func (n *Node) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// Headers returns the handshake headers of every accepted connection.
func (n *Node) Headers() []http.Header {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]http.Header(nil), n.headers...)
}

// Received returns every frame recorded so far.
func (n *Node) Received() []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]json.RawMessage(nil), n.received...)
}

// ReceivedOps returns the op tags of recorded frames, in arrival order.
func (n *Node) ReceivedOps() []string {
	frames := n.Received()
	ops := make([]string, 0, len(frames))
	for _, f := range frames {
		var head struct {
			Op string `json:"op"`
		}
		_ = json.Unmarshal(f, &head)
		ops = append(ops, head.Op)
	}
	return ops
}

// WaitForOp blocks until a frame with op has been received or timeout passes.
func (n *Node) WaitForOp(op string, timeout time.Duration) (json.RawMessage, bool) {
	deadline := time.After(timeout)
	for {
		frames := n.Received()
		for _, f := range frames {
			var head struct {
				Op string `json:"op"`
			}
			if json.Unmarshal(f, &head) == nil && head.Op == op {
				return f, true
			}
		}
		select {
		case <-n.notify:
		case <-deadline:
			return nil, false
		}
	}
}

// WaitForClient blocks until a client connects or timeout passes.
func (n *Node) WaitForClient(timeout time.Duration) bool {
	select {
	case <-n.connectCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Freed returns the addresses released through /routeplanner/free/address
// and how many times /routeplanner/free/all was called.
func (n *Node) Freed() ([]string, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.freed...), n.freedAll
}

func (n *Node) handleLoadTracks(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")

	n.mu.Lock()
	var matches []*cluster.Track
	for _, t := range n.tracks {
		if trackMatches(t, identifier) {
			matches = append(matches, t)
		}
	}
	n.mu.Unlock()

	res := cluster.LoadResult{LoadType: cluster.LoadNoMatches, Tracks: []*cluster.Track{}}
	switch {
	case len(matches) == 0:
	case strings.Contains(identifier, "search:"):
		res.LoadType = cluster.LoadSearchResult
		res.Tracks = matches
	default:
		res.LoadType = cluster.LoadTrackLoaded
		res.Tracks = matches[:1]
	}
	writeJSON(w, http.StatusOK, res)
}

// trackMatches accepts "<source>search:<words>" queries and direct URIs.
func trackMatches(t *cluster.Track, identifier string) bool {
	if i := strings.Index(identifier, "search:"); i >= 0 {
		q := strings.ToLower(identifier[i+len("search:"):])
		return q != "" && strings.Contains(strings.ToLower(t.Info.Title), q)
	}
	return t.Info.URI == identifier
}

func (n *Node) handleDecodeTrack(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	t, ok := n.tracks[r.URL.Query().Get("track")]
	n.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid track"})
		return
	}
	writeJSON(w, http.StatusOK, t.Info)
}

func (n *Node) handleRoutePlannerStatus(w http.ResponseWriter, _ *http.Request) {
	var status cluster.RoutePlannerStatus
	status.Class = "RotatingNanoIpRoutePlanner"
	status.Details.IPBlock.Type = "Inet6Address"
	status.Details.IPBlock.Size = "18446744073709551616"
	status.Details.FailingAddresses = []cluster.FailingAddress{}
	writeJSON(w, http.StatusOK, status)
}

func (n *Node) handleFreeAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Address == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.freed = append(n.freed, body.Address)
	n.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleFreeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n.mu.Lock()
	n.freedAll++
	n.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
