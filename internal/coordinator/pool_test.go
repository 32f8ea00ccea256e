package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/lavapool/internal/cluster"
	"github.com/dreamware/lavapool/internal/mocknode"
	"github.com/dreamware/lavapool/internal/node"
	"github.com/dreamware/lavapool/internal/player"
)

const (
	botID       = snowflake.ID(42)
	waitTimeout = 2 * time.Second
)

// gatewayLog records payloads handed to Config.Send.
type gatewayLog struct {
	mu       sync.Mutex
	payloads []cluster.GatewayPayload
	err      error
}

func (g *gatewayLog) send(p cluster.GatewayPayload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.payloads = append(g.payloads, p)
	return nil
}

func (g *gatewayLog) all() []cluster.GatewayPayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cluster.GatewayPayload(nil), g.payloads...)
}

// eventLog records every event the pool emits.
type eventLog struct {
	mu     sync.Mutex
	events []cluster.Event
}

func (l *eventLog) add(ev cluster.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) matching(kind cluster.EventKind) []cluster.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []cluster.Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) waitFor(t *testing.T, kind cluster.EventKind, n int) []cluster.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(l.matching(kind)) >= n },
		waitTimeout, 5*time.Millisecond, "waiting for %d %q event(s)", n, kind)
	return l.matching(kind)
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *gatewayLog, *eventLog) {
	t.Helper()
	gw := &gatewayLog{}
	events := &eventLog{}
	if cfg.UserID == 0 {
		cfg.UserID = botID
	}
	cfg.Send = gw.send
	cfg.Logger = quietLogger

	p, err := New(cfg)
	require.NoError(t, err)
	p.AddListener(events.add)
	p.Start()
	t.Cleanup(p.Close)
	return p, gw, events
}

func startMockNode(t *testing.T, id string) (*mocknode.Node, cluster.NodeDescriptor) {
	t.Helper()
	n := mocknode.New("secret", quietLogger)
	srv, desc := n.StartTest(id)
	t.Cleanup(srv.Close)
	desc.RetryDelay = time.Hour
	return n, desc
}

// unreachable returns a descriptor for a port nothing listens on.
func unreachable(t *testing.T, id string) cluster.NodeDescriptor {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	desc := mocknode.DescriptorFor(srv.URL, id, "secret")
	srv.Close()
	desc.RetryDelay = time.Hour
	return desc
}

func waitConnected(t *testing.T, p *Pool, key string) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn := p.Node(key)
		return conn != nil && conn.Connected()
	}, waitTimeout, 5*time.Millisecond, "node %s never connected", key)
}

func pushLoad(t *testing.T, p *Pool, n *mocknode.Node, key string, cores int, systemLoad float64) {
	t.Helper()
	require.NoError(t, n.PushStats(cluster.NodeStats{CPU: &cluster.CPUStats{Cores: cores, SystemLoad: systemLoad}}))
	require.Eventually(t, func() bool { return p.Node(key).Stats().CPU != nil }, waitTimeout, 5*time.Millisecond)
}

func keys(p *Pool) []string {
	var out []string
	for _, conn := range p.LeastLoadedNodes() {
		out = append(out, conn.Key())
	}
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	send := func(cluster.GatewayPayload) error { return nil }

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "missing user id", cfg: Config{Send: send}, wantErr: ErrMissingUserID},
		{name: "missing send", cfg: Config{UserID: botID}, wantErr: ErrMissingSend},
		{name: "valid", cfg: Config{UserID: botID, Send: send}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultSource, p.cfg.DefaultSource)
			assert.Empty(t, p.Nodes())
			assert.Empty(t, p.Players())
		})
	}
}

func TestCreateSessionNeedsConnectedNode(t *testing.T) {
	p, gw, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{unreachable(t, "down")}})

	_, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	assert.ErrorIs(t, err, ErrNoNodes)
	assert.Empty(t, gw.all(), "no join is sent without a node")
	assert.Empty(t, p.Players())

	n, desc := startMockNode(t, "n1")
	p.RegisterNode(desc)
	waitConnected(t, p, "n1")
	pushLoad(t, p, n, "n1", 4, 0.4)

	pl, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2, SelfDeaf: true})
	require.NoError(t, err)
	assert.Equal(t, "n1", pl.NodeKey())

	payloads := gw.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, cluster.GatewayOpVoiceStateUpdate, payloads[0].Op)
	assert.Equal(t, snowflake.ID(1), payloads[0].D.GuildID)
	require.NotNil(t, payloads[0].D.ChannelID)
	assert.Equal(t, snowflake.ID(2), *payloads[0].D.ChannelID)
	assert.True(t, payloads[0].D.SelfDeaf)
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	_, desc := startMockNode(t, "n1")
	p, gw, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")

	first, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)
	second, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 3})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, gw.all(), 1, "second call sends no join")
	assert.Same(t, first, p.Player(1))
}

func TestCreateSessionJoinFailure(t *testing.T) {
	_, desc := startMockNode(t, "n1")
	p, gw, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")

	sendErr := errors.New("gateway closed")
	gw.mu.Lock()
	gw.err = sendErr
	gw.mu.Unlock()

	_, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	assert.ErrorIs(t, err, sendErr)
	assert.Nil(t, p.Player(1), "failed session is not registered")
}

func TestLeastLoadedNodes(t *testing.T) {
	busy, busyDesc := startMockNode(t, "busy")
	light, lightDesc := startMockNode(t, "light")
	_, freshDesc := startMockNode(t, "fresh")

	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{
		busyDesc, lightDesc, freshDesc, unreachable(t, "down"),
	}})
	for _, k := range []string{"busy", "light", "fresh"} {
		waitConnected(t, p, k)
	}
	assert.Equal(t, []string{"busy", "fresh", "light"}, keys(p), "equal loads fall back to key order")

	pushLoad(t, p, busy, "busy", 2, 1.0)
	pushLoad(t, p, light, "light", 4, 0.4)

	assert.Equal(t, []string{"fresh", "light", "busy"}, keys(p),
		"nodes without cpu stats count as idle and never include disconnected nodes")

	pl, err := p.CreateSession(SessionOptions{GuildID: 5, VoiceChannelID: 6})
	require.NoError(t, err)
	assert.Equal(t, "fresh", pl.NodeKey())
}

func TestLeastLoadedNodesEmpty(t *testing.T) {
	p, _, _ := newTestPool(t, Config{})
	assert.Empty(t, p.LeastLoadedNodes())
}

func voiceServer(guild snowflake.ID, token string) cluster.VoiceServerUpdate {
	endpoint := "eu.discord.media:443"
	return cluster.VoiceServerUpdate{GuildID: guild, Token: token, Endpoint: &endpoint}
}

func voiceState(user, guild snowflake.ID, channel snowflake.ID, session string) cluster.VoiceStateUpdate {
	st := cluster.VoiceStateUpdate{UserID: user, GuildID: guild, SessionID: session}
	if channel != 0 {
		st.ChannelID = &channel
	}
	return st
}

func voiceUpdates(t *testing.T, n *mocknode.Node) []cluster.VoiceUpdateCommand {
	t.Helper()
	var out []cluster.VoiceUpdateCommand
	for _, frame := range n.Received() {
		var cmd cluster.VoiceUpdateCommand
		require.NoError(t, json.Unmarshal(frame, &cmd))
		if cmd.Op == cluster.OpVoiceUpdate {
			out = append(out, cmd)
		}
	}
	return out
}

func TestVoiceReconciliation(t *testing.T) {
	tests := []struct {
		name        string
		serverFirst bool
	}{
		{name: "server then state", serverFirst: true},
		{name: "state then server", serverFirst: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, desc := startMockNode(t, "n1")
			p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
			waitConnected(t, p, "n1")
			pl, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
			require.NoError(t, err)

			server := voiceServer(1, "tok")
			state := voiceState(botID, 1, 2, "sess-1")

			if tt.serverFirst {
				assert.False(t, p.HandleVoiceServerUpdate(server))
				assert.True(t, p.HandleVoiceStateUpdate(state))
			} else {
				assert.False(t, p.HandleVoiceStateUpdate(state))
				assert.True(t, p.HandleVoiceServerUpdate(server))
			}

			_, ok := n.WaitForOp(cluster.OpVoiceUpdate, waitTimeout)
			require.True(t, ok)
			updates := voiceUpdates(t, n)
			require.Len(t, updates, 1)
			assert.Equal(t, "sess-1", updates[0].SessionID)
			assert.Equal(t, snowflake.ID(1), updates[0].GuildID)
			assert.JSONEq(t, `{"guild_id":"1","token":"tok","endpoint":"eu.discord.media:443"}`, string(updates[0].Event))
			assert.Equal(t, "sess-1", pl.SessionID())
		})
	}
}

func TestVoiceReconciliationUsesLatestServer(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	_, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)

	p.HandleVoiceServerUpdate(voiceServer(1, "old"))
	p.HandleVoiceServerUpdate(voiceServer(1, "new"))
	require.True(t, p.HandleVoiceStateUpdate(voiceState(botID, 1, 2, "sess-1")))

	_, ok := n.WaitForOp(cluster.OpVoiceUpdate, waitTimeout)
	require.True(t, ok)
	updates := voiceUpdates(t, n)
	require.Len(t, updates, 1)
	assert.Contains(t, string(updates[0].Event), `"token":"new"`)
}

func TestVoiceSignalsWithoutPlayer(t *testing.T) {
	p, _, _ := newTestPool(t, Config{})
	assert.False(t, p.HandleVoiceServerUpdate(voiceServer(1, "tok")))
	assert.False(t, p.HandleVoiceStateUpdate(voiceState(botID, 1, 2, "sess")))
	assert.Equal(t, 1, p.servers.Stats().Guilds, "signals are kept for a later session")
}

func TestCreateSessionJoinsConcurrently(t *testing.T) {
	_, desc := startMockNode(t, "n1")
	blocked := make(chan struct{})
	release := make(chan struct{})
	var blockOnce, releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }

	p, err := New(Config{
		UserID: botID,
		Nodes:  []cluster.NodeDescriptor{desc},
		Logger: quietLogger,
		Send: func(payload cluster.GatewayPayload) error {
			if payload.D.GuildID == 1 {
				blockOnce.Do(func() { close(blocked) })
				<-release
			}
			return nil
		},
	})
	require.NoError(t, err)
	p.Start()
	t.Cleanup(p.Close)
	t.Cleanup(unblock)
	waitConnected(t, p, "n1")

	slow := make(chan error, 1)
	go func() {
		_, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 10})
		slow <- err
	}()
	<-blocked

	fast := make(chan error, 1)
	go func() {
		_, err := p.CreateSession(SessionOptions{GuildID: 2, VoiceChannelID: 10})
		fast <- err
	}()
	select {
	case err := <-fast:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("guild 2 waited on guild 1's join")
	}
	assert.NotNil(t, p.Player(1), "a joining session is already registered")

	unblock()
	require.NoError(t, <-slow)
	assert.Len(t, p.Players(), 2)
}

func TestPendingSignals(t *testing.T) {
	p, _, _ := newTestPool(t, Config{})

	pending := p.PendingSignals()
	assert.Empty(t, pending.Guilds)
	assert.Zero(t, pending.States.Guilds)

	p.HandleVoiceServerUpdate(voiceServer(3, "tok"))
	p.HandleVoiceServerUpdate(voiceServer(1, "tok"))
	p.HandleVoiceStateUpdate(voiceState(botID, 1, 2, "sess"))
	p.HandleVoiceStateUpdate(voiceState(99, 5, 2, "other user"))

	pending = p.PendingSignals()
	assert.Equal(t, []snowflake.ID{1, 3}, pending.Guilds)
	assert.Equal(t, 2, pending.Servers.Guilds)
	assert.Equal(t, 1, pending.States.Guilds)
	assert.Positive(t, pending.States.Bytes)

	p.HandleVoiceStateUpdate(voiceState(botID, 1, 0, ""))
	assert.Equal(t, []snowflake.ID{3}, p.PendingSignals().Guilds, "leaving drops both signals")
}

func TestVoiceStateFiltering(t *testing.T) {
	_, desc := startMockNode(t, "n1")
	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	_, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)

	t.Run("other users are ignored", func(t *testing.T) {
		p.HandleVoiceServerUpdate(voiceServer(1, "tok"))
		assert.False(t, p.HandleVoiceStateUpdate(voiceState(7, 1, 2, "someone-else")))
		_, err := p.states.Get(1)
		assert.Error(t, err)
	})

	t.Run("leaving clears both signals", func(t *testing.T) {
		assert.False(t, p.HandleVoiceStateUpdate(voiceState(botID, 1, 0, "")))
		_, err := p.servers.Get(1)
		assert.Error(t, err)
		assert.False(t, p.HandleVoiceStateUpdate(voiceState(botID, 1, 2, "sess-2")),
			"a state alone is not enough once the server was cleared")
	})
}

func TestServerMoveReusesKnownSession(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	_, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)

	p.HandleVoiceServerUpdate(voiceServer(1, "tok"))
	require.True(t, p.HandleVoiceStateUpdate(voiceState(botID, 1, 2, "sess-1")))
	require.NoError(t, p.states.Delete(1))

	assert.True(t, p.HandleVoiceServerUpdate(voiceServer(1, "moved")),
		"server alone is enough once the player knows a session id")

	require.Eventually(t, func() bool { return len(voiceUpdates(t, n)) == 2 }, waitTimeout, 5*time.Millisecond)
	last := voiceUpdates(t, n)[1]
	assert.Equal(t, "sess-1", last.SessionID)
	assert.Contains(t, string(last.Event), `"token":"moved"`)
}

func TestHandleGatewayPacket(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	_, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)

	server := json.RawMessage(`{"guild_id":"1","token":"tok","endpoint":"x:443","extra":"kept"}`)
	ok, err := p.HandleGatewayPacket(GatewayVoiceServerUpdate, server)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.HandleGatewayPacket(GatewayVoiceStateUpdate,
		json.RawMessage(`{"user_id":"42","guild_id":"1","channel_id":"2","session_id":"abc"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := n.WaitForOp(cluster.OpVoiceUpdate, waitTimeout)
	require.True(t, found)
	assert.JSONEq(t, string(server), string(voiceUpdates(t, n)[0].Event), "payload reaches the node verbatim")

	ok, err = p.HandleGatewayPacket("MESSAGE_CREATE", json.RawMessage(`{}`))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = p.HandleGatewayPacket(GatewayVoiceStateUpdate, json.RawMessage(`{"guild_id":`))
	assert.Error(t, err)
}

func TestNodePacketsReachPlayer(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	n.AutoEvents = true
	p, _, events := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")

	pl, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)
	pl.Enqueue(&cluster.Track{Encoded: "A", Info: cluster.TrackInfo{Title: "Song A"}})
	require.True(t, pl.Play(player.PlayOptions{}))

	start := events.waitFor(t, cluster.EventStart, 1)[0]
	assert.Equal(t, snowflake.ID(1), start.GuildID)
	assert.Equal(t, "n1", start.NodeID)
	assert.Equal(t, "A", start.Track.Encoded)

	require.NoError(t, pl.Stop(0))
	end := events.waitFor(t, cluster.EventEnd, 1)[0]
	assert.Equal(t, "STOPPED", end.Reason)

	assert.NotEmpty(t, events.matching(cluster.EventRaw), "node packets are re-emitted raw")
}

func TestPacketsFromForeignNodeIgnored(t *testing.T) {
	a, descA := startMockNode(t, "a")
	b, descB := startMockNode(t, "b")
	p, _, events := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{descA, descB}})
	waitConnected(t, p, "a")
	waitConnected(t, p, "b")

	pl, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)
	require.Equal(t, "a", pl.NodeKey())

	start := map[string]any{"op": cluster.OpEvent, "type": cluster.TypeTrackStart, "guildId": "1"}
	require.NoError(t, b.Push(start))
	require.Eventually(t, func() bool {
		for _, ev := range events.matching(cluster.EventRaw) {
			if ev.NodeID == "b" && ev.GuildID == 0 {
				return true
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond)
	assert.Empty(t, events.matching(cluster.EventStart))

	require.NoError(t, a.Push(start))
	events.waitFor(t, cluster.EventStart, 1)
}

func TestPlayerDestroyReleasesSession(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	p, gw, events := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")

	pl, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)
	pl.Destroy()

	assert.Nil(t, p.Player(1))
	_, ok := n.WaitForOp(cluster.OpDestroy, waitTimeout)
	assert.True(t, ok)
	payloads := gw.all()
	require.Len(t, payloads, 2)
	assert.Nil(t, payloads[1].D.ChannelID, "leave payload")
	assert.Len(t, events.matching(cluster.EventPlayerDestroy), 1)

	again, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)
	assert.NotSame(t, pl, again)
}

func TestDestroyNode(t *testing.T) {
	_, desc := startMockNode(t, "n1")
	p, _, events := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")

	assert.ErrorIs(t, p.DestroyNode("missing", "bye"), ErrUnknownNode)

	require.NoError(t, p.DestroyNode("n1", "maintenance"))
	assert.Nil(t, p.Node("n1"))
	assert.Empty(t, p.Nodes())

	ev := events.waitFor(t, cluster.EventDisconnect, 1)[0]
	assert.Equal(t, 1000, ev.Code)
	assert.Equal(t, "maintenance", ev.Reason)
}

func TestRegisterNodeReplacesExisting(t *testing.T) {
	_, desc := startMockNode(t, "n1")
	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	old := p.Node("n1")

	replacement := p.RegisterNode(desc)
	assert.NotSame(t, old, replacement)
	assert.Same(t, replacement, p.Node("n1"))
	assert.Len(t, p.Nodes(), 1, "the old connection's removal does not evict the replacement")
	waitConnected(t, p, "n1")
}

func TestClose(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	p, gw, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	_, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)

	p.Close()
	p.Close()

	assert.Empty(t, p.Players())
	assert.Empty(t, p.Nodes())
	assert.Len(t, gw.all(), 2, "join and leave")
	require.Eventually(t, func() bool { return n.Clients() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestHealthMonitorWarnsAboutDeadNode(t *testing.T) {
	_, _, events := newTestPool(t, Config{
		HealthInterval: 10 * time.Millisecond,
		Nodes:          []cluster.NodeDescriptor{unreachable(t, "down")},
	})

	warn := events.waitFor(t, cluster.EventWarn, 1)[0]
	assert.Equal(t, "down", warn.NodeID)
	assert.Contains(t, warn.Message, "health checks")
}

func TestHealthCheckExcludesNode(t *testing.T) {
	_, desc1 := startMockNode(t, "n1")
	_, desc2 := startMockNode(t, "n2")
	p, _, events := newTestPool(t, Config{
		HealthInterval: 10 * time.Millisecond,
		HealthCheck: func(conn *node.Connection) error {
			if conn.Key() == "n1" {
				return errors.New("draining")
			}
			return nil
		},
		Nodes: []cluster.NodeDescriptor{desc1, desc2},
	})
	waitConnected(t, p, "n1")
	waitConnected(t, p, "n2")

	warn := events.waitFor(t, cluster.EventWarn, 1)[0]
	assert.Equal(t, "n1", warn.NodeID)

	nodes := p.LeastLoadedNodes()
	require.Len(t, nodes, 1, "connected but unhealthy nodes are skipped")
	assert.Equal(t, "n2", nodes[0].Key())

	pl, err := p.CreateSession(SessionOptions{GuildID: 1, VoiceChannelID: 2})
	require.NoError(t, err)
	assert.Equal(t, "n2", pl.NodeKey())

	health := p.NodeHealth()
	require.Contains(t, health, "n1")
	assert.Equal(t, HealthUnhealthy, health["n1"].Status)
	require.Eventually(t, func() bool {
		h := p.NodeHealth()["n2"]
		return h != nil && h.Status == HealthHealthy
	}, waitTimeout, 5*time.Millisecond)
}

func TestNodeHealthWithoutMonitor(t *testing.T) {
	p, _, _ := newTestPool(t, Config{})
	assert.Nil(t, p.NodeHealth())
}

func TestLoadTracks(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	n.AddTrack(&cluster.Track{Encoded: "QA", Info: cluster.TrackInfo{Title: "Lofi Beats", URI: "https://example.com/lofi"}})
	n.AddTrack(&cluster.Track{Encoded: "QB", Info: cluster.TrackInfo{Title: "Lofi Rain", URI: "https://example.com/rain"}})
	p, _, events := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	ctx := context.Background()

	t.Run("plain query searches the default source", func(t *testing.T) {
		res, err := p.LoadTracks(ctx, "lofi", "")
		require.NoError(t, err)
		assert.Equal(t, cluster.LoadSearchResult, res.LoadType)
		assert.Len(t, res.Tracks, 2)

		debug := events.waitFor(t, cluster.EventDebug, 1)
		assert.Contains(t, debug[len(debug)-1].Message, "ytsearch:lofi")
		assert.Equal(t, "n1", debug[len(debug)-1].NodeID)
	})

	t.Run("explicit source", func(t *testing.T) {
		_, err := p.LoadTracks(ctx, "rain", "sc")
		require.NoError(t, err)
		debug := events.matching(cluster.EventDebug)
		assert.Contains(t, debug[len(debug)-1].Message, "scsearch:rain")
	})

	t.Run("urls load directly", func(t *testing.T) {
		res, err := p.LoadTracks(ctx, "https://example.com/rain", "")
		require.NoError(t, err)
		assert.Equal(t, cluster.LoadTrackLoaded, res.LoadType)
		require.Len(t, res.Tracks, 1)
		assert.Equal(t, "QB", res.Tracks[0].Encoded)
	})

	t.Run("no matches", func(t *testing.T) {
		res, err := p.LoadTracks(ctx, "jazz", "")
		require.NoError(t, err)
		assert.Equal(t, cluster.LoadNoMatches, res.LoadType)
		assert.Empty(t, res.Tracks)
	})
}

func TestDecodeTrack(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	n.AddTrack(&cluster.Track{Encoded: "QA", Info: cluster.TrackInfo{Title: "Lofi Beats", Identifier: "abc"}})
	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")

	info, err := p.DecodeTrack(context.Background(), "QA")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Lofi Beats", info.Title)

	info, err = p.DecodeTrack(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.Nil(t, info, "a 500 means the node does not know the track")
}

func TestRoutePlanner(t *testing.T) {
	n, desc := startMockNode(t, "n1")
	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	ctx := context.Background()

	status, err := p.RoutePlannerStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "RotatingNanoIpRoutePlanner", status.Class)

	ok, err := p.FreeAddress(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.FreeAllAddresses(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	freed, all := n.Freed()
	assert.Equal(t, []string{"1.2.3.4"}, freed)
	assert.Equal(t, 1, all)

	ok, err = p.FreeAddress(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok, "anything but 204 is a failure")
}

func TestRESTWithoutNodes(t *testing.T) {
	p, _, _ := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := p.LoadTracks(ctx, "lofi", "")
	assert.ErrorIs(t, err, ErrNoNodes)
	_, err = p.DecodeTrack(ctx, "QA")
	assert.ErrorIs(t, err, ErrNoNodes)
	_, err = p.RoutePlannerStatus(ctx)
	assert.ErrorIs(t, err, ErrNoNodes)
	_, err = p.FreeAllAddresses(ctx)
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestRequest(t *testing.T) {
	_, desc := startMockNode(t, "n1")
	p, _, _ := newTestPool(t, Config{Nodes: []cluster.NodeDescriptor{desc}})
	waitConnected(t, p, "n1")
	conn := p.Node("n1")

	t.Run("status is returned without error", func(t *testing.T) {
		status, err := p.Request(context.Background(), conn, http.MethodGet, "/missing", nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("cancelled context surfaces", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Request(ctx, conn, http.MethodGet, "routeplanner/status", nil, nil, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("wrong password", func(t *testing.T) {
		bad := desc
		bad.ID = "bad"
		bad.Password = "nope"
		other := p.RegisterNode(bad)
		status, err := p.Request(context.Background(), other, http.MethodGet, "routeplanner/status", nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}
