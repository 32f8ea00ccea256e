package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/dreamware/lavapool/internal/cluster"
	"github.com/dreamware/lavapool/internal/coordinator"
	"github.com/dreamware/lavapool/internal/node"
	"github.com/dreamware/lavapool/internal/player"
)

// adminRequestTimeout bounds the node REST calls an admin request makes.
const adminRequestTimeout = 10 * time.Second

// server serves the admin API on top of a pool.
type server struct {
	pool   *coordinator.Pool
	source string
	logger *slog.Logger
}

func newServer(pool *coordinator.Pool, source string, logger *slog.Logger) *server {
	return &server{pool: pool, source: source, logger: logger}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/nodes", s.handleListNodes)
	mux.HandleFunc("/players", s.handleListPlayers)
	mux.HandleFunc("/players/play", s.handlePlay)
	mux.HandleFunc("/players/stop", s.handleStop)
	mux.HandleFunc("/voice/pending", s.handlePending)
	mux.HandleFunc("/routeplanner/status", s.handleRouteStatus)
	mux.HandleFunc("/routeplanner/free", s.handleRouteFree)
	return mux
}

type nodeView struct {
	ID            string                  `json:"id"`
	Connected     bool                    `json:"connected"`
	Load          float64                 `json:"load"`
	Players       int                     `json:"players"`
	QueuedPackets int                     `json:"queued_packets"`
	State         node.Health             `json:"state"`
	Health        *coordinator.NodeHealth `json:"health,omitempty"`
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conns := s.pool.Nodes()
	health := s.pool.NodeHealth()
	out := make([]nodeView, 0, len(conns))
	for _, c := range conns {
		stats := c.Stats()
		out = append(out, nodeView{
			ID:            c.Key(),
			Connected:     c.Connected(),
			Load:          stats.Load(),
			Players:       stats.Players,
			QueuedPackets: c.QueuedPackets(),
			State:         c.Health(),
			Health:        health[c.Key()],
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Nodes []nodeView `json:"nodes"`
	}{Nodes: out})
}

func (s *server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	players := s.pool.Players()
	out := make([]player.Info, 0, len(players))
	for _, pl := range players {
		out = append(out, pl.Snapshot())
	}

	writeJSON(w, http.StatusOK, struct {
		Players []player.Info `json:"players"`
	}{Players: out})
}

type playRequest struct {
	GuildID   snowflake.ID `json:"guild_id"`
	ChannelID snowflake.ID `json:"channel_id"`
	Query     string       `json:"query"`
	Source    string       `json:"source"`
}

// handlePlay joins the channel if needed, resolves the query and queues the
// result. Playback starts when the player is idle.
func (s *server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.GuildID == 0 || req.ChannelID == 0 || req.Query == "" {
		http.Error(w, "missing guild_id/channel_id/query", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), adminRequestTimeout)
	defer cancel()

	source := req.Source
	if source == "" {
		source = s.source
	}
	result, err := s.pool.LoadTracks(ctx, req.Query, source)
	if err != nil {
		http.Error(w, fmt.Sprintf("load tracks: %v", err), statusFor(err))
		return
	}
	tracks := pickTracks(result)
	if len(tracks) == 0 {
		http.Error(w, fmt.Sprintf("nothing found for %q", req.Query), http.StatusNotFound)
		return
	}

	pl, err := s.pool.CreateSession(coordinator.SessionOptions{
		GuildID:        req.GuildID,
		VoiceChannelID: req.ChannelID,
		SelfDeaf:       true,
	})
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	pl.Enqueue(tracks...)
	if pl.Status() != player.StatusPlaying && pl.Status() != player.StatusPaused {
		pl.Play(player.PlayOptions{})
	}
	s.logger.Info("queued tracks", "guild", req.GuildID, "count", len(tracks), "node", pl.NodeKey())

	writeJSON(w, http.StatusOK, pl.Snapshot())
}

// pickTracks keeps the whole list for playlists and the first hit otherwise.
func pickTracks(result *cluster.LoadResult) []*cluster.Track {
	if result == nil || len(result.Tracks) == 0 {
		return nil
	}
	switch result.LoadType {
	case cluster.LoadPlaylistLoaded:
		return result.Tracks
	case cluster.LoadTrackLoaded, cluster.LoadSearchResult:
		return result.Tracks[:1]
	default:
		return nil
	}
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		GuildID snowflake.ID `json:"guild_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	pl := s.pool.Player(req.GuildID)
	if pl == nil {
		http.Error(w, "no player for guild", http.StatusNotFound)
		return
	}
	pl.Destroy()
	w.WriteHeader(http.StatusNoContent)
}

// handlePending lists voice signals still waiting for a session.
func (s *server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.pool.PendingSignals())
}

func (s *server) handleRouteStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), adminRequestTimeout)
	defer cancel()

	status, err := s.pool.RoutePlannerStatus(ctx)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleRouteFree unmarks one address, or every address when none is given.
func (s *server) handleRouteFree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Address string `json:"address"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), adminRequestTimeout)
	defer cancel()

	var (
		freed bool
		err   error
	)
	if req.Address == "" {
		freed, err = s.pool.FreeAllAddresses(ctx)
	} else {
		freed, err = s.pool.FreeAddress(ctx, req.Address)
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Freed bool `json:"freed"`
	}{Freed: freed})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrNoNodes):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
