// Package main runs the lavapool bot: a chat-platform gateway client whose
// voice channels are played through a pool of audio nodes.
//
// The process:
//   - Loads configuration from the environment, .env and the node list file
//   - Opens the gateway with the guild and voice state intents
//   - Relays voice state and voice server updates to the pool
//   - Starts the next queued track whenever one ends
//   - Serves a small admin API
//
// Architecture:
//
//	┌───────────────┐  voice events   ┌──────────────────┐  websocket  ┌────────┐
//	│    gateway    │────────────────►│ coordinator.Pool │────────────►│ node a │
//	│ (disgo bot)   │◄────────────────│                  │────────────►│ node b │
//	└───────────────┘  op 4 join/leave└──────────────────┘    REST     └────────┘
//	                                          ▲
//	                                          │ admin API
//	                         /health /nodes /players /players/play
//	                         /players/stop /voice/pending
//	                         /routeplanner/status /routeplanner/free
//
// Configuration:
//   - DISCORD_TOKEN: Bot token (required)
//   - LAVAPOOL_NODES: Node list file (default: "nodes.yaml")
//   - LAVAPOOL_ADMIN_ADDR: Admin listen address (default: ":8080")
//   - LAVAPOOL_SOURCE: Search prefix for plain queries (default: "yt")
//   - LAVAPOOL_LOG_LEVEL: debug, info, warn or error (default: "info")
//   - LAVAPOOL_HEALTH_INTERVAL: Node health check interval, 0 disables (default: "30s")
//   - LAVAPOOL_GUILD_ID: Only handle this guild (optional)
//
// Example usage:
//
//	DISCORD_TOKEN=... LAVAPOOL_NODES=nodes.yaml ./lavapool
//
//	curl -X POST localhost:8080/players/play \
//	  -d '{"guild_id":"1","channel_id":"2","query":"never gonna give you up"}'
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/gateway"

	"github.com/dreamware/lavapool/internal/config"
	"github.com/dreamware/lavapool/internal/coordinator"
	"github.com/dreamware/lavapool/internal/logging"
)

const clientName = "lavapool"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel), false)
	slog.SetDefault(logger)

	r := &relay{guildID: cfg.GuildID, logger: logger.With("component", "gateway")}

	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(gateway.IntentGuilds, gateway.IntentGuildVoiceStates),
		),
		bot.WithEventListenerFunc(r.onVoiceStateUpdate),
		bot.WithEventListenerFunc(r.onVoiceServerUpdate),
		bot.WithLogger(logger.With("component", "gateway")),
	)
	if err != nil {
		logger.Error("create gateway client", "error", err)
		os.Exit(1)
	}

	pool, err := coordinator.New(coordinator.Config{
		UserID:         client.ID(),
		Send:           gatewaySender(client),
		Nodes:          cfg.Nodes,
		ClientName:     clientName,
		DefaultSource:  cfg.Source,
		HealthInterval: cfg.HealthInterval,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("create pool", "error", err)
		os.Exit(1)
	}
	pool.AddListener(logEvent(logger.With("component", "pool")))
	pool.AddListener(advanceQueue(pool))
	r.pool = pool
	pool.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = client.OpenGateway(ctx)
	cancel()
	if err != nil {
		logger.Error("open gateway", "error", err)
		pool.Close()
		os.Exit(1)
	}

	srv := newServer(pool, cfg.Source, logger.With("component", "admin"))
	httpSrv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("admin api listening", "addr", cfg.AdminAddr, "nodes", len(cfg.Nodes))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	pool.Close()
	client.Close(ctx)
	logger.Info("lavapool stopped")
}
