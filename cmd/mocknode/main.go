// Package main runs a standalone fake audio node for local development.
//
// It speaks the same WebSocket and REST protocol as a real node, answers
// play and stop with start and end events, and periodically reports
// stats so the pool's load balancing has something to work with.
//
// Configuration:
//   - MOCKNODE_LISTEN: Listen address (default: ":2333")
//   - MOCKNODE_PASSWORD: Authorization password (default: "youshallnotpass")
//   - MOCKNODE_TRACKS: YAML file of tracks served by loadtracks (optional)
//   - MOCKNODE_STATS_INTERVAL: Stats push interval (default: "60s")
//
// Example usage:
//
//	MOCKNODE_TRACKS=tracks.yaml ./mocknode
//
// with tracks.yaml:
//
//	tracks:
//	  - track: QAAAjQIAJVJpY2sgQXN0bGV5
//	    title: Never Gonna Give You Up
//	    author: Rick Astley
//	    uri: https://youtu.be/dQw4w9WgXcQ
//	    identifier: dQw4w9WgXcQ
//	    length: 212000
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/lavapool/internal/cluster"
	"github.com/dreamware/lavapool/internal/logging"
	"github.com/dreamware/lavapool/internal/mocknode"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = func(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

type seedTrack struct {
	Encoded    string `yaml:"track"`
	Title      string `yaml:"title"`
	Author     string `yaml:"author"`
	URI        string `yaml:"uri"`
	Identifier string `yaml:"identifier"`
	Length     int64  `yaml:"length"`
	Stream     bool   `yaml:"stream"`
}

type seedFile struct {
	Tracks []seedTrack `yaml:"tracks"`
}

func main() {
	listen := getenv("MOCKNODE_LISTEN", ":2333")
	password := getenv("MOCKNODE_PASSWORD", "youshallnotpass")

	logger := logging.New(os.Stdout, logging.ParseLevel(os.Getenv("LAVAPOOL_LOG_LEVEL")), false)
	slog.SetDefault(logger)

	interval, err := time.ParseDuration(getenv("MOCKNODE_STATS_INTERVAL", "60s"))
	if err != nil || interval <= 0 {
		logFatal("invalid MOCKNODE_STATS_INTERVAL", "value", os.Getenv("MOCKNODE_STATS_INTERVAL"))
		return
	}

	n := mocknode.New(password, logger)
	n.AutoEvents = true

	if path := os.Getenv("MOCKNODE_TRACKS"); path != "" {
		tracks, err := loadTracks(path)
		if err != nil {
			logFatal("load tracks", "error", err)
			return
		}
		for _, t := range tracks {
			n.AddTrack(t)
		}
		logger.Info("seeded tracks", "count", len(tracks))
	}

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("mocknode listening", "addr", listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go reportStats(ctx, n, interval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()

	n.Close(1001, "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info("mocknode stopped")
}

// loadTracks reads a seed file into tracks.
func loadTracks(path string) ([]*cluster.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]*cluster.Track, 0, len(file.Tracks))
	for i, s := range file.Tracks {
		if s.Encoded == "" {
			return nil, fmt.Errorf("track %d: missing encoded track", i)
		}
		out = append(out, &cluster.Track{
			Encoded: s.Encoded,
			Info: cluster.TrackInfo{
				Identifier: s.Identifier,
				IsSeekable: !s.Stream,
				Author:     s.Author,
				Length:     s.Length,
				IsStream:   s.Stream,
				Title:      s.Title,
				URI:        s.URI,
			},
		})
	}
	return out, nil
}

// reportStats pushes synthetic stats until ctx is done.
func reportStats(ctx context.Context, n *mocknode.Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.PushStats(syntheticStats(n, start)); err != nil {
				slog.Debug("push stats", "component", "mocknode", "error", err)
			}
		}
	}
}

func syntheticStats(n *mocknode.Node, start time.Time) cluster.NodeStats {
	clients := n.Clients()
	return cluster.NodeStats{
		Players:        clients,
		PlayingPlayers: clients,
		Uptime:         time.Since(start).Milliseconds(),
		CPU:            &cluster.CPUStats{Cores: 1, SystemLoad: 0.05, LavalinkLoad: 0.01},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
