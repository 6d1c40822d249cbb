package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"planetsync/config"
	"planetsync/core"
	"planetsync/discovery"
	"planetsync/editlog"
	"planetsync/presence"
	"planetsync/relay"
)

func main() {
	var (
		configPath = flag.String("config", "planetsync.json", "Settings file")
		addr       = flag.String("addr", "", "Listen address (overrides settings)")
		store      = flag.String("store", "", "Edit log store: memory, bolt, postgres")
		announce   = flag.Bool("announce", false, "Announce the relay over mDNS")
	)
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if *addr != "" {
		settings.Relay.Addr = *addr
	}
	if *store != "" {
		settings.Relay.Store = *store
	}
	if *announce {
		settings.Relay.Announce = true
	}
	if err := settings.Validate(); err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	fmt.Println("=== Planetsync Relay ===")
	fmt.Printf("Listen: %s\n", settings.Relay.Addr)
	fmt.Printf("Store: %s\n", settings.Relay.Store)
	fmt.Printf("Presence: %s\n", settings.Relay.Presence)
	fmt.Printf("Raster: %dx%d\n", settings.Raster.Width, settings.Raster.Height)
	fmt.Printf("Snapshot every %d entries\n", settings.Replay.SnapshotInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "[relay] ", log.LstdFlags)

	logStore, err := openStore(ctx, settings.Relay)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", settings.Relay.Store, err)
	}
	defer logStore.Close()

	feeds, closeFeeds, err := feedFactory(ctx, settings)
	if err != nil {
		log.Fatalf("Failed to set up %s presence: %v", settings.Relay.Presence, err)
	}
	defer closeFeeds()

	srv := relay.NewServer(relay.Options{
		Settings: settings,
		Store:    logStore,
		Feeds:    feeds,
		Logger:   logger,
	})
	go srv.Run(ctx)

	if settings.Relay.Announce {
		port, err := listenPort(settings.Relay.Addr)
		if err != nil {
			log.Fatalf("Cannot announce: %v", err)
		}
		ann, err := discovery.Announce(port, core.ProtocolVersion)
		if err != nil {
			log.Fatalf("Failed to announce relay: %v", err)
		}
		defer ann.Shutdown()
		logger.Printf("announced as %s on port %d", discovery.Service, port)
	}

	httpServer := &http.Server{
		Addr:              settings.Relay.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", settings.Relay.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	logger.Printf("shut down")
}

func openStore(ctx context.Context, r config.RelaySettings) (editlog.Store, error) {
	switch r.Store {
	case "memory":
		return editlog.NewMemoryStore(), nil
	case "bolt":
		return editlog.OpenBolt(r.BoltPath)
	case "postgres":
		if r.PostgresURL == "" {
			return nil, errors.New("postgres store needs postgresUrl or PLANETSYNC_DATABASE_URL")
		}
		return editlog.OpenPostgres(ctx, r.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store %q", r.Store)
	}
}

func feedFactory(ctx context.Context, settings config.Settings) (relay.FeedFactory, func(), error) {
	switch settings.Relay.Presence {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: settings.Relay.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", settings.Relay.RedisAddr, err)
		}
		ttl := settings.Presence.PresenceTTL()
		factory := func(world string) presence.Feed {
			return presence.NewRedisFeed(client, world, ttl)
		}
		return factory, func() { client.Close() }, nil
	default:
		factory := func(string) presence.Feed { return presence.NewMemoryFeed() }
		return factory, func() {}, nil
	}
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", addr, err)
	}
	return strconv.Atoi(portStr)
}
