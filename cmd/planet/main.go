package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"planetsync/config"
	"planetsync/discovery"
	"planetsync/session"
)

func main() {
	runtime.LockOSThread()

	var (
		configPath = flag.String("config", "planetsync.json", "Settings file")
		relayURL   = flag.String("relay", "", "Relay base URL (overrides settings)")
		world      = flag.String("world", "", "World id to join; empty creates a new world")
		discover   = flag.Bool("discover", false, "Find a relay over mDNS")
		width      = flag.Int("width", 0, "Window width")
		height     = flag.Int("height", 0, "Window height")
		dumpDir    = flag.String("dump", "raster-dump", "Directory for F12 raster exports")
	)
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if *relayURL != "" {
		settings.Client.RelayURL = *relayURL
	}
	if *world != "" {
		settings.Client.World = *world
	}
	if *discover {
		settings.Client.Discover = true
	}
	if *width > 0 {
		settings.Client.Width = *width
	}
	if *height > 0 {
		settings.Client.Height = *height
	}

	logger := log.New(os.Stderr, "[planet] ", log.LstdFlags)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if settings.Client.Discover {
		browseCtx, stop := context.WithTimeout(ctx, 3*time.Second)
		found, err := discovery.First(browseCtx)
		stop()
		if err != nil {
			logger.Printf("no relay announced, using %s: %v", settings.Client.RelayURL, err)
		} else {
			settings.Client.RelayURL = found.URL()
		}
	}

	fmt.Println("=== Planetsync Client ===")
	fmt.Printf("Relay: %s\n", settings.Client.RelayURL)
	fmt.Printf("Raster: %dx%d\n", settings.Raster.Width, settings.Raster.Height)
	fmt.Printf("Replay batch: %d entries/tick at %d Hz\n", settings.Replay.BatchSize, settings.Replay.TickRate)
	fmt.Printf("Window: %dx%d\n", settings.Client.Width, settings.Client.Height)

	s, err := join(ctx, settings, logger)
	if err != nil {
		log.Fatalf("Failed to join world: %v", err)
	}
	defer s.Close()
	fmt.Printf("World: %s\n", s.World())
	fmt.Printf("Peer: %s\n", s.Peer())

	rl.InitWindow(int32(settings.Client.Width), int32(settings.Client.Height), "planetsync - "+s.World())
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(settings.Replay.TickRate))
	rl.DisableBackfaceCulling()

	r := newRenderer(settings)
	orbit := newOrbit(settings.Projector.PlanetRadius)
	status := ""

	for !rl.WindowShouldClose() {
		orbit.update()
		cam := orbit.projectorCamera(rl.GetScreenWidth(), rl.GetScreenHeight())

		res, err := s.Frame(ctx, readInput(), cam)
		if err != nil {
			logger.Printf("frame: %v", err)
		}

		if rl.IsKeyPressed(rl.KeyF12) {
			dir := fmt.Sprintf("%s/%s", *dumpDir, time.Now().Format("20060102-150405"))
			legends, err := s.Export(dir)
			if err != nil {
				status = fmt.Sprintf("export failed: %v", err)
			} else {
				status = fmt.Sprintf("exported %d slots to %s", len(legends), dir)
				for _, l := range legends {
					logger.Print(l.String())
				}
			}
		}

		rl.BeginDrawing()
		rl.ClearBackground(rl.NewColor(12, 14, 22, 255))

		rl.BeginMode3D(orbit.camera)
		r.drawPlanet(s.Mesh().Data(), s.Raster().Active())
		r.drawCursors(res.Cursors)
		if res.Hovering {
			r.drawHover(res.Hover, s.Color())
		}
		rl.EndMode3D()

		if view, err := s.Preview(); err == nil {
			r.drawMinimap(view)
		}
		r.drawStatus(res, s.Scheduler().Pending().Len(), status)

		rl.EndDrawing()
	}
}

// join dials the configured world, creating one when none is named or the
// named one is unknown to the relay
func join(ctx context.Context, settings config.Settings, logger *log.Logger) (*session.Session, error) {
	cfg := session.Config{
		RelayURL: settings.Client.RelayURL,
		World:    settings.Client.World,
		Settings: settings,
		Logger:   logger,
		OnComplete: func() {
			logger.Printf("caught up")
		},
	}

	if cfg.World != "" {
		s, err := session.Dial(ctx, cfg)
		if !errors.Is(err, session.ErrWorldUnavailable) {
			return s, err
		}
		logger.Printf("world %s unavailable, creating a new one", cfg.World)
	}

	info, err := session.CreateWorld(ctx, nil, cfg.RelayURL)
	if err != nil {
		return nil, err
	}
	cfg.World = info.ID
	return session.Dial(ctx, cfg)
}
