// Package session runs one client's view of a world: every frame it turns
// pointer input into appends, replays the log into the raster and shares
// the cursor with the other peers.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"planetsync/config"
	"planetsync/core"
	"planetsync/editlog"
	"planetsync/gpu"
	"planetsync/presence"
	"planetsync/projector"
	"planetsync/simulation"
)

// ErrWorldUnavailable means the relay does not know the requested world
var ErrWorldUnavailable = errors.New("session: world unavailable")

const sweepInterval = time.Second

// Transport carries a session's traffic to and from the relay
type Transport interface {
	editlog.Sender
	presence.Sender
	Messages() <-chan core.Message
	Resync()
	Close() error
}

// Config describes which world to join and how
type Config struct {
	RelayURL   string
	World      string
	Peer       string // generated when empty
	// JoinLength is the world's log length when joining; the one-shot
	// completion fires once that much history has been replayed
	JoinLength uint64
	Settings   config.Settings
	Logger     *log.Logger
	HTTPClient *http.Client
	OnProgress func(percent float64)
	OnComplete func()
}

// FrameResult is what one Frame did, for the caller to draw
type FrameResult struct {
	Hover    projector.Hit
	Hovering bool
	Appended int
	Tick     simulation.TickResult
	Cursors  []presence.Indicator
}

// Session is a joined world
type Session struct {
	world  string
	peer   string
	logger *log.Logger

	log         *editlog.RemoteLog
	scheduler   *simulation.Scheduler
	projector   *projector.Projector
	mesh        *projector.Mesh
	broadcaster *presence.Broadcaster
	reader      *presence.Reader
	feed        *presence.RemoteFeed
	transport   Transport

	heightScale   float32
	displaceEvery uint64
	displacedAt   uint64
	lastSweep     time.Time
}

// Dial joins world on the relay: it restores the relay's latest snapshot
// when there is one and then streams the rest of the log
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Peer == "" {
		cfg.Peer = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	info, err := fetchWorld(ctx, cfg.HTTPClient, cfg.RelayURL, cfg.World)
	if err != nil {
		return nil, err
	}
	snap, err := fetchSnapshot(ctx, cfg.HTTPClient, cfg.RelayURL, cfg.World)
	if err != nil {
		cfg.Logger.Printf("no snapshot for %s, replaying from 0: %v", cfg.World, err)
	}
	cfg.Logger.Printf("joining %s: %d entries, snapshot at %d", info.ID, info.Length, snap.Count)

	if snap.Width != cfg.Settings.Raster.Width || snap.Height != cfg.Settings.Raster.Height {
		snap = editlog.Snapshot{}
	}
	cfg.JoinLength = max(cfg.JoinLength, info.Length)

	var replica atomic.Pointer[editlog.RemoteLog]
	from := func() uint64 {
		if l := replica.Load(); l != nil {
			return uint64(l.Length())
		}
		return snap.Count
	}
	link, err := DialLink(ctx, cfg.RelayURL, cfg.World, cfg.Peer, from, cfg.Logger)
	if err != nil {
		return nil, err
	}
	s, err := New(cfg, link, snap)
	if err != nil {
		link.Close()
		return nil, err
	}
	replica.Store(s.log)
	return s, nil
}

// New assembles a session over an established transport. snap may be the
// zero Snapshot to replay from index 0.
func New(cfg Config, transport Transport, snap editlog.Snapshot) (*Session, error) {
	if cfg.Peer == "" {
		cfg.Peer = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	settings := cfg.Settings

	raster, err := gpu.NewRasterFromSettings(settings.Raster)
	if err != nil {
		return nil, err
	}

	opts := simulation.Options{
		BatchSize:    settings.Replay.BatchSize,
		Origin:       cfg.Peer,
		AttachLength: int(cfg.JoinLength),
		Logger:       cfg.Logger,
		OnProgress:   cfg.OnProgress,
		OnComplete:   cfg.OnComplete,
	}
	if snap.Width != raster.Width() || snap.Height != raster.Height() {
		if snap.Count > 0 {
			cfg.Logger.Printf("snapshot is %dx%d, raster is %dx%d; replaying from 0",
				snap.Width, snap.Height, raster.Width(), raster.Height())
		}
		snap = editlog.Snapshot{}
	}
	remote := editlog.NewRemoteLog(snap.Count, transport)

	var scheduler *simulation.Scheduler
	if snap.Count > 0 {
		scheduler, err = simulation.Restore(remote, raster, snap, opts)
		if err != nil {
			return nil, err
		}
	} else {
		scheduler = simulation.NewScheduler(remote, raster, opts)
	}

	ps := settings.Projector
	mesh := projector.NewMesh(ps.PlanetRadius, ps.MeshSegments, ps.MeshRings)
	mesh.Displace(raster.Active(), ps.HeightScale)

	feed := presence.NewRemoteFeed(transport)
	broadcaster := presence.NewBroadcaster(feed, cfg.Peer, settings.Presence.MoveEpsilon, settings.Presence.LiftOffset)
	broadcaster.KeepAlive(settings.Presence.PresenceTTL() / 2)
	return &Session{
		world:         cfg.World,
		peer:          cfg.Peer,
		logger:        cfg.Logger,
		log:           remote,
		scheduler:     scheduler,
		projector:     projector.New(mesh, ps.BaseStrength),
		mesh:          mesh,
		broadcaster:   broadcaster,
		reader:        presence.NewReader(feed, cfg.Peer, settings.Presence.PresenceTTL()),
		feed:          feed,
		transport:     transport,
		heightScale:   ps.HeightScale,
		displaceEvery: uint64(max(ps.DisplaceEvery, 1)),
	}, nil
}

func (s *Session) Peer() string                     { return s.peer }
func (s *Session) World() string                    { return s.world }
func (s *Session) Scheduler() *simulation.Scheduler { return s.scheduler }
func (s *Session) Raster() *gpu.RasterStore         { return s.scheduler.Raster() }
func (s *Session) Mesh() *projector.Mesh            { return s.mesh }
func (s *Session) Color() core.ColorRGB             { return s.broadcaster.Color() }

// Preview is the raster to draw: authoritative state plus unconfirmed
// local edits
func (s *Session) Preview() (gpu.View, error) {
	return s.scheduler.Preview()
}

// Frame runs one scheduling step. Call it once per rendered frame from the
// render goroutine; it never blocks on the network.
func (s *Session) Frame(ctx context.Context, in projector.Input, cam projector.Camera) (FrameResult, error) {
	var res FrameResult
	s.drain()

	res.Hover, res.Hovering = s.projector.Frame(in, cam)

	pending := s.scheduler.Pending()
	for _, entry := range s.projector.Flush() {
		rec := pending.Issue(entry)
		if err := s.log.Append(ctx, rec); err != nil {
			pending.Drop(rec)
			s.logger.Printf("append dropped: %v", err)
			continue
		}
		res.Appended++
	}

	res.Tick = s.scheduler.Tick()

	if gen := s.Raster().Generation(); gen >= s.displacedAt+s.displaceEvery || (res.Tick.Completed && gen != s.displacedAt) {
		s.mesh.Displace(s.Raster().Active(), s.heightScale)
		s.displacedAt = gen
	}

	position, normal := projector.HoverOf(res.Hover)
	if _, err := s.broadcaster.Observe(ctx, presence.Hover{Position: position, Normal: normal}, res.Hovering); err != nil {
		s.logger.Printf("presence publish: %v", err)
	}

	if now := time.Now(); now.Sub(s.lastSweep) >= sweepInterval {
		s.lastSweep = now
		if _, err := s.reader.Sweep(ctx); err != nil {
			s.logger.Printf("presence sweep: %v", err)
		}
	}
	cursors, err := s.reader.Frame(ctx)
	if err != nil {
		return res, fmt.Errorf("presence frame: %w", err)
	}
	res.Cursors = cursors
	return res, res.Tick.Err
}

// drain applies everything the relay has sent since the last frame
func (s *Session) drain() {
	for {
		select {
		case msg, ok := <-s.transport.Messages():
			if !ok {
				return
			}
			s.handle(msg)
		default:
			return
		}
	}
}

func (s *Session) handle(msg core.Message) {
	switch msg.Type {
	case core.MsgRecords:
		if _, err := s.log.Ingest(msg.Records); err != nil {
			s.logger.Printf("record stream: %v; resyncing", err)
			s.transport.Resync()
		}
	case core.MsgPresence:
		if msg.Presence != nil && msg.Presence.Peer != s.peer {
			s.feed.Apply(*msg.Presence)
		}
	case core.MsgPresenceSnapshot:
		s.feed.Replace(msg.Cursors)
	case core.MsgPresenceLeave:
		s.feed.Leave(msg.Peer)
	case core.MsgError:
		s.logger.Printf("relay error: %s", msg.Error)
	}
}

// Export dumps both raster slots into dir for inspection
func (s *Session) Export(dir string) ([]gpu.Legend, error) {
	return s.Raster().ExportDir(dir)
}

func (s *Session) Close() error {
	return s.transport.Close()
}

func fetchWorld(ctx context.Context, client *http.Client, relayURL, world string) (core.WorldInfo, error) {
	var info core.WorldInfo
	resp, err := get(ctx, client, relayURL, "/worlds/"+url.PathEscape(world))
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return info, fmt.Errorf("%w: %s", ErrWorldUnavailable, world)
	}
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("world %s: relay answered %s", world, resp.Status)
	}
	if err := decodeJSON(resp.Body, &info); err != nil {
		return info, err
	}
	return info, nil
}

func fetchSnapshot(ctx context.Context, client *http.Client, relayURL, world string) (editlog.Snapshot, error) {
	resp, err := get(ctx, client, relayURL, "/worlds/"+url.PathEscape(world)+"/snapshot")
	if err != nil {
		return editlog.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return editlog.Snapshot{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return editlog.Snapshot{}, fmt.Errorf("snapshot %s: relay answered %s", world, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return editlog.Snapshot{}, err
	}
	return editlog.DecodeSnapshot(data)
}

func get(ctx context.Context, client *http.Client, relayURL, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relayURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorldUnavailable, err)
	}
	return resp, nil
}
