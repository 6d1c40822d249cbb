// Package relay hosts world logs for peers: it assigns the log order,
// fans records and presence out over websockets and keeps a headless
// replica per world for snapshots.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"planetsync/config"
	"planetsync/core"
	"planetsync/editlog"
	"planetsync/gpu"
	"planetsync/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // peers connect from native clients, not browsers
	},
}

// FeedFactory returns the presence feed for a world
type FeedFactory func(world string) presence.Feed

// Options configures a Server
type Options struct {
	Settings config.Settings
	Store    editlog.Store
	Feeds    FeedFactory
	Logger   *log.Logger
}

// Server is the relay
type Server struct {
	settings config.Settings
	store    editlog.Store
	feeds    FeedFactory
	logger   *log.Logger
	router   chi.Router

	mu     sync.Mutex
	worlds map[string]*World
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Feeds == nil {
		opts.Feeds = func(string) presence.Feed { return presence.NewMemoryFeed() }
	}
	s := &Server{
		settings: opts.Settings,
		store:    opts.Store,
		feeds:    opts.Feeds,
		logger:   opts.Logger,
		worlds:   make(map[string]*World),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/worlds", s.handleCreateWorld)
	r.Route("/worlds/{id}", func(r chi.Router) {
		r.Get("/", s.handleWorldInfo)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/ws", s.handleWebSocket)
		r.Get("/debug/raster/{slot}", s.handleRasterExport)
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// World returns the live world, opening it from the store on first use
func (s *Server) World(ctx context.Context, id string) (*World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.worlds[id]; ok {
		return w, nil
	}
	w, err := openWorld(ctx, id, s.store, s.feeds(id), s.settings, s.logger)
	if err != nil {
		return nil, err
	}
	s.worlds[id] = w
	return w, nil
}

func (s *Server) liveWorlds() []*World {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*World, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, w)
	}
	return out
}

// Tick advances every live world's headless replica by one step
func (s *Server) Tick(ctx context.Context) {
	for _, w := range s.liveWorlds() {
		w.tick(ctx)
	}
}

// Run ticks at the configured replay rate until ctx is done
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.settings.Replay.TickInterval())
	defer ticker.Stop()

	status := time.NewTicker(time.Minute)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-status.C:
			for _, w := range s.liveWorlds() {
				s.logger.Printf("world %s: %d entries, replayed %d, %d peers",
					w.id, w.Length(), w.scheduler.Replayed(), w.subscribers())
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) worldOr404(w http.ResponseWriter, r *http.Request) (*World, bool) {
	world, err := s.World(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, editlog.ErrUnknownWorld) {
		http.Error(w, "unknown world", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Printf("open world: %v", err)
		http.Error(w, "world unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	return world, true
}

func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if err := s.store.CreateWorld(r.Context(), id); err != nil {
		s.logger.Printf("create world: %v", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	s.logger.Printf("world %s created", id)
	writeJSON(w, http.StatusCreated, core.WorldInfo{ID: id})
}

func (s *Server) handleWorldInfo(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, core.WorldInfo{ID: world.id, Length: world.Length()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldOr404(w, r)
	if !ok {
		return
	}
	snap, err := s.store.LoadSnapshot(r.Context(), world.id)
	if errors.Is(err, editlog.ErrNoSnapshot) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.logger.Printf("world %s: load snapshot: %v", world.id, err)
		http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
		return
	}
	data, err := editlog.EncodeSnapshot(snap)
	if err != nil {
		http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Snapshot-Count", strconv.FormatUint(snap.Count, 10))
	_, _ = w.Write(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldOr404(w, r)
	if !ok {
		return
	}
	peer := r.URL.Query().Get("peer")
	if peer == "" {
		peer = uuid.NewString()
	}
	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "bad from", http.StatusBadRequest)
			return
		}
		from = n
	}
	if from > world.Length() {
		http.Error(w, "from is past the end of the log", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Println("WebSocket upgrade error:", err)
		return
	}

	sub := newSubscriber(world, conn, peer, from, s.settings.Relay.SendQueue, s.settings.Relay.RecordsPerFrame)
	s.logger.Printf("world %s: peer %s joined from %d", world.id, peer, from)

	// the request context ends with the handler; presence cleanup must
	// still run after that
	ctx := context.WithoutCancel(r.Context())
	world.subscribe(ctx, sub)
	go sub.writePump()
	sub.readPump(ctx)

	sub.close()
	world.unsubscribe(ctx, sub)
	s.logger.Printf("world %s: peer %s left", world.id, peer)
}

func (s *Server) handleRasterExport(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldOr404(w, r)
	if !ok {
		return
	}
	slot, err := strconv.Atoi(strings.TrimSuffix(chi.URLParam(r, "slot"), ".png"))
	if err != nil {
		http.Error(w, "bad slot", http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	legend, err := world.scheduler.Raster().ExportSlot(&buf, slot)
	switch {
	case errors.Is(err, gpu.ErrApplyInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, gpu.ErrPrecisionUnsupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Raster-Legend", legend.String())
	_, _ = w.Write(buf.Bytes())
}
