package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Settings struct {
	Raster    RasterSettings    `json:"raster"`
	Replay    ReplaySettings    `json:"replay"`
	Projector ProjectorSettings `json:"projector"`
	Presence  PresenceSettings  `json:"presence"`
	Relay     RelaySettings     `json:"relay"`
	Client    ClientSettings    `json:"client"`
}

type RasterSettings struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	MaxHeight     float32 `json:"maxHeight"`
	InitialHeight float32 `json:"initialHeight"`
	BrushRadius   float64 `json:"brushRadius"`
	StrengthScale float64 `json:"strengthScale"`
	WrapU         bool    `json:"wrapU"`
	Workers       int     `json:"workers"`
}

type ReplaySettings struct {
	BatchSize        int `json:"batchSize"`
	TickRate         int `json:"tickRate"`
	SnapshotInterval int `json:"snapshotInterval"`
}

type ProjectorSettings struct {
	PlanetRadius  float32 `json:"planetRadius"`
	HeightScale   float32 `json:"heightScale"`
	BaseStrength  float64 `json:"baseStrength"`
	MeshSegments  int     `json:"meshSegments"`
	MeshRings     int     `json:"meshRings"`
	DisplaceEvery int     `json:"displaceEvery"`
}

type PresenceSettings struct {
	TTLMs       int     `json:"ttlMs"`
	MoveEpsilon float32 `json:"moveEpsilon"`
	LiftOffset  float32 `json:"liftOffset"`
}

type RelaySettings struct {
	Addr            string `json:"addr"`
	Store           string `json:"store"` // memory, bolt, postgres
	BoltPath        string `json:"boltPath"`
	PostgresURL     string `json:"postgresUrl"`
	Presence        string `json:"presence"` // memory, redis
	RedisAddr       string `json:"redisAddr"`
	Announce        bool   `json:"announce"`
	SendQueue       int    `json:"sendQueue"`
	RecordsPerFrame int    `json:"recordsPerFrame"`
}

type ClientSettings struct {
	RelayURL string `json:"relayUrl"`
	World    string `json:"world"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Discover bool   `json:"discover"`
}

// PresenceTTL returns the presence eviction window
func (p PresenceSettings) PresenceTTL() time.Duration {
	return time.Duration(p.TTLMs) * time.Millisecond
}

// TickInterval returns the duration of one scheduling tick
func (r ReplaySettings) TickInterval() time.Duration {
	if r.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(r.TickRate)
}

// Default returns the settings used when no file is present
func Default() Settings {
	return Settings{
		Raster: RasterSettings{
			Width:         1024,
			Height:        1024,
			MaxHeight:     1.0,
			InitialHeight: 0.5,
			BrushRadius:   0.01,
			StrengthScale: 0.1,
			WrapU:         true,
		},
		Replay: ReplaySettings{
			BatchSize:        5,
			TickRate:         60,
			SnapshotInterval: 500,
		},
		Projector: ProjectorSettings{
			PlanetRadius:  1.0,
			HeightScale:   0.1,
			BaseStrength:  1.0,
			MeshSegments:  128,
			MeshRings:     64,
			DisplaceEvery: 30,
		},
		Presence: PresenceSettings{
			TTLMs:       30000,
			MoveEpsilon: 0.001,
			LiftOffset:  0.01,
		},
		Relay: RelaySettings{
			Addr:            ":8080",
			Store:           "bolt",
			BoltPath:        "planetsync.db",
			Presence:        "memory",
			RedisAddr:       "localhost:6379",
			SendQueue:       256,
			RecordsPerFrame: 256,
		},
		Client: ClientSettings{
			RelayURL: "http://localhost:8080",
			Width:    1280,
			Height:   720,
		},
	}
}

// Load reads settings from path on top of the defaults.
// A missing file is not an error.
func Load(path string) (Settings, error) {
	settings := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return settings, err
		default:
			defer file.Close()
			decoder := json.NewDecoder(file)
			if err := decoder.Decode(&settings); err != nil {
				return settings, fmt.Errorf("error parsing %s: %w", path, err)
			}
		}
	}

	if err := settings.applyEnv(os.Getenv); err != nil {
		return settings, err
	}
	return settings, settings.Validate()
}

// applyEnv overrides selected fields from PLANETSYNC_* variables
func (s *Settings) applyEnv(getenv func(string) string) error {
	if v := getenv("PLANETSYNC_RELAY_ADDR"); v != "" {
		s.Relay.Addr = v
	}
	if v := getenv("PLANETSYNC_STORE"); v != "" {
		s.Relay.Store = v
	}
	if v := getenv("PLANETSYNC_BOLT_PATH"); v != "" {
		s.Relay.BoltPath = v
	}
	if v := getenv("PLANETSYNC_DATABASE_URL"); v != "" {
		s.Relay.PostgresURL = v
	}
	if v := getenv("PLANETSYNC_PRESENCE"); v != "" {
		s.Relay.Presence = v
	}
	if v := getenv("PLANETSYNC_REDIS_ADDR"); v != "" {
		s.Relay.RedisAddr = v
	}
	if v := getenv("PLANETSYNC_RELAY_URL"); v != "" {
		s.Client.RelayURL = v
	}
	if v := getenv("PLANETSYNC_WORLD"); v != "" {
		s.Client.World = v
	}
	if v := getenv("PLANETSYNC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PLANETSYNC_BATCH_SIZE=%q: %w", v, err)
		}
		s.Replay.BatchSize = n
	}
	return nil
}

// Validate rejects settings the engine cannot run with
func (s Settings) Validate() error {
	if s.Raster.Width <= 0 || s.Raster.Height <= 0 {
		return fmt.Errorf("raster size must be positive, got %dx%d", s.Raster.Width, s.Raster.Height)
	}
	if s.Raster.MaxHeight <= 0 {
		return fmt.Errorf("raster maxHeight must be positive, got %f", s.Raster.MaxHeight)
	}
	if s.Raster.InitialHeight < 0 || s.Raster.InitialHeight > s.Raster.MaxHeight {
		return fmt.Errorf("raster initialHeight %f outside [0, %f]", s.Raster.InitialHeight, s.Raster.MaxHeight)
	}
	if s.Raster.BrushRadius <= 0 {
		return fmt.Errorf("raster brushRadius must be positive, got %f", s.Raster.BrushRadius)
	}
	if s.Replay.BatchSize <= 0 {
		return fmt.Errorf("replay batchSize must be positive, got %d", s.Replay.BatchSize)
	}
	switch s.Relay.Store {
	case "memory", "bolt", "postgres":
	default:
		return fmt.Errorf("unknown relay store %q", s.Relay.Store)
	}
	switch s.Relay.Presence {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown relay presence backend %q", s.Relay.Presence)
	}
	return nil
}
