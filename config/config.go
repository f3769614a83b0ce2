// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads voxstream settings from YAML.
//
// A document is first checked against an embedded JSON schema, then
// decoded over Default, so omitted keys keep their default values, and
// finally checked for combinations the schema cannot express.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/voxstream/chunk"
	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/scene"
)

// ErrInvalid wraps every schema and semantic validation failure.
var ErrInvalid = errors.New("config: invalid")

//go:embed schema.json
var schemaSource string

var schema = jsonschema.MustCompileString("voxstream.schema.json", schemaSource)

// Config is the full set of settings.
type Config struct {
	Cache   Cache   `yaml:"cache"`
	Chunk   Chunk   `yaml:"chunk"`
	Stream  Stream  `yaml:"stream"`
	Scene   Scene   `yaml:"scene"`
	Overlay Overlay `yaml:"overlay"`
	Log     Log     `yaml:"log"`
}

// Cache sizes the GPU cache.
type Cache struct {
	Label             string `yaml:"label"`
	Slots             int    `yaml:"slots"`
	SlotWords         int    `yaml:"slot_words"`
	GridExtent        int    `yaml:"grid_extent"`
	UploadsPerPrepare int    `yaml:"uploads_per_prepare"`
	LinearCacheWords  int64  `yaml:"linear_cache_words"`
}

// Chunk describes generated chunks.
type Chunk struct {
	Kind  string  `yaml:"kind"`
	Depth int     `yaml:"depth"`
	Size  float32 `yaml:"size"` // world units per chunk edge
}

// Stream tunes the per-frame loop.
type Stream struct {
	RequestsPerFrame int    `yaml:"requests_per_frame"`
	Eviction         string `yaml:"eviction"`
	FeedbackCapacity int    `yaml:"feedback_capacity"`
}

// Scene configures world generation.
type Scene struct {
	Workers    int    `yaml:"workers"`
	Seed       uint32 `yaml:"seed"`
	Base       int    `yaml:"base"`
	Amplitude  int    `yaml:"amplitude"`
	Wavelength int    `yaml:"wavelength"`
	SandLine   int    `yaml:"sand_line"`
	SnowLine   int    `yaml:"snow_line"`
}

// Overlay configures the diagnostics feed. An empty Addr disables it.
type Overlay struct {
	Addr     string        `yaml:"addr"`
	Interval time.Duration `yaml:"interval"`
}

// Log selects the log level.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	t := scene.DefaultTerrain(1)
	return Config{
		Cache: Cache{
			Label:      "voxstream",
			Slots:      gpucache.DefaultSlots,
			SlotWords:  gpucache.DefaultSlotWords,
			GridExtent: gpucache.DefaultGridExtent,
		},
		Chunk: Chunk{Kind: "octree", Depth: scene.DefaultDepth, Size: 16},
		Stream: Stream{
			RequestsPerFrame: 8,
			Eviction:         "lru",
			FeedbackCapacity: 1024,
		},
		Scene: Scene{
			Seed:       t.Seed,
			Base:       t.Base,
			Amplitude:  t.Amplitude,
			Wavelength: t.Wavelength,
			SandLine:   t.SandLine,
			SnowLine:   t.SnowLine,
		},
		Overlay: Overlay{Interval: 500 * time.Millisecond},
		Log:     Log{Level: "info"},
	}
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates a YAML document and decodes it over Default.
func Parse(raw []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if doc != nil {
		v, err := jsonValue(doc)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := schema.Validate(v); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// jsonValue converts a YAML tree into the types encoding/json produces,
// which is what the schema validator expects.
func jsonValue(doc any) (any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Validate checks combinations of settings. It is called by Parse and
// can be used on configurations built in code.
func (c Config) Validate() error {
	var errs []error
	kind, err := chunk.ParseKind(c.Chunk.Kind)
	if err != nil {
		errs = append(errs, err)
	} else if _, err := chunk.NewPayload(kind, c.Chunk.Depth); err != nil {
		errs = append(errs, err)
	}
	if c.Chunk.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk size %v must be positive", c.Chunk.Size))
	}
	if _, err := gpucache.PolicyFor(c.Stream.Eviction); err != nil {
		errs = append(errs, err)
	}
	if c.Stream.FeedbackCapacity < 1 {
		errs = append(errs, fmt.Errorf("feedback capacity %d must be positive", c.Stream.FeedbackCapacity))
	}
	if c.Cache.Slots < 1 || c.Cache.SlotWords < 1 {
		errs = append(errs, fmt.Errorf("cache needs at least one slot of one word, have %d x %d", c.Cache.Slots, c.Cache.SlotWords))
	}
	if c.Cache.GridExtent < 1 || c.Cache.GridExtent > chunk.GridSide {
		errs = append(errs, fmt.Errorf("grid extent %d outside [1,%d]", c.Cache.GridExtent, chunk.GridSide))
	}
	if c.Overlay.Addr != "" && c.Overlay.Interval <= 0 {
		errs = append(errs, fmt.Errorf("overlay interval %v must be positive", c.Overlay.Interval))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// CacheConfig returns the gpucache settings.
func (c Config) CacheConfig() gpucache.Config {
	return gpucache.Config{
		Label:             c.Cache.Label,
		Slots:             c.Cache.Slots,
		SlotWords:         c.Cache.SlotWords,
		GridExtent:        c.Cache.GridExtent,
		UploadsPerPrepare: c.Cache.UploadsPerPrepare,
		LinearCacheWords:  c.Cache.LinearCacheWords,
	}
}

// StoreOptions returns the scene store settings.
func (c Config) StoreOptions() (scene.StoreOptions, error) {
	kind, err := chunk.ParseKind(c.Chunk.Kind)
	if err != nil {
		return scene.StoreOptions{}, err
	}
	return scene.StoreOptions{Kind: kind, Depth: c.Chunk.Depth, Workers: c.Scene.Workers}, nil
}

// Terrain returns the configured generator.
func (c Config) Terrain() scene.Terrain {
	return scene.Terrain{
		Seed:       c.Scene.Seed,
		Base:       c.Scene.Base,
		Amplitude:  c.Scene.Amplitude,
		Wavelength: c.Scene.Wavelength,
		SandLine:   c.Scene.SandLine,
		SnowLine:   c.Scene.SnowLine,
	}
}

// Policy returns the eviction policy, nil for "none".
func (c Config) Policy() (gpucache.EvictionPolicy, error) {
	return gpucache.PolicyFor(c.Stream.Eviction)
}

// LogLevel parses Log.Level. An empty level is info.
func (c Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}
