// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package voxstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/voxstream/chunk"
	"github.com/gogpu/voxstream/config"
	"github.com/gogpu/voxstream/feedback"
	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/overlay"
	"github.com/gogpu/voxstream/scene"
	"github.com/gogpu/voxstream/stream"
)

// Engine owns the cache, the feedback buffers, the scene and the
// streamer for one device.
//
// Per frame the host:
//  1. dispatches the traversal pass with BindGroupEntries bound;
//  2. records RecordFeedbackCopy after the dispatch and submits;
//  3. waits for the submission, then calls Frame.
//
// Frame must run on the thread that owns the device.
type Engine struct {
	cfg      config.Config
	cache    *gpucache.Manager
	reader   *feedback.Reader
	store    *scene.Store
	streamer *stream.Streamer
	hub      *overlay.Hub

	frames      uint64
	lastPublish time.Time
}

// New builds an engine on device and queue.
func New(device hal.Device, queue hal.Queue, cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := gpucache.New(device, queue, cfg.CacheConfig())
	if err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, cache: cache}

	e.reader, err = feedback.NewReader(device, queue, cfg.Cache.Label, cfg.Stream.FeedbackCapacity)
	if err != nil {
		e.Close()
		return nil, err
	}
	opts, err := cfg.StoreOptions()
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store, err = scene.NewStore(cfg.Terrain(), opts)
	if err != nil {
		e.Close()
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		e.Close()
		return nil, err
	}
	e.streamer, err = stream.New(cache, e.store, nil, stream.Options{
		ChunkSize:        cfg.Chunk.Size,
		RequestsPerFrame: cfg.Stream.RequestsPerFrame,
		Policy:           policy,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	if cfg.Overlay.Addr != "" {
		e.hub = overlay.NewHub(overlay.Options{})
	}

	Logger().Info("voxstream: engine started",
		"slots", cfg.Cache.Slots,
		"grid_extent", cfg.Cache.GridExtent,
		"chunk_kind", cfg.Chunk.Kind,
		"chunk_depth", cfg.Chunk.Depth,
		"eviction", cfg.Stream.Eviction)
	return e, nil
}

// NewFromProvider builds an engine on a host application's device.
func NewFromProvider(p gpucontext.DeviceProvider, cfg config.Config) (*Engine, error) {
	if p == nil {
		return nil, gpucache.ErrNoDevice
	}
	device, ok := p.Device().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: provider device is %T", gpucache.ErrNoDevice, p.Device())
	}
	queue, ok := p.Queue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: provider queue is %T", gpucache.ErrNoDevice, p.Queue())
	}
	return New(device, queue, cfg)
}

// Config returns the engine configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Cache returns the GPU cache.
func (e *Engine) Cache() *gpucache.Manager { return e.cache }

// Feedback returns the feedback reader.
func (e *Engine) Feedback() *feedback.Reader { return e.reader }

// Store returns the scene store.
func (e *Engine) Store() *scene.Store { return e.store }

// Streamer returns the streamer.
func (e *Engine) Streamer() *stream.Streamer { return e.streamer }

// Hub returns the overlay hub, or nil when the overlay is disabled.
func (e *Engine) Hub() *overlay.Hub { return e.hub }

// BindGroupLayoutEntries describes the traversal bind group.
func (e *Engine) BindGroupLayoutEntries() []gputypes.BindGroupLayoutEntry {
	return gpucache.BindGroupLayoutEntries()
}

// BindGroupEntries binds the cache buffers and the feedback buffer.
func (e *Engine) BindGroupEntries() []gputypes.BindGroupEntry {
	return e.cache.BindGroupEntries(e.reader.Buffer())
}

// RecordFeedbackCopy records the feedback readback copy into enc.
func (e *Engine) RecordFeedbackCopy(enc hal.CommandEncoder) {
	e.reader.RecordCopy(enc)
}

// Frame reads the feedback of the completed frame, streams the missing
// chunks in and clears the feedback counter for the next dispatch.
func (e *Engine) Frame() (stream.Report, error) {
	res, err := e.reader.Read()
	if err != nil {
		return stream.Report{}, err
	}
	report, ferr := e.streamer.Frame(res.Positions)
	if err := e.reader.Reset(); err != nil {
		return report, errors.Join(ferr, err)
	}
	e.frames++
	e.publish(report)
	return report, ferr
}

// publish sends a snapshot to the overlay at most once per interval.
func (e *Engine) publish(r stream.Report) {
	if e.hub == nil {
		return
	}
	now := time.Now()
	if !e.lastPublish.IsZero() && now.Sub(e.lastPublish) < e.cfg.Overlay.Interval {
		return
	}
	e.lastPublish = now
	if err := e.hub.Publish(e.Snapshot(r)); err != nil {
		Logger().Warn("voxstream: overlay publish failed", "err", err)
	}
}

// Snapshot captures the current cache state together with r.
func (e *Engine) Snapshot(r stream.Report) overlay.Snapshot {
	return overlay.Snapshot{
		Frame:  e.frames,
		Time:   time.Now(),
		Cache:  e.cache.Stats(),
		Stream: r,
		Slots:  e.cache.Slots(),
	}
}

// Warm generates every chunk within radius of center and queues the
// non-empty ones, so the next frames upload them without waiting for
// GPU misses. Coordinates outside the cache grid are skipped.
func (e *Engine) Warm(ctx context.Context, center chunk.Coord, radius int) error {
	cx, cy, cz := center.Unpack()
	ext := e.cfg.Cache.GridExtent
	var coords []chunk.Coord
	for z := max(cz-radius, 0); z <= min(cz+radius, ext-1); z++ {
		for y := max(cy-radius, 0); y <= min(cy+radius, ext-1); y++ {
			for x := max(cx-radius, 0); x <= min(cx+radius, ext-1); x++ {
				coords = append(coords, chunk.MustPack(x, y, z))
			}
		}
	}
	chunks, err := e.store.GenerateAll(ctx, coords)
	queued := 0
	for _, c := range chunks {
		if c != nil && e.streamer.Queue().Push(c.Coord()) {
			queued++
		}
	}
	Logger().Debug("voxstream: warmed", "center", center.String(), "radius", radius, "queued", queued)
	return err
}

// Serve runs the overlay server until ctx is cancelled. It returns nil
// immediately when the overlay is disabled.
func (e *Engine) Serve(ctx context.Context) error {
	if e.hub == nil {
		return nil
	}
	return e.hub.Serve(ctx, e.cfg.Overlay.Addr)
}

// Close releases GPU buffers and stops background workers.
func (e *Engine) Close() {
	if e.hub != nil {
		e.hub.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
	if e.reader != nil {
		e.reader.Close()
	}
	e.cache.Close()
}
