// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command voxstream drives the chunk streaming loop on the noop GPU
// backend. A simulated camera flies over generated terrain; the host
// stands in for the traversal pass and reports every sample that lands
// in a chunk without a resident slot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/voxstream"
	"github.com/gogpu/voxstream/chunk"
	"github.com/gogpu/voxstream/config"
	"github.com/gogpu/voxstream/debugview"
	"github.com/gogpu/voxstream/feedback"
	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/stream"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML configuration file")
		frames  = flag.Int("frames", 120, "frames to run")
		speed   = flag.Float64("speed", 2, "camera speed in world units per frame")
		addr    = flag.String("overlay", "", "serve the diagnostics overlay on this address")
		outDir  = flag.String("out", "", "write debug PNGs into this directory")
	)
	flag.Parse()

	if err := run(*cfgPath, *frames, float32(*speed), *addr, *outDir); err != nil {
		log.Fatal(err)
	}
}

func run(cfgPath string, frames int, speed float32, addr, outDir string) error {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
	}
	if addr != "" {
		cfg.Overlay.Addr = addr
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	voxstream.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	device, queue, cleanup, err := openNoop()
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := voxstream.New(device, queue, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if eng.Hub() != nil {
		go func() {
			if err := eng.Serve(ctx); err != nil {
				voxstream.Logger().Error("overlay stopped", "err", err)
			}
		}()
	}

	cam := camera{pos: mgl32.Vec3{8, 40, 8}, dir: mgl32.Vec3{1, -0.35, 0.4}.Normalize()}
	start, _ := chunk.FromWorld(cam.pos, cfg.Chunk.Size)
	if err := eng.Warm(ctx, start, 1); err != nil {
		return err
	}

	var pace <-chan time.Time
	if eng.Hub() != nil {
		t := time.NewTicker(16 * time.Millisecond)
		defer t.Stop()
		pace = t.C
	}

	var total stream.Report
	for f := 0; f < frames; f++ {
		if err := submitFrame(device, queue, eng, cam); err != nil {
			return err
		}
		r, err := eng.Frame()
		if err != nil && !errors.Is(err, gpucache.ErrChunkTooLarge) {
			return err
		}
		total = accumulate(total, r)
		cam.advance(speed, cfg)

		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return nil
		}
	}

	st := eng.Cache().Stats()
	voxstream.Logger().Info("run finished",
		"frames", frames,
		"requested", total.Requested,
		"evicted", total.Evicted,
		"deferred", total.Deferred,
		"empty", total.Empty,
		"resident", st.Resident,
		"uploads", st.Uploads,
		"bytes", st.BytesUploaded)

	if outDir != "" {
		return writeImages(outDir, eng)
	}
	return nil
}

func openNoop() (hal.Device, hal.Queue, func(), error) {
	inst, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		return nil, nil, nil, err
	}
	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		inst.Destroy()
		return nil, nil, nil, errors.New("noop backend exposes no adapters")
	}
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		inst.Destroy()
		return nil, nil, nil, err
	}
	return open.Device, open.Queue, func() {
		open.Device.Destroy()
		inst.Destroy()
	}, nil
}

// camera samples a fan of points ahead of pos.
type camera struct {
	pos mgl32.Vec3
	dir mgl32.Vec3
}

func (c *camera) advance(speed float32, cfg config.Config) {
	c.pos = c.pos.Add(mgl32.Vec3{c.dir.X(), 0, c.dir.Z()}.Mul(speed))
	// Wrap inside the lookup grid so the flight never leaves the cache.
	limit := float32(cfg.Cache.GridExtent) * cfg.Chunk.Size
	for i := 0; i < 3; i += 2 {
		if c.pos[i] >= limit {
			c.pos[i] -= limit
		}
	}
}

func (c *camera) samples(size float32) []mgl32.Vec3 {
	right := c.dir.Cross(mgl32.Vec3{0, 1, 0}).Normalize()
	var out []mgl32.Vec3
	for step := 1; step <= 6; step++ {
		d := float32(step) * size
		for lat := -2; lat <= 2; lat++ {
			p := c.pos.Add(c.dir.Mul(d)).Add(right.Mul(float32(lat) * size))
			for y := float32(0); y <= c.pos.Y(); y += size {
				out = append(out, mgl32.Vec3{p.X(), y, p.Z()})
			}
		}
	}
	return out
}

// submitFrame records the feedback copy the way a real frame would and
// then writes what the traversal pass would have reported into the
// readback buffer, since the noop backend executes no commands.
func submitFrame(device hal.Device, queue hal.Queue, eng *voxstream.Engine, cam camera) error {
	enc, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "voxstream-frame"})
	if err != nil {
		return err
	}
	if err := enc.BeginEncoding("voxstream-frame"); err != nil {
		return err
	}
	eng.RecordFeedbackCopy(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return err
	}
	if _, err := queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return err
	}

	cfg := eng.Config()
	var misses []mgl32.Vec3
	for _, p := range cam.samples(cfg.Chunk.Size) {
		c, err := chunk.FromWorld(p, cfg.Chunk.Size)
		if err != nil {
			continue
		}
		if x, y, z := c.Unpack(); max(x, y, z) >= cfg.Cache.GridExtent {
			continue
		}
		if info, ok := eng.Cache().Get(c); ok && info.State == gpucache.SlotResident {
			continue
		}
		misses = append(misses, p)
	}
	capacity := eng.Feedback().Capacity()
	reported := uint32(len(misses))
	if len(misses) > capacity {
		misses = misses[:capacity]
	}
	return queue.WriteBuffer(eng.Feedback().Readback(), 0, feedback.Encode(capacity, reported, misses))
}

func writeImages(dir string, eng *voxstream.Engine) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	slots := eng.Cache().Slots()
	st := eng.Cache().Stats()
	caption := fmt.Sprintf("frame %d  %d/%d resident", st.Frame, st.Resident, st.Capacity)
	if err := debugview.SavePNG(filepath.Join(dir, "slots.png"), debugview.Slots(slots, 10, 24, caption)); err != nil {
		return err
	}
	for _, s := range slots {
		if s.State != gpucache.SlotResident {
			continue
		}
		c := eng.Store().GetChunkAt(s.Coord)
		if c == nil {
			continue
		}
		x, y, z := s.Coord.Unpack()
		name := fmt.Sprintf("chunk_%d_%d_%d.png", x, y, z)
		if err := debugview.SavePNG(filepath.Join(dir, name), debugview.Heightmap(c.Payload(), 8)); err != nil {
			return err
		}
	}
	voxstream.Logger().Info("debug images written", "dir", dir)
	return nil
}

func accumulate(a, b stream.Report) stream.Report {
	a.Misses += b.Misses
	a.Requested += b.Requested
	a.Refreshed += b.Refreshed
	a.Empty += b.Empty
	a.Evicted += b.Evicted
	a.Deferred += b.Deferred
	a.Dropped += b.Dropped
	a.Rejected += b.Rejected
	a.Backlog = b.Backlog
	return a
}
