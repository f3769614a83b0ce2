// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package voxstream

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/voxstream/feedback"
	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/overlay"
	"github.com/gogpu/voxstream/scene"
	"github.com/gogpu/voxstream/stream"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the logger for voxstream and all its sub-packages.
// By default nothing is logged. Pass nil to restore silence.
//
// Log levels used:
//   - [slog.LevelDebug]: per-request and per-frame detail (slots, uploads,
//     evictions)
//   - [slog.LevelInfo]: lifecycle events (engine start, overlay listening)
//   - [slog.LevelWarn]: dropped work (rejected chunks, feedback overflow)
//
// Example:
//
//	voxstream.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
	gpucache.SetLogger(l)
	feedback.SetLogger(l)
	scene.SetLogger(l)
	stream.SetLogger(l)
	overlay.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
