// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package overlay streams cache diagnostics to editor overlays over
// WebSocket.
//
// The render loop calls Hub.Publish once per frame. Every connected
// client receives the snapshot as a JSON text message; slow clients miss
// snapshots instead of stalling the frame. Only loopback clients are
// accepted unless Options.AllowRemote is set.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/stream"
)

// Snapshot is one frame of diagnostics.
type Snapshot struct {
	Frame  uint64              `json:"frame"`
	Time   time.Time           `json:"time"`
	Cache  gpucache.Stats      `json:"cache"`
	Stream stream.Report       `json:"stream"`
	Slots  []gpucache.SlotInfo `json:"slots,omitempty"`
}

// Options configures a Hub.
type Options struct {
	// AllowRemote accepts non-loopback clients.
	AllowRemote bool

	// ClientBuffer is the number of snapshots queued per client before
	// new ones are dropped. Defaults to 8.
	ClientBuffer int

	// WriteTimeout bounds a single message write. Defaults to 5s.
	WriteTimeout time.Duration
}

// Hub fans snapshots out to WebSocket clients.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool
	dropped uint64
}

type client struct {
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.done) }) }

// NewHub returns a hub with no clients.
func NewHub(opts Options) *Hub {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 8
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish sends s to every client. It never blocks.
func (h *Hub) Publish(s Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.last = b
	for c := range h.clients {
		select {
		case c.out <- b:
		default:
			h.dropped++
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns the number of snapshots not delivered to slow clients.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
	}
	clear(h.clients)
}

func (h *Hub) join(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.out <- h.last
	}
	return true
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.close()
}

// Handler upgrades requests to WebSocket connections that receive every
// published snapshot, starting with the latest one.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !h.opts.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{out: make(chan []byte, h.opts.ClientBuffer), done: make(chan struct{})}
		if !h.join(c) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
		defer h.leave(c)
		slogger().Debug("overlay: client connected", "remote", r.RemoteAddr)

		// The reader only notices disconnects; clients send nothing.
		go func() {
			defer c.close()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-c.done:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
				slogger().Debug("overlay: client disconnected", "remote", r.RemoteAddr)
				return
			case b := <-c.out:
				_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					slogger().Debug("overlay: write failed", "remote", r.RemoteAddr, "err", err)
					return
				}
			}
		}
	}
}

// StatsHandler serves the latest snapshot as JSON.
func (h *Hub) StatsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.mu.Lock()
		b := h.last
		h.mu.Unlock()
		if b == nil {
			http.Error(rw, "no snapshot yet", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write(b)
	}
}

// Mux returns a mux serving /ws and /stats.
func (h *Hub) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	mux.Handle("/stats", h.StatsHandler())
	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down and
// disconnects all clients.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h.Mux(), ReadHeaderTimeout: 5 * time.Second}
	slogger().Info("overlay: listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
