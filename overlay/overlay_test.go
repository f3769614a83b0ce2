// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/stream"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) Snapshot {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", typ)
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return s
}

// waitClients polls until the hub has n clients.
func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublish(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()
	defer h.Close()

	a, b := dial(t, srv), dial(t, srv)
	waitClients(t, h, 2)

	snap := Snapshot{
		Frame:  7,
		Cache:  gpucache.Stats{Capacity: 20, Resident: 3},
		Stream: stream.Report{Requested: 2},
		Slots:  []gpucache.SlotInfo{{Index: 0, State: gpucache.SlotResident}},
	}
	if err := h.Publish(snap); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		got := readSnapshot(t, conn)
		if got.Frame != 7 || got.Cache.Resident != 3 || got.Stream.Requested != 2 {
			t.Errorf("snapshot = %+v", got)
		}
		if len(got.Slots) != 1 || got.Slots[0].State != gpucache.SlotResident {
			t.Errorf("slots = %+v", got.Slots)
		}
	}
}

func TestLateClientGetsLatest(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()
	defer h.Close()

	_ = h.Publish(Snapshot{Frame: 1})
	_ = h.Publish(Snapshot{Frame: 2})
	conn := dial(t, srv)
	if got := readSnapshot(t, conn); got.Frame != 2 {
		t.Errorf("first snapshot frame = %d, want 2", got.Frame)
	}
}

func TestSlotStateJSON(t *testing.T) {
	b, err := json.Marshal(gpucache.SlotInfo{State: gpucache.SlotPending})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"state":"pending"`) {
		t.Errorf("json = %s", b)
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	h := NewHub(Options{ClientBuffer: 1})
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()
	defer h.Close()

	_ = dial(t, srv) // never reads
	waitClients(t, h, 1)

	done := make(chan struct{})
	go func() {
		for i := range 1000 {
			_ = h.Publish(Snapshot{Frame: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow client")
	}
}

func TestClientDisconnect(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)
}

func TestHubClose(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)
	h.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after Close err = %v, want normal closure", err)
	}
	if err := h.Publish(Snapshot{}); err != nil {
		t.Errorf("Publish after Close = %v", err)
	}
}

func TestStatsHandler(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status before publish = %d", resp.StatusCode)
	}

	_ = h.Publish(Snapshot{Frame: 4, Cache: gpucache.Stats{Uploads: 9}})
	resp, err = http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Frame != 4 || got.Cache.Uploads != 9 {
		t.Errorf("stats = %+v", got)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/stats", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", resp.StatusCode)
	}
}

func TestRemoteRejected(t *testing.T) {
	h := NewHub(Options{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	h.Handler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:80", true},
		{"[::1]:80", true},
		{"::1", true},
		{"10.0.0.1:80", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isLoopbackRemote(tt.addr); got != tt.want {
			t.Errorf("isLoopbackRemote(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestServe(t *testing.T) {
	h := NewHub(Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Serve(ctx, addr) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/stats")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
