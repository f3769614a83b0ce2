// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucache

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/voxstream/chunk"
	"github.com/gogpu/voxstream/internal/lru"
)

// Cache errors.
var (
	// ErrCacheExhausted is returned by RequestResidency when every slot is
	// in use. It is recoverable: retry after a Release.
	ErrCacheExhausted = errors.New("gpucache: no free slot")

	// ErrChunkTooLarge is reported by Prepare for a chunk whose linearized
	// data does not fit in one slot. The request is dropped.
	ErrChunkTooLarge = errors.New("gpucache: chunk exceeds slot capacity")

	// ErrOutOfGrid is returned for a coordinate outside the lookup table.
	ErrOutOfGrid = errors.New("gpucache: coordinate outside lookup grid")

	// ErrNotMapped is returned by Release for a coordinate with no slot.
	ErrNotMapped = errors.New("gpucache: coordinate not mapped")

	// ErrAllocation wraps GPU buffer creation failures.
	ErrAllocation = errors.New("gpucache: buffer allocation failed")

	// ErrInvalidConfig is returned by New for unusable sizes.
	ErrInvalidConfig = errors.New("gpucache: invalid config")

	// ErrNoDevice is returned when no usable device or queue is available.
	ErrNoDevice = errors.New("gpucache: no device")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("gpucache: manager closed")

	// ErrNilChunk is returned by RequestResidency for a nil chunk.
	ErrNilChunk = errors.New("gpucache: nil chunk")
)

// SlotState is the residency state of one slot.
type SlotState uint8

const (
	// SlotFree holds no chunk.
	SlotFree SlotState = iota
	// SlotPending is assigned to a chunk whose data is not uploaded yet.
	SlotPending
	// SlotResident holds uploaded data valid for GPU reads.
	SlotResident
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotPending:
		return "pending"
	case SlotResident:
		return "resident"
	default:
		return fmt.Sprintf("SlotState(%d)", uint8(s))
	}
}

// MarshalText encodes the state by name, so diagnostics read "resident"
// rather than 2.
func (s SlotState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (s *SlotState) UnmarshalText(b []byte) error {
	for _, st := range []SlotState{SlotFree, SlotPending, SlotResident} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("gpucache: unknown slot state %q", b)
}

// SlotInfo is a snapshot of one slot.
type SlotInfo struct {
	Index    int         `json:"index"`
	State    SlotState   `json:"state"`
	Coord    chunk.Coord `json:"coord"`
	Words    int         `json:"words"`
	Version  uint64      `json:"version"`
	LastUsed uint64      `json:"last_used"`
	Leaves   int         `json:"leaves"`
	Density  float64     `json:"density"`
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Capacity int    `json:"capacity"`
	Free     int    `json:"free"`
	Pending  int    `json:"pending"`
	Resident int    `json:"resident"`
	Frame    uint64 `json:"frame"`

	Requests      uint64 `json:"requests"`
	Uploads       uint64 `json:"uploads"`
	Reuploads     uint64 `json:"reuploads"`
	Releases      uint64 `json:"releases"`
	Rejected      uint64 `json:"rejected"`
	Exhausted     uint64 `json:"exhausted"`
	BufferWrites  uint64 `json:"buffer_writes"`
	BytesUploaded uint64 `json:"bytes_uploaded"`
	LinearHits    uint64 `json:"linear_hits"`
	LinearMisses  uint64 `json:"linear_misses"`
}

type slot struct {
	state    SlotState
	chunk    *chunk.Chunk
	words    int
	version  uint64
	lastUsed uint64
	stale    bool // resident data belongs to a replaced chunk object
	linear   linearKey
}

// linearKey identifies one linearization of one chunk object. Versions
// are per object, so chunks sharing a coordinate must not share keys.
type linearKey struct {
	id      uint64
	version uint64
}

func hashLinearKey(k linearKey) uint64 {
	return lru.Uint64Hasher(k.id*0x9e3779b97f4a7c15 ^ k.version)
}

// Manager assigns a bounded number of GPU slots to chunks.
//
// All buffer writes happen in Prepare, which must run on the thread that
// owns the device, between reading back frame N's feedback and
// dispatching frame N+1. The mutex only makes Get, Slots and Stats safe
// to call from other goroutines.
type Manager struct {
	mu     sync.Mutex
	device hal.Device
	queue  hal.Queue
	cfg    Config

	lookupBuf hal.Buffer
	descBuf   hal.Buffer
	dataBuf   hal.Buffer

	slots  []slot
	coords map[chunk.Coord]int

	// staged holds lookup values not yet written; flushed mirrors what
	// the GPU holds. Absent keys are LookupAbsent.
	staged  map[uint32]uint32
	flushed map[uint32]uint32

	linear *lru.Cache[linearKey, []uint32]
	frame  uint64
	closed bool

	requests, uploads, reuploads, releases uint64
	rejected, exhausted, writes, bytes      uint64
}

// New creates a manager and allocates its GPU buffers.
func New(device hal.Device, queue hal.Queue, cfg Config) (*Manager, error) {
	if device == nil || queue == nil {
		return nil, ErrNoDevice
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		device:  device,
		queue:   queue,
		cfg:     cfg,
		slots:   make([]slot, cfg.Slots),
		coords:  make(map[chunk.Coord]int, cfg.Slots),
		staged:  make(map[uint32]uint32),
		flushed: make(map[uint32]uint32),
		linear: lru.New[linearKey, []uint32](cfg.LinearCacheWords, hashLinearKey,
			func(w []uint32) int64 { return int64(len(w)) }),
	}
	if err := m.allocate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewFromProvider creates a manager on a host application's device. The
// provider's Device and Queue must be a hal.Device and hal.Queue.
func NewFromProvider(p gpucontext.DeviceProvider, cfg Config) (*Manager, error) {
	if p == nil {
		return nil, ErrNoDevice
	}
	device, ok := p.Device().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: provider device is %T, not hal.Device", ErrNoDevice, p.Device())
	}
	queue, ok := p.Queue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: provider queue is %T, not hal.Queue", ErrNoDevice, p.Queue())
	}
	return New(device, queue, cfg)
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// lookupIndex maps a coordinate to its lookup table entry.
func (m *Manager) lookupIndex(c chunk.Coord) (uint32, error) {
	x, y, z := c.Unpack()
	e := m.cfg.GridExtent
	if !c.Valid() || x >= e || y >= e || z >= e {
		return 0, fmt.Errorf("%w: %s outside extent %d", ErrOutOfGrid, c, e)
	}
	return uint32(x + y*e + z*e*e), nil
}

// LookupIndex returns the lookup table entry index used for c.
func (m *Manager) LookupIndex(c chunk.Coord) (uint32, error) { return m.lookupIndex(c) }

// RequestResidency assigns a slot to c. It is a no-op, apart from marking
// the slot as recently used, when c's coordinate already has a slot.
// When every slot is taken it returns ErrCacheExhausted and changes nothing.
//
// The GPU lookup entry for the coordinate is set to LookupPending at the
// next Prepare and only points at the slot once the data is uploaded.
func (m *Manager) RequestResidency(c *chunk.Chunk) error {
	if c == nil {
		return ErrNilChunk
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	coord := c.Coord()
	idx, err := m.lookupIndex(coord)
	if err != nil {
		return err
	}

	if i, ok := m.coords[coord]; ok {
		s := &m.slots[i]
		s.lastUsed = m.frame
		if s.chunk != c {
			// Same coordinate, new chunk object: upload the new data.
			s.chunk.ClearDescriptor()
			s.chunk = c
			s.stale = s.state == SlotResident
			c.SetDescriptor(m.placement(i, s.state == SlotResident, s.words))
		}
		return nil
	}

	i := slices.IndexFunc(m.slots, func(s slot) bool { return s.state == SlotFree })
	if i < 0 {
		m.exhausted++
		return fmt.Errorf("%w: %d of %d slots in use", ErrCacheExhausted, len(m.slots), len(m.slots))
	}

	m.slots[i] = slot{state: SlotPending, chunk: c, lastUsed: m.frame}
	m.coords[coord] = i
	m.staged[idx] = LookupPending
	m.requests++
	c.SetDescriptor(m.placement(i, false, 0))

	slogger().Debug("gpucache: residency requested", "coord", coord.String(), "slot", i)
	return nil
}

// placement builds the chunk descriptor for slot i.
func (m *Manager) placement(i int, resident bool, words int) chunk.Descriptor {
	return chunk.Descriptor{
		Slot:     int32(i),
		Offset:   uint32(i * m.cfg.SlotWords * 4),
		Words:    uint32(words),
		Resident: resident,
	}
}

// Release frees the slot holding coord. The slot can be reassigned
// immediately; the next Prepare clears the GPU lookup entry before it
// writes any new slot data. Releasing a request that was never prepared
// writes nothing to the GPU.
func (m *Manager) Release(coord chunk.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	i, ok := m.coords[coord]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMapped, coord)
	}
	m.freeSlot(i)
	m.releases++
	slogger().Debug("gpucache: released", "coord", coord.String(), "slot", i)
	return nil
}

func (m *Manager) freeSlot(i int) {
	s := &m.slots[i]
	coord := s.chunk.Coord()
	delete(m.coords, coord)
	if idx, err := m.lookupIndex(coord); err == nil {
		m.staged[idx] = LookupAbsent
	}
	s.chunk.ClearDescriptor()
	*s = slot{}
}

// write performs one counted buffer write.
func (m *Manager) write(buf hal.Buffer, offset uint64, data []byte) error {
	if err := m.queue.WriteBuffer(buf, offset, data); err != nil {
		return err
	}
	m.writes++
	return nil
}

// flushLookup writes staged lookup entries that differ from the GPU copy.
// Clears go first so no entry ever points at a slot being reused.
func (m *Manager) flushLookup() error {
	if len(m.staged) == 0 {
		return nil
	}
	keys := make([]uint32, 0, len(m.staged))
	for k := range m.staged {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b uint32) int {
		ca, cb := m.staged[a] == LookupAbsent, m.staged[b] == LookupAbsent
		switch {
		case ca && !cb:
			return -1
		case cb && !ca:
			return 1
		}
		return cmp.Compare(a, b)
	})
	for _, k := range keys {
		if err := m.flushEntry(k); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) flushEntry(k uint32) error {
	v, ok := m.staged[k]
	if !ok {
		return nil
	}
	if m.flushed[k] != v {
		if err := m.write(m.lookupBuf, uint64(k)*4, uint32Bytes(v)); err != nil {
			return fmt.Errorf("gpucache: write lookup entry %d: %w", k, err)
		}
		if v == LookupAbsent {
			delete(m.flushed, k)
		} else {
			m.flushed[k] = v
		}
	}
	delete(m.staged, k)
	return nil
}

// Prepare uploads pending slots and applies staged lookup changes. It is
// the only method that writes GPU buffers. Per call it:
//
//  1. writes lookup clears for released coordinates, then pending markers;
//  2. uploads up to Config.UploadsPerPrepare pending slots in slot order:
//     data, then descriptor, then the lookup entry pointing at the slot;
//  3. re-uploads resident chunks modified since their upload, within the
//     same budget.
//
// Chunks too large for a slot are dropped and reported as
// ErrChunkTooLarge, joined with errors.Join. A Prepare with nothing
// staged performs no writes.
func (m *Manager) Prepare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	defer func() { m.frame++ }()

	if err := m.flushLookup(); err != nil {
		return err
	}

	budget := m.cfg.UploadsPerPrepare
	if budget == 0 {
		budget = len(m.slots)
	}

	var errs []error
	for i := range m.slots {
		if budget == 0 {
			break
		}
		if m.slots[i].state != SlotPending {
			continue
		}
		budget--
		if err := m.upload(i); err != nil {
			if !errors.Is(err, ErrChunkTooLarge) {
				return errors.Join(append(errs, err)...)
			}
			errs = append(errs, err)
		}
	}
	for i := range m.slots {
		if budget == 0 {
			break
		}
		s := &m.slots[i]
		if s.state != SlotResident || (!s.stale && s.chunk.Version() == s.version) {
			continue
		}
		budget--
		if err := m.upload(i); err != nil {
			if !errors.Is(err, ErrChunkTooLarge) {
				return errors.Join(append(errs, err)...)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// upload writes slot i's data, descriptor and lookup entry, in that order.
func (m *Manager) upload(i int) error {
	s := &m.slots[i]
	c := s.chunk
	coord := c.Coord()
	reupload := s.state == SlotResident

	key := linearKey{c.ID(), c.Version()}
	words := m.linear.GetOrCreate(key, c.Payload().Linearize)
	if len(words) > m.cfg.SlotWords {
		m.freeSlot(i)
		m.rejected++
		if idx, err := m.lookupIndex(coord); err == nil {
			if err := m.flushEntry(idx); err != nil {
				return err
			}
		}
		slogger().Warn("gpucache: chunk rejected", "coord", coord.String(), "words", len(words), "slot_words", m.cfg.SlotWords)
		return fmt.Errorf("%w: %s needs %d words, slot holds %d", ErrChunkTooLarge, coord, len(words), m.cfg.SlotWords)
	}

	offsetWords := uint32(i * m.cfg.SlotWords)
	data := wordBytes(words)
	if err := m.write(m.dataBuf, uint64(offsetWords)*4, data); err != nil {
		return fmt.Errorf("gpucache: upload slot %d data: %w", i, err)
	}
	desc := encodeDescriptor(offsetWords, uint32(len(words)), coord, c.Payload().Kind(), true)
	if err := m.write(m.descBuf, uint64(i)*DescriptorBytes, desc); err != nil {
		return fmt.Errorf("gpucache: upload slot %d descriptor: %w", i, err)
	}
	idx, _ := m.lookupIndex(coord)
	m.staged[idx] = uint32(i) + 1
	if err := m.flushEntry(idx); err != nil {
		return err
	}

	if reupload {
		if s.linear != key {
			m.linear.Delete(s.linear)
		}
		m.reuploads++
	} else {
		m.uploads++
	}
	m.bytes += uint64(len(data))
	s.state = SlotResident
	s.words = len(words)
	s.version = key.version
	s.linear = key
	s.stale = false
	c.SetDescriptor(m.placement(i, true, len(words)))

	slogger().Debug("gpucache: uploaded", "coord", coord.String(), "slot", i, "words", len(words), "reupload", reupload)
	return nil
}

// Get returns the slot holding coord.
func (m *Manager) Get(coord chunk.Coord) (SlotInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.coords[coord]
	if !ok {
		return SlotInfo{}, false
	}
	return m.info(i), true
}

// Slots returns a snapshot of every slot.
func (m *Manager) Slots() []SlotInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SlotInfo, len(m.slots))
	for i := range m.slots {
		out[i] = m.info(i)
	}
	return out
}

func (m *Manager) info(i int) SlotInfo {
	s := m.slots[i]
	si := SlotInfo{Index: i, State: s.state, Words: s.words, Version: s.version, LastUsed: s.lastUsed}
	if s.chunk != nil {
		p := s.chunk.Payload()
		si.Coord = s.chunk.Coord()
		si.Leaves = p.Leaves()
		si.Density = p.Density()
	}
	return si
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Capacity:      len(m.slots),
		Frame:         m.frame,
		Requests:      m.requests,
		Uploads:       m.uploads,
		Reuploads:     m.reuploads,
		Releases:      m.releases,
		Rejected:      m.rejected,
		Exhausted:     m.exhausted,
		BufferWrites:  m.writes,
		BytesUploaded: m.bytes,
	}
	for _, s := range m.slots {
		switch s.state {
		case SlotFree:
			st.Free++
		case SlotPending:
			st.Pending++
		case SlotResident:
			st.Resident++
		}
	}
	ls := m.linear.Stats()
	st.LinearHits, st.LinearMisses = ls.Hits, ls.Misses
	return st
}

// Frame returns the number of Prepare calls so far.
func (m *Manager) Frame() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// Close destroys the GPU buffers. Chunks keep their last descriptor.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.destroyBuffers()
}
