package assets

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handle identifies one staged asset.
type Handle string

var ErrNotFound = errors.New("asset not found")

type blob struct {
	owner string
	data  []byte
}

// Manager is job-scoped temporary storage for uploaded audio and produced
// artifacts. Bytes are held in memory, never on persistent disk; a size
// ceiling rejects oversize uploads before staging. Every handle a job owns is
// released exactly once when the job reaches a terminal state.
type Manager struct {
	mu       sync.Mutex
	maxBytes int64
	blobs    map[Handle]*blob
	byOwner  map[string][]Handle
	staged   atomic.Int64
	released atomic.Int64
	log      zerolog.Logger
}

func NewManager(maxBytes int64, log zerolog.Logger) *Manager {
	return &Manager{
		maxBytes: maxBytes,
		blobs:    make(map[Handle]*blob),
		byOwner:  make(map[string][]Handle),
		log:      log.With().Str("component", "assets").Logger(),
	}
}

// Stage stores data on behalf of owner and returns its handle. A configured
// size ceiling of zero means unbounded.
func (m *Manager) Stage(owner string, data []byte) (Handle, error) {
	if m.maxBytes > 0 && int64(len(data)) > m.maxBytes {
		return "", fmt.Errorf("asset of %d bytes exceeds %d byte ceiling", len(data), m.maxBytes)
	}

	h := Handle(uuid.New().String())
	m.mu.Lock()
	m.blobs[h] = &blob{owner: owner, data: data}
	m.byOwner[owner] = append(m.byOwner[owner], h)
	m.mu.Unlock()
	m.staged.Add(1)

	m.log.Debug().Str("request_id", owner).Str("handle", string(h)).
		Int("bytes", len(data)).Msg("asset staged")
	return h, nil
}

// Read returns the staged bytes for h.
func (m *Manager) Read(h Handle) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[h]
	if !ok {
		return nil, ErrNotFound
	}
	return b.data, nil
}

// Release frees a single handle. Releasing an already-freed handle is a
// no-op.
func (m *Manager) Release(h Handle) {
	m.mu.Lock()
	b, ok := m.blobs[h]
	if ok {
		delete(m.blobs, h)
		m.detachLocked(b.owner, h)
	}
	m.mu.Unlock()
	if ok {
		m.released.Add(1)
	}
}

func (m *Manager) detachLocked(owner string, h Handle) {
	handles := m.byOwner[owner]
	for i, other := range handles {
		if other == h {
			m.byOwner[owner] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(m.byOwner[owner]) == 0 {
		delete(m.byOwner, owner)
	}
}

// ReleaseOwned frees every handle owned by the job. It is the scope-exit
// cleanup on the worker's processing span and must run on success, failure,
// timeout and cancellation alike.
func (m *Manager) ReleaseOwned(owner string) int {
	m.mu.Lock()
	handles := m.byOwner[owner]
	delete(m.byOwner, owner)
	for _, h := range handles {
		delete(m.blobs, h)
	}
	m.mu.Unlock()

	if n := len(handles); n > 0 {
		m.released.Add(int64(n))
		m.log.Debug().Str("request_id", owner).Int("count", n).Msg("owned assets released")
		return n
	}
	return 0
}

// Outstanding returns the number of currently staged assets.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// StagedCount and ReleasedCount expose lifetime counters; after any sequence
// of terminal jobs the two must match once nothing is in flight.
func (m *Manager) StagedCount() int64   { return m.staged.Load() }
func (m *Manager) ReleasedCount() int64 { return m.released.Load() }
