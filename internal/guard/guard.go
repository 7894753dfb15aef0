package guard

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ticket represents one occupied concurrency slot. It is owned by exactly one
// running job and released exactly once when that job reaches a terminal
// status.
type Ticket struct {
	id string
}

func (t *Ticket) ID() string { return t.id }

// ResourceGuard tracks in-flight analysis jobs against a configured
// concurrency ceiling. It performs no queueing itself; callers decide whether
// to wait, reject, or enqueue on denial.
type ResourceGuard struct {
	mu          sync.Mutex
	ceiling     int
	outstanding map[string]struct{}
	strict      bool
	releases    chan struct{}
	log         zerolog.Logger
}

func New(ceiling int, strict bool, log zerolog.Logger) *ResourceGuard {
	return &ResourceGuard{
		ceiling:     ceiling,
		outstanding: make(map[string]struct{}),
		strict:      strict,
		releases:    make(chan struct{}, 1),
		log:         log.With().Str("component", "guard").Logger(),
	}
}

// TryAdmit grants a ticket if the number of outstanding tickets is below the
// ceiling. It never blocks.
func (g *ResourceGuard) TryAdmit() (*Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.outstanding) >= g.ceiling {
		return nil, false
	}

	t := &Ticket{id: uuid.New().String()}
	g.outstanding[t.id] = struct{}{}
	g.log.Debug().Str("ticket", t.id).Int("outstanding", len(g.outstanding)).Msg("slot admitted")
	return t, true
}

// Release frees the slot held by t. Releasing a ticket twice is a programming
// error: fatal in development mode, a logged no-op otherwise.
func (g *ResourceGuard) Release(t *Ticket) {
	g.mu.Lock()
	if _, ok := g.outstanding[t.id]; !ok {
		g.mu.Unlock()
		if g.strict {
			panic("guard: ticket " + t.id + " released twice")
		}
		g.log.Warn().Str("ticket", t.id).Msg("double ticket release ignored")
		return
	}
	delete(g.outstanding, t.id)
	remaining := len(g.outstanding)
	g.mu.Unlock()

	g.log.Debug().Str("ticket", t.id).Int("outstanding", remaining).Msg("slot released")

	// Wake the dispatcher without blocking; a pending signal is enough.
	select {
	case g.releases <- struct{}{}:
	default:
	}
}

// Releases signals after a slot frees, letting waiters retry admission
// immediately instead of waiting out their poll interval.
func (g *ResourceGuard) Releases() <-chan struct{} {
	return g.releases
}

// Outstanding returns the number of currently admitted slots.
func (g *ResourceGuard) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.outstanding)
}

// Ceiling returns the configured concurrency limit.
func (g *ResourceGuard) Ceiling() int {
	return g.ceiling
}
