package guard

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(ceiling int, strict bool) *ResourceGuard {
	return New(ceiling, strict, zerolog.Nop())
}

func TestTryAdmitDeniesAtCeiling(t *testing.T) {
	g := newTestGuard(2, false)

	t1, ok := g.TryAdmit()
	require.True(t, ok)
	_, ok = g.TryAdmit()
	require.True(t, ok)

	_, ok = g.TryAdmit()
	assert.False(t, ok, "third admission must be denied at ceiling 2")
	assert.Equal(t, 2, g.Outstanding())

	g.Release(t1)
	_, ok = g.TryAdmit()
	assert.True(t, ok, "admission must succeed after a release")
}

func TestNeverExceedsCeilingUnderLoad(t *testing.T) {
	const ceiling = 5
	g := newTestGuard(ceiling, false)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ticket, ok := g.TryAdmit()
				if !ok {
					time.Sleep(time.Millisecond)
					continue
				}
				cur := inFlight.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				g.Release(ticket)
				return
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(ceiling))
	assert.Equal(t, 0, g.Outstanding())
}

func TestDoubleReleaseIsNoOpInProduction(t *testing.T) {
	g := newTestGuard(1, false)
	ticket, ok := g.TryAdmit()
	require.True(t, ok)

	g.Release(ticket)
	assert.NotPanics(t, func() { g.Release(ticket) })
	assert.Equal(t, 0, g.Outstanding())
}

func TestDoubleReleasePanicsInDevelopment(t *testing.T) {
	g := newTestGuard(1, true)
	ticket, ok := g.TryAdmit()
	require.True(t, ok)

	g.Release(ticket)
	assert.Panics(t, func() { g.Release(ticket) })
}

func TestReleaseSignalsWaiters(t *testing.T) {
	g := newTestGuard(1, false)
	ticket, ok := g.TryAdmit()
	require.True(t, ok)

	g.Release(ticket)
	select {
	case <-g.Releases():
	case <-time.After(time.Second):
		t.Fatal("expected a release signal")
	}
}
