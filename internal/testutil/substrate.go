package testutil

import (
	"context"
	"sync"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// GatedSubstrate wraps a substrate and holds every Publish until Release is
// called, so tests can act while a publish is in flight.
type GatedSubstrate struct {
	sone.Substrate

	started chan string
	release chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	calls       int
}

// NewGatedSubstrate wraps inner.
func NewGatedSubstrate(inner sone.Substrate) *GatedSubstrate {
	return &GatedSubstrate{
		Substrate: inner,
		started:   make(chan string, 16),
		release:   make(chan struct{}),
	}
}

// Started delivers the address of every Publish call as it begins.
func (g *GatedSubstrate) Started() <-chan string {
	return g.started
}

// Release lets one held Publish proceed.
func (g *GatedSubstrate) Release() {
	g.release <- struct{}{}
}

// Publish blocks until Release or ctx is done, then delegates.
func (g *GatedSubstrate) Publish(ctx context.Context, address string, document []byte, manifest []sone.ManifestEntry) (int64, error) {
	g.mu.Lock()
	g.calls++
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	g.started <- address
	select {
	case <-g.release:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return g.Substrate.Publish(ctx, address, document, manifest)
}

// Calls returns the number of Publish calls so far.
func (g *GatedSubstrate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// MaxInFlight returns the highest number of concurrent Publish calls observed.
func (g *GatedSubstrate) MaxInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxInFlight
}
