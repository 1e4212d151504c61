package orchestrator

import (
	"context"
	"sync"
)

// pauseGate is the cooperative suspension point of the turn loop. The
// gate holds a channel that is closed while the session runs; pausing
// swaps in an open channel, so the loop's wait blocks until resume
// closes it again. Waiters always remain responsive to cancellation.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{ch: ch}
}

// pause swaps in a blocking channel. No-op if already paused.
func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// resume closes the current channel, releasing waiters. No-op if open.
func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

// paused reports whether the gate currently blocks.
func (g *pauseGate) paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		return false
	default:
		return true
	}
}

// wait blocks until the gate is open or ctx is done.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
