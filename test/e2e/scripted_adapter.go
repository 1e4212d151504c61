package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/pkg/agent"
)

// ScriptEntry defines a single scripted adapter response.
type ScriptEntry struct {
	// Response content (exactly one of Text/Err should be set)
	Text string // Returned from Complete()
	Err  error  // Returned from Complete() instead of text

	// Test control
	BlockUntilCancelled bool            // Block Complete() until ctx is cancelled
	WaitCh              <-chan struct{} // Block Complete() until closed, then return normally
	OnBlock             chan<- struct{} // Notified when Complete() enters its blocking path
}

// ScriptedAdapter implements agent.Adapter with a strict sequential script.
// Each Complete call consumes one entry; an exhausted script answers with an
// unavailable error so a drifting test fails loudly instead of hanging.
type ScriptedAdapter struct {
	mu       sync.Mutex
	entries  []ScriptEntry
	index    int
	repeat   bool // Always(): the single entry answers every call
	requests []agent.Request
}

// NewScriptedAdapter creates an empty adapter; add entries with Then.
func NewScriptedAdapter() *ScriptedAdapter {
	return &ScriptedAdapter{}
}

// Say builds an adapter that returns each text once, in order.
func Say(texts ...string) *ScriptedAdapter {
	a := NewScriptedAdapter()
	for _, text := range texts {
		a.Then(ScriptEntry{Text: text})
	}
	return a
}

// Always builds an adapter that returns the same text on every call.
// Used for interruption evaluators, which are polled every tick.
func Always(text string) *ScriptedAdapter {
	a := Say(text)
	a.repeat = true
	return a
}

// Then appends an entry and returns the adapter for chaining.
func (a *ScriptedAdapter) Then(e ScriptEntry) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return a
}

// Complete implements agent.Adapter.
func (a *ScriptedAdapter) Complete(ctx context.Context, req agent.Request) (string, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	entry, err := a.next()
	a.mu.Unlock()
	if err != nil {
		return "", err
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
			// Released — fall through to the normal response.
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if entry.Err != nil {
		return "", entry.Err
	}
	return entry.Text, nil
}

// Stream implements agent.Adapter. Scripted adapters lean on the engine's
// simulated streaming so tests exercise the same chunking path as
// completion-only providers.
func (a *ScriptedAdapter) Stream(_ context.Context, _ agent.Request) (<-chan agent.Chunk, error) {
	return nil, agent.ErrStreamingUnsupported
}

// ModelID implements agent.Adapter.
func (a *ScriptedAdapter) ModelID() string { return "scripted-v1" }

// Calls returns the number of Complete calls made so far.
func (a *ScriptedAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// Requests returns a snapshot of every captured request, in call order.
func (a *ScriptedAdapter) Requests() []agent.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]agent.Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// next selects the next script entry. Must be called with a.mu held.
func (a *ScriptedAdapter) next() (*ScriptEntry, error) {
	if a.repeat && len(a.entries) > 0 {
		return &a.entries[0], nil
	}
	if a.index < len(a.entries) {
		entry := &a.entries[a.index]
		a.index++
		return entry, nil
	}
	return nil, agent.NewUnavailable(fmt.Sprintf("script exhausted after %d calls", len(a.entries)), nil)
}
