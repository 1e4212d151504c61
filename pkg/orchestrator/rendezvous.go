package orchestrator

import (
	"fmt"
	"sync"
)

// rendezvousKey identifies one awaited human turn. The session id is
// implicit — each desk belongs to exactly one session.
type rendezvousKey struct {
	Side       string
	Phase      string
	TurnNumber int
}

func (k rendezvousKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Side, k.Phase, k.TurnNumber)
}

// rendezvousDesk matches the turn loop's wait for human input with
// submissions arriving from the API. At most one rendezvous is pending
// per session; a satisfied key permanently rejects re-submission.
type rendezvousDesk struct {
	mu        sync.Mutex
	pending   *rendezvousKey
	waiter    chan string
	satisfied map[rendezvousKey]struct{}
}

func newRendezvousDesk() *rendezvousDesk {
	return &rendezvousDesk{satisfied: make(map[rendezvousKey]struct{})}
}

// open registers the awaited key and returns the channel the submission
// will be delivered on. Only the session goroutine opens rendezvous, so
// a pending collision indicates a bug; it is still reported as an error
// rather than panicking.
func (d *rendezvousDesk) open(key rendezvousKey) (<-chan string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrRendezvousPending, d.pending)
	}
	d.pending = &key
	d.waiter = make(chan string, 1)
	return d.waiter, nil
}

// submit delivers content for the awaited key. The first matching
// submission wins; anything else is rejected.
func (d *rendezvousDesk) submit(key rendezvousKey, content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, done := d.satisfied[key]; done {
		return fmt.Errorf("%w: turn %s was already satisfied", ErrNoPendingTurn, key)
	}
	if d.pending == nil {
		return fmt.Errorf("%w: nothing awaited", ErrNoPendingTurn)
	}
	if *d.pending != key {
		return fmt.Errorf("%w: awaiting %s, got %s", ErrNoPendingTurn, d.pending, key)
	}

	d.waiter <- content
	d.satisfied[key] = struct{}{}
	d.pending = nil
	d.waiter = nil
	return nil
}

// close abandons the pending rendezvous (timeout or session shutdown).
// The key is not marked satisfied: the turn was skipped, not answered.
func (d *rendezvousDesk) close(key rendezvousKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil && *d.pending == key {
		d.pending = nil
		d.waiter = nil
	}
}

// awaiting returns the pending key, if any.
func (d *rendezvousDesk) awaiting() (rendezvousKey, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return rendezvousKey{}, false
	}
	return *d.pending, true
}
