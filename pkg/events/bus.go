package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// catchupLimit is the maximum number of persisted utterances replayed to a
// single re-syncing subscriber. Sessions longer than this replay only the
// most recent window; clients needing the full transcript use the REST
// utterances endpoint.
const catchupLimit = 200

// ErrBusClosed is returned by Subscribe after Shutdown.
var ErrBusClosed = errors.New("event bus is closed")

// CatchupSource replays the persisted transcript for subscribers whose
// last seen event id has fallen off the ring. Implemented by the
// persistence gateway; nil disables transcript catch-up.
type CatchupSource interface {
	ListUtterances(ctx context.Context, sessionID string) ([]*models.Utterance, error)
}

// Bus is the in-process per-session event bus. Each Go process has one
// Bus instance; sessions get independent id sequences and ring buffers.
//
// The publish path takes only the stream registry read-lock plus the
// per-session stream lock, and wakes subscribers with a non-blocking
// signal: a publisher is never blocked by a slow subscriber.
type Bus struct {
	ringSize  int
	subBuffer int
	heartbeat time.Duration
	catchup   CatchupSource

	mu      sync.RWMutex
	streams map[string]*stream
	closed  bool
}

// NewBus creates a Bus. ringSize bounds the per-session replay buffer,
// subscriberBuffer each subscriber's private queue. heartbeat <= 0
// disables heartbeats (tests).
func NewBus(ringSize, subscriberBuffer int, heartbeat time.Duration, catchup CatchupSource) *Bus {
	return &Bus{
		ringSize:  ringSize,
		subBuffer: subscriberBuffer,
		heartbeat: heartbeat,
		catchup:   catchup,
		streams:   make(map[string]*stream),
	}
}

// stream holds one session's event state: the id sequence, the bounded
// ring of recent events, and the attached subscribers.
type stream struct {
	sessionID string

	mu        sync.Mutex
	ring      []Event
	start     int // ring index of the oldest buffered event
	count     int
	nextID    int64 // next session event id to assign
	subs      map[*Subscription]struct{}
	hbRunning bool
}

func newStream(sessionID string, ringSize int) *stream {
	return &stream{
		sessionID: sessionID,
		ring:      make([]Event, ringSize),
		nextID:    1,
		subs:      make(map[*Subscription]struct{}),
	}
}

// Publish appends a session event and wakes subscribers. It assigns and
// returns the event's monotonic id (0 when the bus is shut down).
// Publish never blocks on subscribers.
func (b *Bus) Publish(sessionID string, eventType EventType, payload any) int64 {
	b.mu.RLock()
	st := b.streams[sessionID]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return 0
	}
	if st == nil {
		if st = b.getOrCreateStream(sessionID); st == nil {
			return 0
		}
	}

	ev := Event{
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	st.mu.Lock()
	ev.EventID = st.nextID
	st.nextID++
	if st.count < len(st.ring) {
		st.ring[(st.start+st.count)%len(st.ring)] = ev
		st.count++
	} else {
		// Ring full: overwrite the oldest. Lagging subscribers detect the
		// gap from their cursor and inject a catchup_start signal.
		st.ring[st.start] = ev
		st.start = (st.start + 1) % len(st.ring)
	}
	subs := make([]*Subscription, 0, len(st.subs))
	for s := range st.subs {
		subs = append(subs, s)
	}
	st.mu.Unlock()

	for _, s := range subs {
		s.wake()
	}
	return ev.EventID
}

// Subscribe attaches a subscriber to a session's event stream.
//
// lastEventID < 0 tails live events only. lastEventID >= 0 first replays
// every buffered event with a higher id (falling back to the persisted
// transcript when the ring no longer covers the range), then tails.
// The returned subscription's channel is closed when ctx is cancelled,
// Close is called, or the bus shuts down.
func (b *Bus) Subscribe(ctx context.Context, sessionID string, lastEventID int64) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	st, ok := b.streams[sessionID]
	if !ok {
		st = newStream(sessionID, b.ringSize)
		b.streams[sessionID] = st
	}
	b.mu.Unlock()

	sub := &Subscription{
		id:          uuid.New().String(),
		bus:         b,
		stream:      st,
		lastEventID: lastEventID,
		out:         make(chan Event, b.subBuffer),
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	st.mu.Lock()
	st.subs[sub] = struct{}{}
	st.mu.Unlock()

	b.ensureHeartbeat(st)

	go sub.run(ctx)
	return sub, nil
}

// SubscriberCount returns the number of attached subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	st := b.streams[sessionID]
	b.mu.RUnlock()
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

// LastEventID returns the id of the most recent session event (0 if none).
func (b *Bus) LastEventID(sessionID string) int64 {
	b.mu.RLock()
	st := b.streams[sessionID]
	b.mu.RUnlock()
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.nextID - 1
}

// Shutdown closes every subscription. Publishes after Shutdown are
// dropped. Idempotent.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	streams := make([]*stream, 0, len(b.streams))
	for _, st := range b.streams {
		streams = append(streams, st)
	}
	b.mu.Unlock()

	for _, st := range streams {
		st.mu.Lock()
		subs := make([]*Subscription, 0, len(st.subs))
		for s := range st.subs {
			subs = append(subs, s)
		}
		st.mu.Unlock()
		for _, s := range subs {
			s.Close()
		}
	}
}

func (b *Bus) getOrCreateStream(sessionID string) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	st, ok := b.streams[sessionID]
	if !ok {
		st = newStream(sessionID, b.ringSize)
		b.streams[sessionID] = st
	}
	return st
}

// ensureHeartbeat starts the per-session heartbeat loop if it is not
// already running. The loop publishes a heartbeat session event every
// interval while the session has at least one subscriber, and exits
// when the last subscriber detaches.
func (b *Bus) ensureHeartbeat(st *stream) {
	if b.heartbeat <= 0 {
		return
	}
	st.mu.Lock()
	if st.hbRunning {
		st.mu.Unlock()
		return
	}
	st.hbRunning = true
	st.mu.Unlock()

	go func() {
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		for range ticker.C {
			st.mu.Lock()
			if len(st.subs) == 0 {
				st.hbRunning = false
				st.mu.Unlock()
				return
			}
			st.mu.Unlock()

			b.mu.RLock()
			closed := b.closed
			b.mu.RUnlock()
			if closed {
				st.mu.Lock()
				st.hbRunning = false
				st.mu.Unlock()
				return
			}

			b.Publish(st.sessionID, EventTypeHeartbeat, nil)
		}
	}()
}

// Subscription is one subscriber's attachment to a session stream.
//
// Events are consumed from Events(). The channel is closed when the
// subscription ends; Close is safe to call from any goroutine and
// idempotent.
type Subscription struct {
	id          string
	bus         *Bus
	stream      *stream
	lastEventID int64

	out    chan Event
	signal chan struct{}
	done   chan struct{}
	cursor int64 // next session event id this subscriber wants

	closeOnce sync.Once
}

// ID returns the subscriber id (also sent in the connected event).
func (s *Subscription) ID() string { return s.id }

// Events returns the subscriber's event channel.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close detaches the subscription. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// wake nudges the run loop without blocking the publisher.
func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer s.teardown()
	defer close(s.out)

	connected := ConnectedPayload{SubscriberID: s.id}
	if s.lastEventID > 0 {
		connected.LastEventID = s.lastEventID
	}
	if !s.deliver(ctx, s.controlEvent(EventTypeConnected, connected)) {
		return
	}

	if s.lastEventID >= 0 {
		if !s.replay(ctx) {
			return
		}
	} else {
		s.stream.mu.Lock()
		s.cursor = s.stream.nextID
		s.stream.mu.Unlock()
	}

	for {
		batch, gapped := s.collect()
		if gapped {
			if !s.deliver(ctx, s.controlEvent(EventTypeCatchupStart, CatchupStartPayload{Reason: CatchupReasonSubscriberLag})) {
				return
			}
		}
		for _, ev := range batch {
			if !s.deliver(ctx, ev) {
				return
			}
		}

		select {
		case <-s.signal:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// replay delivers the events between lastEventID and the stream head that
// existed at subscribe time, bracketed by catchup_start/catchup_complete.
// Events published while the replay runs are picked up by the live loop,
// so a reconnecting client sees: missed events in order, catchup_complete,
// then new events — without duplicates.
func (s *Subscription) replay(ctx context.Context) bool {
	st := s.stream
	st.mu.Lock()
	head := st.nextID
	oldest := head - int64(st.count)
	st.mu.Unlock()

	from := s.lastEventID + 1
	if from >= head {
		// Nothing missed.
		s.cursor = head
		return true
	}

	if from >= oldest {
		return s.replayFromRing(ctx, from, head)
	}
	return s.replayFromStore(ctx, head)
}

func (s *Subscription) replayFromRing(ctx context.Context, from, head int64) bool {
	if !s.deliver(ctx, s.controlEvent(EventTypeCatchupStart, CatchupStartPayload{Reason: CatchupReasonReconnect})) {
		return false
	}

	st := s.stream
	st.mu.Lock()
	oldest := st.nextID - int64(st.count)
	if from < oldest {
		// The ring advanced past 'from' between snapshot and now.
		from = oldest
	}
	batch := make([]Event, 0, head-from)
	for id := from; id < head; id++ {
		batch = append(batch, st.ring[(st.start+int(id-oldest))%len(st.ring)])
	}
	st.mu.Unlock()

	for _, ev := range batch {
		if !s.deliver(ctx, ev) {
			return false
		}
	}
	s.cursor = head
	return s.deliver(ctx, s.controlEvent(EventTypeCatchupComplete, CatchupCompletePayload{Replayed: len(batch)}))
}

func (s *Subscription) replayFromStore(ctx context.Context, head int64) bool {
	if !s.deliver(ctx, s.controlEvent(EventTypeCatchupStart, CatchupStartPayload{Reason: CatchupReasonBufferExpired})) {
		return false
	}

	replayed := 0
	if s.bus.catchup != nil {
		utterances, err := s.bus.catchup.ListUtterances(ctx, s.stream.sessionID)
		if err != nil {
			slog.Warn("Transcript catch-up query failed",
				"session_id", s.stream.sessionID, "subscriber_id", s.id, "error", err)
		} else {
			if len(utterances) > catchupLimit {
				utterances = utterances[len(utterances)-catchupLimit:]
			}
			for _, u := range utterances {
				if !s.deliver(ctx, s.controlEvent(EventTypeCatchupUtterance, CatchupUtterancePayload{Utterance: u})) {
					return false
				}
				replayed++
			}
		}
	}

	s.cursor = head
	return s.deliver(ctx, s.controlEvent(EventTypeCatchupComplete, CatchupCompletePayload{Replayed: replayed}))
}

// collect drains every buffered event at or past the cursor. The second
// return is true when the ring overwrote events this subscriber never
// saw (it was too slow), meaning a gap must be signalled.
func (s *Subscription) collect() ([]Event, bool) {
	st := s.stream
	st.mu.Lock()
	defer st.mu.Unlock()

	oldest := st.nextID - int64(st.count)
	gapped := false
	if s.cursor < oldest {
		gapped = true
		s.cursor = oldest
	}
	if s.cursor >= st.nextID {
		return nil, gapped
	}

	batch := make([]Event, 0, st.nextID-s.cursor)
	for id := s.cursor; id < st.nextID; id++ {
		batch = append(batch, st.ring[(st.start+int(id-oldest))%len(st.ring)])
	}
	s.cursor = st.nextID
	return batch, gapped
}

func (s *Subscription) deliver(ctx context.Context, ev Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

func (s *Subscription) controlEvent(eventType EventType, payload any) Event {
	return Event{
		SessionID: s.stream.sessionID,
		EventID:   0,
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

func (s *Subscription) teardown() {
	st := s.stream
	st.mu.Lock()
	delete(st.subs, s)
	st.mu.Unlock()
}
