package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/events"
)

// SSEEvent is one decoded frame from the per-session event stream. ID is
// the wire-level `id:` line; control frames carry none and report 0.
type SSEEvent struct {
	ID    int64
	Event events.Event
	Raw   string
}

// Type returns the event type as a plain string.
func (e SSEEvent) Type() string { return string(e.Event.Type) }

// Payload returns the decoded payload fields, or nil for empty payloads.
func (e SSEEvent) Payload() map[string]any {
	p, _ := e.Event.Payload.(map[string]any)
	return p
}

// SSEClient holds an open SSE subscription and collects decoded frames in
// a background goroutine.
type SSEClient struct {
	mu     sync.Mutex
	events []SSEEvent
	err    error

	cancel context.CancelFunc
	done   chan struct{}
}

// StreamEvents opens GET /api/v1/sessions/:id/events. lastEventID < 0
// requests a live tail; >= 0 is sent as a Last-Event-ID header so the
// server replays history first.
func StreamEvents(ctx context.Context, baseURL, sessionID string, lastEventID int64) (*SSEClient, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	url := fmt.Sprintf("%s/api/v1/sessions/%s/events", baseURL, sessionID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if lastEventID >= 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastEventID, 10))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open event stream: status %d", resp.StatusCode)
	}

	c := &SSEClient{cancel: cancel, done: make(chan struct{})}
	go c.readLoop(resp)
	return c, nil
}

// StreamEventsQuery opens the stream with ?last_event_id= instead of the
// Last-Event-ID header covering the polyfill form of reconnects.
func StreamEventsQuery(ctx context.Context, baseURL, sessionID string, lastEventID int64) (*SSEClient, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	url := fmt.Sprintf("%s/api/v1/sessions/%s/events?last_event_id=%d", baseURL, sessionID, lastEventID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open event stream: status %d", resp.StatusCode)
	}

	c := &SSEClient{cancel: cancel, done: make(chan struct{})}
	go c.readLoop(resp)
	return c, nil
}

// WaitFor waits until a frame matching the predicate arrives, or timeout.
func (c *SSEClient) WaitFor(predicate func(SSEEvent) bool, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event (collected %d events)", len(c.Events()))
		case <-tick.C:
			c.mu.Lock()
			for i := range c.events {
				if predicate(c.events[i]) {
					ev := c.events[i]
					c.mu.Unlock()
					return &ev, nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// WaitForType waits for a frame with the given event type.
func (c *SSEClient) WaitForType(eventType string, timeout time.Duration) (*SSEEvent, error) {
	return c.WaitFor(func(e SSEEvent) bool { return e.Type() == eventType }, timeout)
}

// Events returns a snapshot of all collected frames.
func (c *SSEClient) Events() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SSEEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsByType returns collected frames filtered by type.
func (c *SSEClient) EventsByType(eventType string) []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []SSEEvent
	for _, e := range c.events {
		if e.Type() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Err returns the terminal read error, if the stream has ended.
func (c *SSEClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears down the subscription and waits for the read loop to exit.
func (c *SSEClient) Close() {
	c.cancel()
	<-c.done
}

// readLoop parses the id/data frame grammar. Comment lines (heartbeats)
// and unknown fields are skipped; a blank line terminates a frame.
func (c *SSEClient) readLoop(resp *http.Response) {
	defer close(c.done)
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var id int64
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				c.append(id, data)
			}
			id, data = 0, ""
		case strings.HasPrefix(line, ":"):
			// Comment / heartbeat.
		case strings.HasPrefix(line, "id:"):
			id, _ = strconv.ParseInt(strings.TrimSpace(line[len("id:"):]), 10, 64)
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(line[len("data:"):])
		}
	}
	if err := scanner.Err(); err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
	}
}

func (c *SSEClient) append(id int64, data string) {
	var ev events.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, SSEEvent{ID: id, Event: ev, Raw: data})
	c.mu.Unlock()
}
