package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter returns canned responses for testing the
// stream-or-simulate fallback without a live provider.
type scriptedAdapter struct {
	text        string
	completeErr error
	streamErr   error
	chunks      []string
}

func (s *scriptedAdapter) Complete(_ context.Context, _ Request) (string, error) {
	if s.completeErr != nil {
		return "", s.completeErr
	}
	return s.text, nil
}

func (s *scriptedAdapter) Stream(_ context.Context, _ Request) (<-chan Chunk, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	out := make(chan Chunk, len(s.chunks))
	for _, c := range s.chunks {
		out <- &TextChunk{Content: c}
	}
	close(out)
	return out, nil
}

func (s *scriptedAdapter) ModelID() string { return "scripted-v1" }

func drainText(t *testing.T, ch <-chan Chunk) string {
	t.Helper()
	var b strings.Builder
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return b.String()
			}
			tc, ok := chunk.(*TextChunk)
			require.True(t, ok, "unexpected chunk type %T", chunk)
			b.WriteString(tc.Content)
		case <-deadline:
			t.Fatal("timed out draining chunk channel")
		}
	}
}

func TestSimulateStreamReassembles(t *testing.T) {
	text := strings.Repeat("abcdefghij", 13) // 130 chars, not a multiple of the chunk size
	ch := SimulateStream(context.Background(), text, 50, time.Millisecond)
	assert.Equal(t, text, drainText(t, ch))
}

func TestSimulateStreamChunkSizes(t *testing.T) {
	text := strings.Repeat("x", 120)
	ch := SimulateStream(context.Background(), text, 50, time.Millisecond)

	var sizes []int
	for chunk := range ch {
		sizes = append(sizes, len(chunk.(*TextChunk).Content))
	}
	assert.Equal(t, []int{50, 50, 20}, sizes)
}

func TestSimulateStreamRuneBoundaries(t *testing.T) {
	// Multibyte text must never be split mid-rune.
	text := strings.Repeat("héllo wörld ", 10)
	ch := SimulateStream(context.Background(), text, 7, time.Millisecond)

	var b strings.Builder
	for chunk := range ch {
		content := chunk.(*TextChunk).Content
		assert.True(t, strings.HasPrefix(text[b.Len():], content))
		b.WriteString(content)
	}
	assert.Equal(t, text, b.String())
}

func TestSimulateStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := SimulateStream(ctx, strings.Repeat("x", 500), 10, 50*time.Millisecond)

	// Take one chunk, then cancel mid-gap.
	<-ch
	cancel()

	var rest int
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				assert.LessOrEqual(t, rest, 1, "cancellation should stop delivery almost immediately")
				return
			}
			rest++
		case <-deadline:
			t.Fatal("channel not closed after cancellation")
		}
	}
}

func TestSimulateStreamEmptyText(t *testing.T) {
	ch := SimulateStream(context.Background(), "", 50, time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok, "empty text should produce a closed channel with no chunks")
}

func TestStreamOrSimulateNativeStream(t *testing.T) {
	a := &scriptedAdapter{chunks: []string{"one ", "two"}}
	ch, total, err := StreamOrSimulate(context.Background(), a, Request{}, 50, time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, total, "native streams have no known total")
	assert.Equal(t, "one two", drainText(t, ch))
}

func TestStreamOrSimulateFallsBackToComplete(t *testing.T) {
	a := &scriptedAdapter{streamErr: ErrStreamingUnsupported, text: strings.Repeat("y", 75)}
	ch, total, err := StreamOrSimulate(context.Background(), a, Request{}, 50, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 75, total, "simulated streams know the full length up front")
	assert.Equal(t, a.text, drainText(t, ch))
}

func TestStreamOrSimulatePropagatesCompleteError(t *testing.T) {
	a := &scriptedAdapter{streamErr: ErrStreamingUnsupported, completeErr: NewEmpty("nothing")}
	_, _, err := StreamOrSimulate(context.Background(), a, Request{}, 50, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, ErrorKindEmpty, KindOf(err))
}

func TestStreamOrSimulatePropagatesStreamError(t *testing.T) {
	a := &scriptedAdapter{streamErr: NewUnavailable("down", nil)}
	_, _, err := StreamOrSimulate(context.Background(), a, Request{}, 50, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, ErrorKindUnavailable, KindOf(err))
}
