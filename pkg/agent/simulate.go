package agent

import (
	"context"
	"time"
)

const (
	defaultChunkSize = 50
	defaultChunkGap  = 50 * time.Millisecond
)

// SimulateStream slices text into fixed-size rune chunks delivered on a
// timer, so consumers of a non-streaming adapter see the same cadence
// as a native stream. The channel closes after the last chunk or as
// soon as ctx is cancelled.
func SimulateStream(ctx context.Context, text string, chunkSize int, gap time.Duration) <-chan Chunk {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if gap <= 0 {
		gap = defaultChunkGap
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		runes := []rune(text)
		timer := time.NewTimer(gap)
		defer timer.Stop()

		for start := 0; start < len(runes); start += chunkSize {
			end := start + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case out <- &TextChunk{Content: string(runes[start:end])}:
			case <-ctx.Done():
				return
			}
			if end == len(runes) {
				return
			}
			timer.Reset(gap)
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// StreamOrSimulate is the engine's single entry point for obtaining a
// chunk stream: native streaming when the adapter supports it, else a
// complete call paced out through SimulateStream. The returned total is
// the response length in runes when it is known up front (the simulated
// path), and 0 for native streams.
func StreamOrSimulate(ctx context.Context, a Adapter, req Request, chunkSize int, gap time.Duration) (<-chan Chunk, int, error) {
	ch, err := a.Stream(ctx, req)
	if err == nil {
		return ch, 0, nil
	}
	if err != ErrStreamingUnsupported {
		return nil, 0, err
	}

	text, err := a.Complete(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	return SimulateStream(ctx, text, chunkSize, gap), len([]rune(text)), nil
}
