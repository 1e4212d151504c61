// Package agent provides the upstream model adapter layer.
//
// An Adapter is the engine's only route to a language model. It owns
// provider credentials (read from the environment at construction time)
// and translates between the engine's role-tagged message sequences and
// the provider's wire format. Everything above this package — prompt
// composition, turn orchestration, interruption — is provider-agnostic.
package agent

import (
	"context"
	"errors"
)

// Message roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry in a prompt sequence.
type Message struct {
	Role    string
	Content string
}

// Request carries one completion request to an upstream model.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ErrStreamingUnsupported is returned by Stream when the adapter can only
// produce complete responses. Callers fall back to Complete plus
// SimulateStream so downstream consumers see a uniform chunk channel.
var ErrStreamingUnsupported = errors.New("agent: streaming unsupported")

// Adapter is implemented by every upstream model integration.
type Adapter interface {
	// Complete sends the request and returns the full response text.
	// An empty response is reported as an UpstreamError of kind
	// ErrorKindEmpty, never as ("", nil).
	Complete(ctx context.Context, req Request) (string, error)

	// Stream sends the request and returns a channel of chunks.
	// The channel is closed when the stream completes; errors are
	// delivered in-band as ErrorChunk values. Adapters without native
	// streaming return ErrStreamingUnsupported.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// ModelID identifies the upstream model for utterance attribution.
	ModelID() string
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeError ChunkType = "error"
)

// TextChunk is a fragment of the model's response text.
type TextChunk struct{ Content string }

// ErrorChunk signals a terminal error from the provider. It is always
// the last chunk before the channel closes, and Err is always an
// *UpstreamError.
type ErrorChunk struct{ Err error }

func (c *TextChunk) chunkType() ChunkType  { return ChunkTypeText }
func (c *ErrorChunk) chunkType() ChunkType { return ChunkTypeError }
