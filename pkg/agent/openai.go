package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// streamChunkBuffer is the capacity of the chunk channel returned by
// Stream. Large enough to absorb bursts from the provider without
// stalling the read loop on a momentarily busy consumer.
const streamChunkBuffer = 32

// OpenAIAdapter talks to the OpenAI Chat Completions API, or any
// compatible endpoint when constructed with WithBaseURL.
type OpenAIAdapter struct {
	client oai.Client
	model  shared.ChatModel
}

// OpenAIOption configures optional OpenAIAdapter behavior.
type OpenAIOption func(*openaiOptions)

type openaiOptions struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL points the adapter at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(o *openaiOptions) { o.baseURL = url }
}

// WithRequestTimeout bounds each HTTP request. Zero means the client
// default.
func WithRequestTimeout(d time.Duration) OpenAIOption {
	return func(o *openaiOptions) { o.timeout = d }
}

// NewOpenAI creates an adapter for the given model. The API key is
// passed explicitly — resolving it from the environment is the
// factory's job, so this constructor stays testable.
func NewOpenAI(apiKey, model string, opts ...OpenAIOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	var o openaiOptions
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(o.timeout))
	}

	return &OpenAIAdapter{
		client: oai.NewClient(reqOpts...),
		model:  shared.ChatModel(model),
	}, nil
}

// ModelID returns the configured model name.
func (a *OpenAIAdapter) ModelID() string { return string(a.model) }

// Complete sends the request and returns the full response text.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (string, error) {
	completion, err := a.client.Chat.Completions.New(ctx, a.buildParams(req))
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return "", NewEmpty("openai: response contained no choices")
	}

	choice := completion.Choices[0]
	if choice.Message.Refusal != "" {
		return "", NewRefused(choice.Message.Refusal)
	}
	if choice.FinishReason == "content_filter" {
		return "", NewRefused("openai: response stopped by content filter")
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", NewEmpty("openai: response contained no text")
	}
	return choice.Message.Content, nil
}

// Stream sends the request and returns a channel of text chunks as the
// provider produces them. The reader goroutine exits on stream end,
// provider error, or context cancellation.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	stream := a.client.Chat.Completions.NewStreaming(ctx, a.buildParams(req))

	out := make(chan Chunk, streamChunkBuffer)
	go func() {
		defer close(out)
		defer stream.Close()

		var sawText, refused bool
		var refusal strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Refusal != "" {
				refusal.WriteString(choice.Delta.Refusal)
			}
			if choice.FinishReason == "content_filter" {
				refused = true
			}
			if choice.Delta.Content == "" {
				continue
			}
			sawText = true
			select {
			case out <- &TextChunk{Content: choice.Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		var terminal error
		switch {
		case stream.Err() != nil:
			terminal = classifyOpenAIError(stream.Err())
		case refusal.Len() > 0:
			terminal = NewRefused(refusal.String())
		case refused:
			terminal = NewRefused("openai: stream stopped by content filter")
		case !sawText:
			terminal = NewEmpty("openai: stream produced no text")
		}
		if terminal != nil {
			select {
			case out <- &ErrorChunk{Err: terminal}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (a *OpenAIAdapter) buildParams(req Request) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    a.model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// classifyOpenAIError maps provider and transport failures onto the
// engine's error taxonomy.
func classifyOpenAIError(err error) *UpstreamError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeout("openai: request deadline exceeded", err)
	}

	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 400 && isContentPolicyCode(apierr.Code):
			return NewRefused(apierr.Message)
		case apierr.StatusCode == 429 || apierr.StatusCode >= 500:
			return NewUnavailable(fmt.Sprintf("openai: status %d", apierr.StatusCode), err)
		default:
			return NewUnavailable(fmt.Sprintf("openai: status %d: %s", apierr.StatusCode, apierr.Message), err)
		}
	}
	return NewUnavailable("openai: request failed", err)
}

func isContentPolicyCode(code string) bool {
	switch code {
	case "content_filter", "content_policy_violation", "moderation_blocked":
		return true
	}
	return false
}
