package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIValidation(t *testing.T) {
	_, err := NewOpenAI("", "gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")

	_, err = NewOpenAI("sk-test", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")

	a, err := NewOpenAI("sk-test", "gpt-4o", WithBaseURL("http://localhost:11434/v1"), WithRequestTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", a.ModelID())
}

func TestBuildParams(t *testing.T) {
	a, err := NewOpenAI("sk-test", "gpt-4o")
	require.NoError(t, err)

	req := Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "you argue for the proposition"},
			{Role: RoleUser, Content: "open the debate"},
			{Role: RoleAssistant, Content: "previous partial"},
		},
		Temperature: 0.7,
		MaxTokens:   2048,
	}
	params := a.buildParams(req)

	assert.Equal(t, "gpt-4o", string(params.Model))
	require.Len(t, params.Messages, 3)
	assert.NotNil(t, params.Messages[0].OfSystem)
	assert.NotNil(t, params.Messages[1].OfUser)
	assert.NotNil(t, params.Messages[2].OfAssistant)
	assert.Equal(t, 0.7, params.Temperature.Value)
	assert.Equal(t, int64(2048), params.MaxCompletionTokens.Value)
}

func TestBuildParamsOmitsUnsetKnobs(t *testing.T) {
	a, err := NewOpenAI("sk-test", "gpt-4o")
	require.NoError(t, err)

	params := a.buildParams(Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.False(t, params.Temperature.Valid())
	assert.False(t, params.MaxCompletionTokens.Valid())
}

func TestClassifyOpenAIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{
			name: "rate limited",
			err:  &oai.Error{StatusCode: 429, Message: "rate limit exceeded"},
			kind: ErrorKindUnavailable,
		},
		{
			name: "server error",
			err:  &oai.Error{StatusCode: 503, Message: "overloaded"},
			kind: ErrorKindUnavailable,
		},
		{
			name: "content filtered",
			err:  &oai.Error{StatusCode: 400, Code: "content_filter", Message: "flagged"},
			kind: ErrorKindRefused,
		},
		{
			name: "other client error",
			err:  &oai.Error{StatusCode: 401, Message: "invalid key"},
			kind: ErrorKindUnavailable,
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			kind: ErrorKindTimeout,
		},
		{
			name: "transport",
			err:  errors.New("connection refused"),
			kind: ErrorKindUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyOpenAIError(tt.err)
			assert.Equal(t, tt.kind, classified.Kind)
		})
	}
}
