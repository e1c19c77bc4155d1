package llm

import (
	"context"
	"sync"

	"github.com/sells-group/factcheck-cli/pkg/anthropic"
	"github.com/sells-group/factcheck-cli/pkg/perplexity"
)

// fakeAnthropic returns canned replies in order and records requests.
type fakeAnthropic struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []anthropic.MessageRequest
}

func (f *fakeAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	text := ""
	if len(f.replies) > 0 {
		text = f.replies[0]
		f.replies = f.replies[1:]
	}
	return &anthropic.MessageResponse{
		Model:   req.Model,
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}, nil
}

type fakePerplexity struct {
	content   string
	citations []string
	err       error
	requests  []perplexity.ChatCompletionRequest
}

func (f *fakePerplexity) ChatCompletion(_ context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &perplexity.ChatCompletionResponse{
		ID:        "cmpl",
		Choices:   []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: f.content}}},
		Citations: f.citations,
		Usage:     perplexity.Usage{PromptTokens: 500, CompletionTokens: 100},
	}, nil
}
