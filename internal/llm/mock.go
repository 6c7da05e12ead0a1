package llm

import (
	"context"
	"errors"
	"sync"
)

// MockClient is a scripted client for local runs and tests.
type MockClient struct {
	mu sync.Mutex

	// Reply is returned by Complete and streamed by CompleteStream.
	Reply string
	// Chunks, when set, are streamed instead of Reply split into runes.
	Chunks []string
	// Err fails the call before any token is produced.
	Err error
	// FailAfter > 0 fails the stream after that many chunks.
	FailAfter int

	requests []*CompletionRequest
}

// ErrMockStream is returned when FailAfter triggers.
var ErrMockStream = errors.New("mock: stream interrupted")

// NewMockClient creates a mock that answers with a fixed greeting.
func NewMockClient() *MockClient {
	return &MockClient{Reply: "好的，已经记下啦。"}
}

// Name returns the provider name.
func (c *MockClient) Name() string {
	return "mock"
}

// Models returns available models.
func (c *MockClient) Models() []string {
	return []string{"mock"}
}

// Requests returns the requests seen so far.
func (c *MockClient) Requests() []*CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*CompletionRequest(nil), c.requests...)
}

func (c *MockClient) record(req *CompletionRequest) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
}

// Complete returns Reply.
func (c *MockClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	c.record(req)
	if c.Err != nil {
		return nil, c.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &CompletionResponse{Content: c.Reply, Model: "mock", StopReason: "stop"}, nil
}

// CompleteStream streams Chunks, or Reply rune by rune.
func (c *MockClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	c.record(req)
	if c.Err != nil {
		return nil, c.Err
	}

	chunks := c.Chunks
	if chunks == nil {
		for _, r := range c.Reply {
			chunks = append(chunks, string(r))
		}
	}

	var content string
	for i, chunk := range chunks {
		if c.FailAfter > 0 && i == c.FailAfter {
			return nil, ErrMockStream
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := callback(chunk, i); err != nil {
			return nil, err
		}
		content += chunk
	}

	return &CompletionResponse{Content: content, Model: "mock", StopReason: "stop"}, nil
}
