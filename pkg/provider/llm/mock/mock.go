// Package mock provides a test double for the llm.Provider interface.
//
// Provider answers from Replies in order, then falls back to
// CompleteResponse/CompleteErr:
//
//	p := &mock.Provider{
//	    Replies: []mock.Reply{{Err: llm.ErrRateLimited}},
//	    CompleteResponse: &llm.CompletionResponse{Content: "Score: 80"},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vivavoce/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Req llm.CompletionRequest
}

// Reply is one scripted answer.
type Reply struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Replies are consumed one per call.
	Replies []Reply

	// CompleteResponse is returned once Replies is exhausted. Nil yields an
	// empty response.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned once Replies is exhausted.
	CompleteErr error

	// Block, if set, makes Complete wait for ctx to be done.
	Block bool

	calls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the next reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, CompleteCall{Req: req})
	reply := Reply{Response: p.CompleteResponse, Err: p.CompleteErr}
	if len(p.Replies) > 0 {
		reply, p.Replies = p.Replies[0], p.Replies[1:]
	}
	block := p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	if reply.Response == nil {
		return &llm.CompletionResponse{}, nil
	}
	resp := *reply.Response
	return &resp, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.calls...)
}
