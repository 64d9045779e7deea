// Package contract defines the provider-neutral chat types every LLM
// backend implements against.
package contract

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
	// Image is optional inline image content; providers that cannot
	// accept it reject the request.
	Image *Image
}

// Image is raw image bytes plus their sniffed media type. Providers
// handle wire encoding.
type Image struct {
	MediaType string
	Data      []byte
}

type ChatRequest struct {
	// Model is the full model name. Alias resolution happens before a
	// request reaches a provider.
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

type ChatResponse struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
}

// Client is one LLM backend.
type Client interface {
	// Name identifies the provider in logs and status output.
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
