package anthropic

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/lunabot/luna/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type Provider struct {
	client anthropic.Client
}

func New(apiKey string) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	// OAuth tokens authenticate via the Authorization header instead
	// of x-api-key.
	var opt option.RequestOption
	if strings.HasPrefix(apiKey, "sk-ant-oat") {
		opt = option.WithAuthToken(apiKey)
	} else {
		opt = option.WithAPIKey(apiKey)
	}
	return &Provider{client: anthropic.NewClient(opt)}
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) Chat(ctx context.Context, req contract.ChatRequest) (*contract.ChatResponse, error) {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case contract.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Image != nil {
				blocks = append(blocks, anthropic.NewImageBlockBase64(
					m.Image.MediaType, base64.StdEncoding.EncodeToString(m.Image.Data)))
			}
			if m.Content != "" || len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}

	return &contract.ChatResponse{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		StopReason:   string(msg.StopReason),
	}, nil
}
