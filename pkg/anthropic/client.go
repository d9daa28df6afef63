// Package anthropic wraps the official SDK behind a small interface and
// adapts it to the orchestrator's invocation boundary.
package anthropic

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/modelmesh/internal/model"
)

// Client defines the Anthropic API operations the orchestrator uses.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is our own request type for CreateMessage.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	Messages    []Message
	Temperature *float64
}

// Message represents a single conversational message.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is our own response type from CreateMessage.
type MessageResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason string
	Usage      TokenUsage
}

// ContentBlock represents a block of content in a response.
type ContentBlock struct {
	Type string
	Text string
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Text concatenates the text blocks of a response.
func (r *MessageResponse) Text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates a new Anthropic client backed by the SDK.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
	}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}

	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}

	return fromSDKMessage(msg), nil
}

// Invoker adapts a Client to the orchestrator's invocation boundary. The
// routed model's name is used as the API model identifier.
type Invoker struct {
	client    Client
	maxTokens int64
}

// NewInvoker creates an invoker with the given output token ceiling.
func NewInvoker(client Client, maxTokens int64) *Invoker {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Invoker{client: client, maxTokens: maxTokens}
}

// InvokeFunc returns the invocation function handed to the orchestrator.
func (i *Invoker) InvokeFunc() model.InvokeFunc {
	return func(ctx context.Context, m model.Model, req model.Request) (model.Response, error) {
		start := time.Now()

		resp, err := i.client.CreateMessage(ctx, MessageRequest{
			Model:     m.Name,
			MaxTokens: i.maxTokens,
			Messages:  []Message{{Role: "user", Content: req.Prompt}},
		})
		if err != nil {
			return model.Response{}, err
		}

		tokens := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
		return model.Response{
			ModelName:    m.Name,
			Content:      resp.Text(),
			ResponseTime: time.Since(start),
			TokenCount:   tokens,
			Cost:         float64(tokens) / 1e6 * m.CostPerMTok,
			Success:      true,
			Timestamp:    time.Now().UTC(),
		}, nil
	}
}

// --- SDK type conversion helpers ---

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		if m.Role == "assistant" {
			out[i] = sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content))
		} else {
			out[i] = sdk.NewUserMessage(sdk.NewTextBlock(m.Content))
		}
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{
			Type: block.Type,
			Text: block.Text,
		})
	}
	return resp
}
