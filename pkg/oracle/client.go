// Package oracle wraps the web-search-capable research model behind a small
// client interface. It knows nothing about jobs, caching, or retry policy;
// that layering lives in internal/search.
package oracle

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client performs a single web-search-backed research call.
type Client interface {
	Research(ctx context.Context, req Request) (*Response, error)
}

// Request is one research prompt.
type Request struct {
	Model     string
	Prompt    string
	MaxTokens int64
}

// Response carries the model's text output and usage accounting.
type Response struct {
	Text         string
	SearchCount  int
	InputTokens  int64
	OutputTokens int64
}

// APIError surfaces the upstream HTTP status so callers can classify the
// failure as transient or permanent.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// StatusOf extracts the upstream status code from an error chain, or 0.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

const maxSearchesPerCall = 5

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
	model  string
}

// Option configures the client.
type Option func(*sdkClient)

// WithModel sets the default model used when a request does not name one.
func WithModel(model string) Option {
	return func(c *sdkClient) { c.model = model }
}

// NewClient creates an oracle client backed by the SDK.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  "claude-sonnet-4-5-20250929",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *sdkClient) Research(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
		Tools: []sdk.ToolUnionParam{{
			OfWebSearchTool20250305: &sdk.WebSearchTool20250305Param{
				MaxUses: sdk.Int(maxSearchesPerCall),
			},
		}},
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var sdkErr *sdk.Error
		if errors.As(err, &sdkErr) {
			return nil, eris.Wrap(&APIError{Status: sdkErr.StatusCode, Message: sdkErr.Error()}, "oracle: research call")
		}
		return nil, eris.Wrap(err, "oracle: research call")
	}

	resp := &Response{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "server_tool_use":
			resp.SearchCount++
		}
	}

	return resp, nil
}
