// Package anthropic is a thin client for the two capabilities the scanner
// needs from the Anthropic messages API: web search and structured extraction.
package anthropic

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

type Client struct {
	http  *resty.Client
	key   string
	model string
}

type Option func(*Client)

// WithBaseURL points the client at a different API host, used by tests.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(url)
	}
}

func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(120 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second),
		key:   apiKey,
		model: model,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
	Tools     []tool    `json:"tools,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

type messageResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// WebSearch runs one query through the web_search tool and returns the
// concatenated text blocks of the response. Non-text blocks (tool use,
// search results) are skipped; a response with no text blocks is just an
// empty string, not an error.
func (c *Client) WebSearch(ctx context.Context, query string) (string, error) {
	req := messageRequest{
		Model:     c.model,
		MaxTokens: 4096,
		Messages:  []message{{Role: "user", Content: query}},
		Tools:     []tool{{Type: "web_search_20250305", Name: "web_search", MaxUses: 3}},
	}
	return c.send(ctx, req)
}

// Extract sends a plain completion request and returns the text of the
// response. The prompt is expected to ask for raw JSON.
func (c *Client) Extract(ctx context.Context, prompt string) (string, error) {
	req := messageRequest{
		Model:     c.model,
		MaxTokens: 8192,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req messageRequest) (string, error) {
	var result messageResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-api-key", c.key).
		SetHeader("anthropic-version", apiVersion).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&result).
		Post("/v1/messages")
	if err != nil {
		return "", eris.Wrap(err, "anthropic request")
	}
	if resp.IsError() {
		return "", eris.Errorf("anthropic API %d: %s", resp.StatusCode(), resp.String())
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type != "text" {
			continue
		}
		sb.WriteString(block.Text)
	}
	return sb.String(), nil
}
