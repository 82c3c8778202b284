// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"net/http"
	"strings"
)

// DefaultAnthropicURL is the public Messages API base URL.
const DefaultAnthropicURL = "https://api.anthropic.com"

const anthropicVersion = "2023-06-01"

// Anthropic implements [Provider] for the Anthropic Messages API.
type Anthropic struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewAnthropic creates an Anthropic provider. An empty baseURL uses
// DefaultAnthropicURL; a nil httpClient uses http.DefaultClient.
func NewAnthropic(httpClient *http.Client, baseURL, apiKey string) *Anthropic {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultAnthropicURL
	}
	return &Anthropic{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Complete sends a non-streaming request and returns the full response.
func (provider *Anthropic) Complete(ctx context.Context, request Request) (*Response, error) {
	headers := map[string]string{
		"x-api-key":         provider.apiKey,
		"anthropic-version": anthropicVersion,
	}
	httpResponse, err := doProviderRequest(ctx, provider.httpClient,
		provider.baseURL+"/v1/messages", headers, buildAnthropicRequest(request), "llm/anthropic")
	if err != nil {
		return nil, err
	}
	return decodeResponse[anthropicResponse](httpResponse, "llm/anthropic")
}

func buildAnthropicRequest(request Request) anthropicRequest {
	wire := anthropicRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		System:      request.System,
		Temperature: request.Temperature,
	}
	for _, message := range request.Messages {
		wire.Messages = append(wire.Messages, anthropicMessage{
			Role:    string(message.Role),
			Content: []anthropicContentBlock{{Type: "text", Text: message.Text}},
		})
	}
	return wire
}

// Wire types for the Messages API.

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (wire *anthropicResponse) toResponse() *Response {
	var text strings.Builder
	for _, block := range wire.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Text:       text.String(),
		Model:      wire.Model,
		StopReason: StopReason(wire.StopReason),
		Usage: Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}
}
