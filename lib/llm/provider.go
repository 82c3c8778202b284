// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vvatta/mcp-automatic-review/lib/netutil"
	"github.com/vvatta/mcp-automatic-review/lib/version"
)

// Provider is the interface for LLM API backends.
type Provider interface {
	// Complete sends a request and blocks until the full response is
	// available.
	Complete(ctx context.Context, request Request) (*Response, error)
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. Only text content is
// supported.
type Message struct {
	Role Role
	Text string
}

// UserMessage returns a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// Request is a completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// StopReason says why generation ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Usage reports token consumption.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is a completed generation.
type Response struct {
	// Text is the concatenation of every text block.
	Text       string
	Model      string
	StopReason StopReason
	Usage      Usage
}

// ProviderError is returned when the LLM API responds with an error.
type ProviderError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Type is the provider-specific error type string
	// (e.g., "invalid_request_error", "rate_limit_error").
	Type string

	// Message is the human-readable error description.
	Message string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true for HTTP 429.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// doProviderRequest marshals wireRequest as JSON, POSTs it to endpoint
// with headers, and returns the HTTP response. Returns a
// ProviderError for non-200 status codes.
//
// On success the caller is responsible for closing the response body.
// On error the body is already closed.
func doProviderRequest(ctx context.Context, httpClient *http.Client, endpoint string, headers map[string]string, wireRequest any, prefix string) (*http.Response, error) {
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling request: %w", prefix, err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", prefix, err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", version.UserAgent())
	for name, value := range headers {
		httpRequest.Header.Set(name, value)
	}

	httpResponse, err := httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", prefix, err)
	}

	if httpResponse.StatusCode != http.StatusOK {
		defer httpResponse.Body.Close()
		return nil, readProviderError(httpResponse)
	}

	return httpResponse, nil
}

// wireResponse is implemented by pointer-to-struct types that convert
// themselves from a vendor wire format to the common Response.
type wireResponse[T any] interface {
	*T
	toResponse() *Response
}

// decodeResponse reads a bounded JSON body into a provider-specific
// wire type and converts it. The body is closed on return.
func decodeResponse[T any, P wireResponse[T]](httpResponse *http.Response, prefix string) (*Response, error) {
	defer httpResponse.Body.Close()

	wire := P(new(T))
	if err := netutil.DecodeResponse(httpResponse.Body, wire); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", prefix, err)
	}
	return wire.toResponse(), nil
}

// readProviderError parses {"error":{"type":"...","message":"..."}}
// bodies, falling back to the raw body text.
func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
