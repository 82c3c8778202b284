// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interrogate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vvatta/mcp-automatic-review/lib/netutil"
	"github.com/vvatta/mcp-automatic-review/lib/version"
)

// Client sends JSON-RPC messages to a capability server.
type Client interface {
	// Call sends a request and waits for its response. A JSON-RPC
	// error is returned as *RPCError.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification. No response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Close releases the transport. Pending calls fail.
	Close() error
}

// ErrClientClosed is returned by calls on a closed client, or on a
// stdio client whose server closed its output.
var ErrClientClosed = errors.New("mcp client closed")

// ProtocolError reports a response that violates the protocol: a
// transport failure, a JSON-RPC error where a result was required, or
// a result that does not decode.
type ProtocolError struct {
	Method string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp %s: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Initialize performs the MCP handshake: an initialize request followed
// by the notifications/initialized notification.
func Initialize(ctx context.Context, client Client) (*ServerInfo, error) {
	raw, err := client.Call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: version.ClientName, Version: version.Short()},
	})
	if err != nil {
		return nil, &ProtocolError{Method: "initialize", Err: err}
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Method: "initialize", Err: fmt.Errorf("decoding result: %w", err)}
	}
	if err := client.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, &ProtocolError{Method: "notifications/initialized", Err: err}
	}
	info := result.ServerInfo
	info.ProtocolVersion = result.ProtocolVersion
	return &info, nil
}

// encodeMessage marshals a JSON-RPC message. Notifications pass a nil id.
func encodeMessage(id *int64, method string, params any) ([]byte, error) {
	data, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}
	return data, nil
}

// responseID parses a numeric JSON-RPC id. Servers may echo the id as a
// number or a string.
func responseID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var number int64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if number, err := strconv.ParseInt(text, 10, 64); err == nil {
			return number, true
		}
	}
	return 0, false
}

// resultOf returns the response's result or its error.
func resultOf(message response) (json.RawMessage, error) {
	if message.Error != nil {
		return nil, message.Error
	}
	return message.Result, nil
}

// StdioClient speaks newline-delimited JSON-RPC over a pair of pipes.
// A background goroutine reads responses and routes each to the call
// waiting on its id.
type StdioClient struct {
	writer io.WriteCloser
	reader io.ReadCloser
	logger *slog.Logger

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan response
	readErr error
	done    chan struct{}

	closeOnce sync.Once
}

// NewStdioClient starts reading responses from reader. writer receives
// requests. A nil logger uses slog.Default.
func NewStdioClient(writer io.WriteCloser, reader io.ReadCloser, logger *slog.Logger) *StdioClient {
	if logger == nil {
		logger = slog.Default()
	}
	client := &StdioClient{
		writer:  writer,
		reader:  reader,
		logger:  logger,
		pending: make(map[int64]chan response),
		done:    make(chan struct{}),
	}
	go client.readLoop()
	return client
}

func (c *StdioClient) readLoop() {
	scanner := bufio.NewScanner(c.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), int(netutil.MaxResponseSize))

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var message response
		if err := json.Unmarshal(line, &message); err != nil {
			c.logger.Debug("ignoring undecodable line from server", "error", err, "length", len(line))
			continue
		}
		if message.Method != "" {
			// Server-initiated request or notification.
			c.logger.Debug("ignoring server message", "method", message.Method)
			continue
		}
		id, ok := responseID(message.ID)
		if !ok {
			c.logger.Debug("ignoring response without usable id", "id", string(message.ID))
			continue
		}

		c.mu.Lock()
		waiter, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			// The caller gave up on this id.
			continue
		}
		waiter <- message
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	close(c.done)
}

// Call implements [Client].
func (c *StdioClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := c.nextID.Add(1)
	data, err := encodeMessage(&id, method, params)
	if err != nil {
		return nil, err
	}

	waiter := make(chan response, 1)
	c.mu.Lock()
	if c.readErr != nil {
		c.mu.Unlock()
		return nil, c.closedError()
	}
	c.pending[id] = waiter
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.write(data); err != nil {
		forget()
		return nil, err
	}

	select {
	case message := <-waiter:
		return resultOf(message)
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.done:
		forget()
		return nil, c.closedError()
	}
}

// Notify implements [Client].
func (c *StdioClient) Notify(ctx context.Context, method string, params any) error {
	data, err := encodeMessage(nil, method, params)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(data)
}

func (c *StdioClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing to server: %w", err)
	}
	return nil
}

func (c *StdioClient) closedError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil || errors.Is(c.readErr, io.EOF) {
		return ErrClientClosed
	}
	return fmt.Errorf("%w: %v", ErrClientClosed, c.readErr)
}

// Close closes both pipes. The read goroutine exits once the server's
// output reaches EOF.
func (c *StdioClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = errors.Join(c.writer.Close(), c.reader.Close())
	})
	return err
}

// HTTPClient posts JSON-RPC messages to a streamable-HTTP MCP endpoint.
type HTTPClient struct {
	url        string
	httpClient *http.Client

	nextID atomic.Int64

	mu        sync.Mutex
	sessionID string
}

// sessionHeader carries the server-assigned session between requests.
const sessionHeader = "Mcp-Session-Id"

// NewHTTPClient returns a client for the endpoint at url. A nil
// httpClient uses http.DefaultClient.
func NewHTTPClient(httpClient *http.Client, url string) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{url: url, httpClient: httpClient}
}

// Call implements [Client].
func (c *HTTPClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	data, err := encodeMessage(&id, method, params)
	if err != nil {
		return nil, err
	}
	httpResponse, err := c.post(ctx, data)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned HTTP %d: %s", httpResponse.StatusCode, netutil.ErrorBody(httpResponse.Body))
	}
	body, err := netutil.ReadResponse(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	var messages [][]byte
	if strings.HasPrefix(httpResponse.Header.Get("Content-Type"), "text/event-stream") {
		messages = eventStreamData(body)
	} else {
		messages = [][]byte{body}
	}
	for _, data := range messages {
		var message response
		if err := json.Unmarshal(data, &message); err != nil {
			return nil, fmt.Errorf("decoding %s response: %w", method, err)
		}
		if got, ok := responseID(message.ID); ok && got == id {
			return resultOf(message)
		}
	}
	return nil, fmt.Errorf("no response with id %d in %s reply", id, method)
}

// Notify implements [Client].
func (c *HTTPClient) Notify(ctx context.Context, method string, params any) error {
	data, err := encodeMessage(nil, method, params)
	if err != nil {
		return err
	}
	httpResponse, err := c.post(ctx, data)
	if err != nil {
		return err
	}
	defer httpResponse.Body.Close()
	io.Copy(io.Discard, io.LimitReader(httpResponse.Body, netutil.MaxResponseSize))
	if httpResponse.StatusCode != http.StatusOK && httpResponse.StatusCode != http.StatusAccepted && httpResponse.StatusCode != http.StatusNoContent {
		return fmt.Errorf("server returned HTTP %d for %s", httpResponse.StatusCode, method)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, data []byte) (*http.Response, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json, text/event-stream")
	httpRequest.Header.Set("User-Agent", version.UserAgent())

	c.mu.Lock()
	if c.sessionID != "" {
		httpRequest.Header.Set(sessionHeader, c.sessionID)
	}
	c.mu.Unlock()

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("posting to %s: %w", c.url, err)
	}
	if session := httpResponse.Header.Get(sessionHeader); session != "" {
		c.mu.Lock()
		c.sessionID = session
		c.mu.Unlock()
	}
	return httpResponse, nil
}

// Close implements [Client]. HTTP connections are pooled by the
// underlying http.Client, so there is nothing to release.
func (c *HTTPClient) Close() error { return nil }

// eventStreamData extracts the data payload of each event in a
// text/event-stream body. Multi-line data fields are joined with
// newlines.
func eventStreamData(body []byte) [][]byte {
	var events [][]byte
	var current [][]byte
	flush := func() {
		if len(current) > 0 {
			events = append(events, bytes.Join(current, []byte("\n")))
			current = nil
		}
	}
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		switch {
		case len(line) == 0:
			flush()
		case bytes.HasPrefix(line, []byte("data:")):
			current = append(current, bytes.TrimPrefix(bytes.TrimPrefix(line, []byte("data:")), []byte(" ")))
		}
	}
	flush()
	return events
}
