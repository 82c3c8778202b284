// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcptest provides an in-process MCP capability server for
// tests. It speaks newline-delimited JSON-RPC 2.0 over any reader and
// writer pair, and streamable HTTP through [Server.ServeHTTP].
package mcptest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// protocolVersion is the MCP protocol version reported by the server.
const protocolVersion = "2025-11-25"

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Handler runs a tool call. A non-nil error becomes a result with
// isError set and the error text as content.
type Handler func(ctx context.Context, arguments map[string]any) (string, error)

// Tool is one tool served by the test server.
type Tool struct {
	Name        string
	Description string

	// InputSchema is served verbatim. Nil serves an empty object
	// schema.
	InputSchema json.RawMessage

	Handler Handler
}

// Server is a scripted MCP server.
type Server struct {
	Tools []Tool

	// ToolsListResult, when set, replaces the generated tools/list
	// result. ToolsListError makes tools/list fail instead.
	ToolsListResult json.RawMessage
	ToolsListError  *RPCError

	// RawToolsCall, when set, is served as every tools/call result.
	RawToolsCall json.RawMessage

	mu          sync.Mutex
	initialized bool
	calls       []string
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *request) isNotification() bool { return len(r.ID) == 0 }

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolsCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Calls returns the methods received so far, in arrival order.
// tools/call entries are suffixed with the tool name.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Initialized reports whether the initialize request was received.
func (s *Server) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Server) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method)
}

// Run serves requests from input until EOF. tools/call requests are
// handled concurrently, so responses may arrive out of order. Run waits
// for in-flight calls before returning.
func (s *Server) Run(ctx context.Context, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var writeMu sync.Mutex
	encoder := json.NewEncoder(output)
	write := func(message response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		encoder.Encode(message)
	}

	var inFlight sync.WaitGroup
	defer inFlight.Wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			write(errorResponse(json.RawMessage("null"), CodeParseError, "parse error: "+err.Error()))
			continue
		}
		if req.isNotification() {
			s.record(req.Method)
			continue
		}
		if req.Method == "tools/call" {
			inFlight.Add(1)
			go func() {
				defer inFlight.Done()
				write(s.dispatch(ctx, &req))
			}()
			continue
		}
		write(s.dispatch(ctx, &req))
	}
	return scanner.Err()
}

// ServeHTTP handles one JSON-RPC message per POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req request
	if err := json.Unmarshal(bytes.TrimSpace(body), &req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(errorResponse(json.RawMessage("null"), CodeParseError, "parse error: "+err.Error()))
		return
	}
	if req.isNotification() {
		s.record(req.Method)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Mcp-Session-Id", "test-session")
	json.NewEncoder(w).Encode(s.dispatch(r.Context(), &req))
}

func (s *Server) dispatch(ctx context.Context, req *request) response {
	switch req.Method {
	case "initialize":
		s.record(req.Method)
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "mcptest", "version": "0.0.0"},
		})
	case "tools/list":
		s.record(req.Method)
		if s.ToolsListError != nil {
			return response{JSONRPC: "2.0", ID: req.ID, Error: s.ToolsListError}
		}
		if s.ToolsListResult != nil {
			return resultResponse(req.ID, s.ToolsListResult)
		}
		return resultResponse(req.ID, map[string]any{"tools": s.describeTools()})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		s.record(req.Method)
		return errorResponse(req.ID, CodeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) describeTools() []map[string]any {
	descriptions := make([]map[string]any, 0, len(s.Tools))
	for _, tool := range s.Tools {
		inputSchema := tool.InputSchema
		if inputSchema == nil {
			inputSchema = json.RawMessage(`{"type":"object"}`)
		}
		descriptions = append(descriptions, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": inputSchema,
		})
	}
	return descriptions
}

func (s *Server) handleToolsCall(ctx context.Context, req *request) response {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.record("tools/call")
		return errorResponse(req.ID, CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	s.record("tools/call " + params.Name)

	if s.RawToolsCall != nil {
		return resultResponse(req.ID, s.RawToolsCall)
	}
	for _, tool := range s.Tools {
		if tool.Name != params.Name {
			continue
		}
		if tool.Handler == nil {
			return resultResponse(req.ID, toolsCallResult{Content: []contentBlock{{Type: "text", Text: ""}}})
		}
		text, err := tool.Handler(ctx, params.Arguments)
		if err != nil {
			return resultResponse(req.ID, toolsCallResult{
				Content: []contentBlock{{Type: "text", Text: err.Error()}},
				IsError: true,
			})
		}
		return resultResponse(req.ID, toolsCallResult{Content: []contentBlock{{Type: "text", Text: text}}})
	}
	return errorResponse(req.ID, CodeInvalidParams, "unknown tool: "+params.Name)
}

func resultResponse(id json.RawMessage, result any) response {
	return response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) response {
	return response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// Pipes connects a server to in-memory pipes and runs it until the
// client side is closed. It returns the client's ends: a writer for
// requests and a reader for responses.
func Pipes(ctx context.Context, server *Server) (io.WriteCloser, io.ReadCloser) {
	requestReader, requestWriter := io.Pipe()
	responseReader, responseWriter := io.Pipe()
	go func() {
		err := server.Run(ctx, requestReader, responseWriter)
		requestReader.CloseWithError(err)
		responseWriter.CloseWithError(err)
	}()
	return requestWriter, responseReader
}
