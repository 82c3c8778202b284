// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response reads.
//
// A target under analysis is untrusted: an MCP server reached over
// HTTP may return an arbitrarily large or never-ending body. Every
// response body read in this module goes through ReadResponse,
// DecodeResponse or ErrorBody, which stop at MaxResponseSize.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds response body reads: 16 MB.
const MaxResponseSize int64 = 16 << 20

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// ReadResponse reads a response body up to MaxResponseSize bytes. A
// body longer than the limit is an error rather than a silent
// truncation, since a truncated JSON-RPC response would be misread as
// malformed.
func ReadResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

// DecodeResponse reads a body with ReadResponse and JSON-decodes it
// into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for diagnostic messages. Read
// errors are ignored; a partial body is still useful. The result is
// capped at 1 KB.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 1024))
	return string(data)
}
