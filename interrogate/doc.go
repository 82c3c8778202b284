// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package interrogate talks to a capability server over the Model
// Context Protocol: it performs the initialize handshake, discovers the
// server's tools, and invokes them with generated payloads.
//
// The protocol subset is JSON-RPC 2.0 with four messages: initialize,
// notifications/initialized, tools/list and tools/call. Two transports
// are supported. [StdioClient] speaks newline-delimited JSON over the
// sandbox's stdin/stdout pipes and demultiplexes responses by request
// ID, so concurrent calls are safe. [HTTPClient] posts each message to
// the server's URL and accepts either a JSON or an event-stream reply.
//
// [Discoverer] turns one tools/list response into [schema.Capability]
// values with compiled input-schema validators. [Driver] executes
// payloads with bounded parallelism and records each call as a
// [schema.Invocation] stamped by the session clock. Call failures never
// surface as Go errors from the Driver: they become outcomes.
package interrogate
