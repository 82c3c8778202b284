// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vvatta/mcp-automatic-review/decoy"
	"github.com/vvatta/mcp-automatic-review/interrogate"
	"github.com/vvatta/mcp-automatic-review/sandbox"
)

// Environment is a launched capability server as the coordinator sees
// it.
type Environment interface {
	// PID is the host PID of the sandbox root process.
	PID() (int32, error)

	// FakeHome is the host directory mounted at sandbox.SandboxHome.
	FakeHome() (string, error)

	Decoys() (*decoy.Registry, error)

	// Connect returns a protocol client for the server. The
	// coordinator closes it before Teardown.
	Connect(ctx context.Context) (interrogate.Client, error)
}

// ServerLogReader is implemented by environments that capture the
// server's stderr. The coordinator reads it before teardown.
type ServerLogReader interface {
	ServerLog() (string, error)
}

// Handshaker is implemented by environments whose health check already
// completed the initialize handshake on the client Connect returns.
// ServerInfo is nil when it did not.
type Handshaker interface {
	ServerInfo() *interrogate.ServerInfo
}

// DefaultHandshakeTimeout bounds one initialize attempt during the
// stdio health check.
const DefaultHandshakeTimeout = 2 * time.Second

// Launcher acquires and releases environments. Launch either returns
// a live environment or an error with nothing left running.
type Launcher interface {
	Launch(ctx context.Context, config sandbox.LaunchConfig) (Environment, error)
	Teardown(environment Environment) error
}

// SandboxLauncher launches servers with a sandbox.Controller.
type SandboxLauncher struct {
	Controller *sandbox.Controller

	// ServerURL selects the HTTP transport when set. The server is
	// launched sharing the host network and reached at this URL.
	ServerURL string

	// HTTPClient is used for the HTTP transport. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client

	// HandshakeTimeout bounds each initialize attempt of the stdio
	// health check. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Launch implements [Launcher].
func (l *SandboxLauncher) Launch(ctx context.Context, config sandbox.LaunchConfig) (Environment, error) {
	if l.Controller == nil {
		return nil, &sandbox.LaunchError{Stage: "config", Err: errors.New("no sandbox controller configured")}
	}
	var handshake *stdioHandshake
	switch {
	case l.ServerURL != "":
		config.Transport = sandbox.TransportHTTP
		if config.HealthCheck == nil {
			config.HealthCheck = l.httpReachable
		}
	case config.HealthCheck == nil && config.Transport != sandbox.TransportHTTP:
		timeout := l.HandshakeTimeout
		if timeout <= 0 {
			timeout = DefaultHandshakeTimeout
		}
		handshake = &stdioHandshake{timeout: timeout, logger: l.Logger}
		config.HealthCheck = handshake.check
	}
	handle, err := l.Controller.Start(ctx, config)
	if err != nil {
		return nil, err
	}
	environment := &sandboxEnvironment{Handle: handle, launcher: l}
	if handshake != nil {
		environment.client, environment.info = handshake.client, handshake.info
	}
	return environment, nil
}

// Teardown implements [Launcher].
func (l *SandboxLauncher) Teardown(environment Environment) error {
	if environment == nil {
		return nil
	}
	sandboxed, ok := environment.(*sandboxEnvironment)
	if !ok {
		return fmt.Errorf("environment %T was not launched by this launcher", environment)
	}
	return l.Controller.Stop(sandboxed.Handle)
}

func (l *SandboxLauncher) httpClient() *interrogate.HTTPClient {
	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return interrogate.NewHTTPClient(client, l.ServerURL)
}

// httpReachable passes once the server answers a JSON-RPC ping. A
// JSON-RPC error still proves the server is listening.
func (l *SandboxLauncher) httpReachable(ctx context.Context, handle *sandbox.Handle) error {
	if err := sandbox.ProcessRunning(ctx, handle); err != nil {
		return err
	}
	_, err := l.httpClient().Call(ctx, "ping", nil)
	var rpcErr *interrogate.RPCError
	if err == nil || errors.As(err, &rpcErr) {
		return nil
	}
	return err
}

// stdioHandshake is the default health check for stdio servers: the
// server is healthy once it answers initialize. Only one reader may own
// the server's stdout, so the client it creates is handed to Connect.
type stdioHandshake struct {
	timeout time.Duration
	logger  *slog.Logger

	client *interrogate.StdioClient
	info   *interrogate.ServerInfo
}

func (h *stdioHandshake) check(ctx context.Context, handle *sandbox.Handle) error {
	if err := sandbox.ProcessRunning(ctx, handle); err != nil {
		return err
	}
	if h.client == nil {
		stdin, stdout, err := handle.Stdio()
		if err != nil {
			return err
		}
		h.client = interrogate.NewStdioClient(stdin, stdout, h.logger)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	info, err := interrogate.Initialize(attemptCtx, h.client)
	if err != nil {
		return err
	}
	h.info = info
	return nil
}

type sandboxEnvironment struct {
	*sandbox.Handle
	launcher *SandboxLauncher

	// client and info are set when the stdio health check completed
	// the handshake.
	client *interrogate.StdioClient
	info   *interrogate.ServerInfo
}

// ServerInfo implements [Handshaker].
func (e *sandboxEnvironment) ServerInfo() *interrogate.ServerInfo { return e.info }

func (e *sandboxEnvironment) Connect(ctx context.Context) (interrogate.Client, error) {
	if e.client != nil {
		return e.client, nil
	}
	transport, err := e.Transport()
	if err != nil {
		return nil, err
	}
	if transport == sandbox.TransportHTTP {
		return e.launcher.httpClient(), nil
	}
	stdin, stdout, err := e.Stdio()
	if err != nil {
		return nil, err
	}
	return interrogate.NewStdioClient(stdin, stdout, e.launcher.Logger), nil
}
