// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// mcp-sandbox runs an untrusted MCP capability server in a sandbox,
// attacks its tools with adversarial payloads, correlates the calls
// with kernel telemetry, and prints a risk report.
//
// Usage:
//
//	mcp-sandbox analyze [flags] <workspace>
//	mcp-sandbox validate [flags] <workspace>
//	mcp-sandbox evidence [flags] <archive>
//	mcp-sandbox version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/vvatta/mcp-automatic-review/lib/process"
	"github.com/vvatta/mcp-automatic-review/lib/version"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func (e *exitError) ExitCode() int { return e.code }

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(process.ExitError)
	}

	logger := newLogger(os.Stderr, stderrIsTerminal())

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "analyze":
		err = analyzeCmd(args, logger)
	case "validate":
		err = validateCmd(args, logger)
	case "evidence":
		err = evidenceCmd(args)
	case "version", "--version", "-v":
		fmt.Printf("mcp-sandbox %s\n", version.Full())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(process.ExitError)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`mcp-sandbox - Dynamic security review of MCP capability servers

USAGE
    mcp-sandbox <command> [flags] <path>

COMMANDS
    analyze     Run a server in the sandbox and produce a risk report
    validate    Check the host and the launch configuration
    evidence    Inspect a session evidence archive
    version     Show version

EXAMPLES
    # Analyze a checked-out server with a config file
    mcp-sandbox analyze --config=review.yaml --static=scan.json ./server

    # Show the sandbox command without running anything
    mcp-sandbox analyze --config=review.yaml --dry-run ./server

    # Fail CI when the score reaches 40
    mcp-sandbox analyze --config=review.yaml --fail-above=40 ./server

ENVIRONMENT
    MCP_SANDBOX_CONFIG   Config file when --config is absent
    ANTHROPIC_API_KEY    API key for external payload generation
    MCP_SANDBOX_DEBUG    Enable debug logging
`)
}
