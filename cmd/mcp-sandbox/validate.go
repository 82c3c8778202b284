// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/vvatta/mcp-automatic-review/lib/config"
	"github.com/vvatta/mcp-automatic-review/lib/process"
	"github.com/vvatta/mcp-automatic-review/sandbox"
)

func validateCmd(args []string, logger *slog.Logger) error {
	var configPath, profileName string
	flagSet := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (YAML or JSONC); default $MCP_SANDBOX_CONFIG")
	flagSet.StringVar(&profileName, "profile", sandbox.DefaultProfile, "sandbox profile")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, `mcp-sandbox validate - Check the host and launch configuration

USAGE
    mcp-sandbox validate [flags] <workspace>

FLAGS
`)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return fmt.Errorf("exactly one workspace path is required")
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	profiles, err := sandbox.LoadProfiles(cfg.ProfilesFile, logger)
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	profile, err := profiles.Resolve(profileName)
	if err != nil {
		return err
	}

	validator := sandbox.NewValidator()
	validator.ValidateAll(sandbox.DetectCapabilities(), profile, launchConfig(cfg, flagSet.Arg(0), profileName))
	validator.PrintResults(os.Stdout)
	if validator.HasErrors() {
		return &exitError{code: process.ExitError}
	}
	return nil
}
