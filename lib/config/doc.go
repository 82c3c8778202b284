// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the analyzer configuration.
//
// Configuration comes from at most one file, chosen by the --config flag
// or the MCP_SANDBOX_CONFIG environment variable (see [Resolve]). Files
// ending in .json or .jsonc are parsed as JSON with comments and
// trailing commas allowed; anything else is parsed as YAML. Keys use
// the same snake_case names in both formats.
//
// Values missing from the file keep their [Default]. The only
// environment variable consulted besides MCP_SANDBOX_CONFIG is
// ANTHROPIC_API_KEY, used when api_key is empty. Path fields have
// ${HOME} and ${VAR:-default} patterns expanded after loading.
//
// This package depends on no other packages in this module.
package config
