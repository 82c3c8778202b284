// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Injected with -ldflags -X. Left unset, commit and time are read
// from the module build info.
var (
	GitCommit = ""
	GitDirty  = ""
	BuildTime = ""
	Version   = "0.1.0-dev"
)

// ClientName is the client name sent in the MCP initialize request.
const ClientName = "mcp-sandbox"

// build describes the binary's source revision.
type build struct {
	commit string
	dirty  bool
	time   string
}

// current merges the injected variables over the VCS stamps the Go
// toolchain records in the build info.
func current() build {
	result := build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if info, ok := debug.ReadBuildInfo(); ok {
		result = fillFromSettings(result, info.Settings)
	}
	if result.commit == "" {
		result.commit = "unknown"
	}
	if result.time == "" {
		result.time = "unknown"
	}
	return result
}

func fillFromSettings(result build, settings []debug.BuildSetting) build {
	injected := GitDirty != ""
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if result.commit == "" {
				result.commit = setting.Value
				if len(result.commit) > 12 {
					result.commit = result.commit[:12]
				}
			}
		case "vcs.time":
			if result.time == "" {
				result.time = setting.Value
			}
		case "vcs.modified":
			if !injected {
				result.dirty = setting.Value == "true"
			}
		}
	}
	return result
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	b := current()
	dirty := ""
	if b.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, b.commit, dirty, b.time)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// UserAgent returns the User-Agent header value for outbound HTTP.
func UserAgent() string {
	return ClientName + "/" + Version
}
