// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "MCP_SANDBOX_CONFIG"

// APIKeyVariable supplies api_key when the file leaves it empty.
const APIKeyVariable = "ANTHROPIC_API_KEY"

// Config is the complete analyzer configuration.
type Config struct {
	// ContainerMemoryLimit is the sandbox memory ceiling in docker
	// notation ("512m", "2g"). Empty disables the limit.
	ContainerMemoryLimit string `yaml:"container_memory_limit" json:"container_memory_limit"`

	// ContainerCPULimit is the number of CPUs the sandbox may use.
	// Zero disables the limit.
	ContainerCPULimit float64 `yaml:"container_cpu_limit" json:"container_cpu_limit"`

	EnableNetworkMonitoring    bool `yaml:"enable_network_monitoring" json:"enable_network_monitoring"`
	EnableFilesystemMonitoring bool `yaml:"enable_filesystem_monitoring" json:"enable_filesystem_monitoring"`
	EnableProcessMonitoring    bool `yaml:"enable_process_monitoring" json:"enable_process_monitoring"`

	// AllowOutboundNetwork keeps the host network namespace. When
	// false and the target is reached over stdio, the sandbox gets an
	// empty network namespace.
	AllowOutboundNetwork bool `yaml:"allow_outbound_network" json:"allow_outbound_network"`

	// NumValidPayloads bounds benign payloads requested from the
	// external generator per capability.
	NumValidPayloads int `yaml:"num_valid_payloads" json:"num_valid_payloads"`

	// NumMaliciousPayloads bounds payloads per capability and attack
	// type.
	NumMaliciousPayloads int `yaml:"num_malicious_payloads" json:"num_malicious_payloads"`

	EnableExternalFuzzing bool   `yaml:"enable_external_fuzzing" json:"enable_external_fuzzing"`
	APIKey                string `yaml:"api_key" json:"api_key"`
	LLMModel              string `yaml:"llm_model" json:"llm_model"`

	// ServerURL selects the HTTP transport when set. Otherwise the
	// target is reached over its stdin/stdout.
	ServerURL string `yaml:"server_url" json:"server_url"`

	// ServerCommand is the argv that starts the target inside the
	// sandbox, relative to the workspace.
	ServerCommand []string `yaml:"server_command" json:"server_command"`

	SessionTimeout         Duration `yaml:"session_timeout" json:"session_timeout"`
	InvocationTimeout      Duration `yaml:"invocation_timeout" json:"invocation_timeout"`
	CorrelationGrace       Duration `yaml:"correlation_grace" json:"correlation_grace"`
	DedupWindow            Duration `yaml:"dedup_window" json:"dedup_window"`
	MaxParallelInvocations int      `yaml:"max_parallel_invocations" json:"max_parallel_invocations"`

	// NetworkAllowlist lists destinations (IPs, CIDRs or host names)
	// the target may contact without a finding. Loopback is always
	// allowed.
	NetworkAllowlist []string `yaml:"network_allowlist" json:"network_allowlist"`

	// ProfilesFile adds sandbox profiles to the built-in set.
	ProfilesFile string `yaml:"profiles_file" json:"profiles_file"`

	Evidence EvidenceConfig `yaml:"evidence" json:"evidence"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Publish  PublishConfig  `yaml:"publish" json:"publish"`
}

// EvidenceConfig configures the session evidence archive.
type EvidenceConfig struct {
	// Path is the archive file. Empty disables the archive.
	Path string `yaml:"path" json:"path"`

	// Compression is "zstd", "lz4" or "none".
	Compression string `yaml:"compression" json:"compression"`

	// Recipients are age public keys. When non-empty the archive is
	// encrypted to them.
	Recipients []string `yaml:"recipients" json:"recipients"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// TextfilePath is written after each session. Empty disables it.
	TextfilePath string `yaml:"textfile_path" json:"textfile_path"`
}

// PublishConfig configures NATS publication of reports.
type PublishConfig struct {
	// NATSURL enables publication when set.
	NATSURL string `yaml:"nats_url" json:"nats_url"`

	// SubjectPrefix prefixes every subject. Default: mcpsandbox.
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		ContainerMemoryLimit:       "512m",
		ContainerCPULimit:          1.0,
		EnableNetworkMonitoring:    true,
		EnableFilesystemMonitoring: true,
		EnableProcessMonitoring:    true,
		AllowOutboundNetwork:       false,
		NumValidPayloads:           5,
		NumMaliciousPayloads:       10,
		LLMModel:                   "claude-sonnet-4-5",
		SessionTimeout:             Duration(300 * time.Second),
		InvocationTimeout:          Duration(10 * time.Second),
		CorrelationGrace:           Duration(time.Second),
		DedupWindow:                Duration(5 * time.Second),
		MaxParallelInvocations:     4,
		Evidence: EvidenceConfig{
			Compression: "zstd",
		},
		Publish: PublishConfig{
			SubjectPrefix: "mcpsandbox",
		},
	}
}

// Resolve loads the file named by flagPath, or by MCP_SANDBOX_CONFIG
// when flagPath is empty. With neither set it returns Default() with
// the environment fallbacks applied.
func Resolve(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.applyEnvironment()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := cfg.decode(path, data); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyEnvironment()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

func (c *Config) applyEnvironment() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv(APIKeyVariable)
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.ProfilesFile = expandVars(c.ProfilesFile, vars)
	c.Evidence.Path = expandVars(c.Evidence.Path, vars)
	c.Metrics.TextfilePath = expandVars(c.Metrics.TextfilePath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking
// vars before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return parts[2]
	})
}

var memoryPattern = regexp.MustCompile(`^([0-9]+)([kKmMgGtT]?)[bB]?$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ContainerMemoryLimit != "" && !memoryPattern.MatchString(c.ContainerMemoryLimit) {
		errs = append(errs, fmt.Errorf("container_memory_limit %q is not a size like 512m", c.ContainerMemoryLimit))
	}
	if c.ContainerCPULimit < 0 {
		errs = append(errs, fmt.Errorf("container_cpu_limit must not be negative"))
	}
	if c.NumValidPayloads < 0 {
		errs = append(errs, fmt.Errorf("num_valid_payloads must not be negative"))
	}
	if c.NumMaliciousPayloads < 1 {
		errs = append(errs, fmt.Errorf("num_malicious_payloads must be at least 1"))
	}
	if c.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session_timeout must be positive"))
	}
	if c.InvocationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invocation_timeout must be positive"))
	}
	if c.CorrelationGrace < 0 {
		errs = append(errs, fmt.Errorf("correlation_grace must not be negative"))
	}
	if c.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("dedup_window must not be negative"))
	}
	if c.MaxParallelInvocations < 1 {
		errs = append(errs, fmt.Errorf("max_parallel_invocations must be at least 1"))
	}
	if c.ServerURL == "" && len(c.ServerCommand) == 0 {
		errs = append(errs, fmt.Errorf("one of server_url or server_command is required"))
	}
	if c.EnableExternalFuzzing && c.APIKey == "" {
		errs = append(errs, fmt.Errorf("enable_external_fuzzing requires api_key or %s", APIKeyVariable))
	}
	switch c.Evidence.Compression {
	case "", "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("evidence.compression must be one of: zstd, lz4, none"))
	}

	return errors.Join(errs...)
}

// MemoryMax converts ContainerMemoryLimit to a systemd MemoryMax value:
// "512m" becomes "512M". Returns "" when no limit is set.
func (c *Config) MemoryMax() string {
	match := memoryPattern.FindStringSubmatch(c.ContainerMemoryLimit)
	if match == nil {
		return ""
	}
	return match[1] + strings.ToUpper(match[2])
}

// CPUQuota converts ContainerCPULimit to a systemd CPUQuota value:
// 1.0 becomes "100%", 0.5 becomes "50%". Returns "" when no limit is
// set.
func (c *Config) CPUQuota() string {
	if c.ContainerCPULimit <= 0 {
		return ""
	}
	return strconv.FormatFloat(c.ContainerCPULimit*100, 'f', -1, 64) + "%"
}

// Duration is a time.Duration written as a Go duration string ("300s",
// "1m30s") or a bare number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	return d.parse(strings.Trim(string(data), `"`))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) parse(value string) error {
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		*d = Duration(seconds * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value)
	}
	*d = Duration(parsed)
	return nil
}
