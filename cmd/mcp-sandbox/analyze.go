// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/vvatta/mcp-automatic-review/lib/config"
	"github.com/vvatta/mcp-automatic-review/lib/evidence"
	"github.com/vvatta/mcp-automatic-review/lib/llm"
	"github.com/vvatta/mcp-automatic-review/lib/process"
	"github.com/vvatta/mcp-automatic-review/lib/publish"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
	"github.com/vvatta/mcp-automatic-review/lib/tui"
	"github.com/vvatta/mcp-automatic-review/payload"
	"github.com/vvatta/mcp-automatic-review/sandbox"
	"github.com/vvatta/mcp-automatic-review/session"
	"github.com/vvatta/mcp-automatic-review/telemetry"
)

// analyzeOptions holds the analyze command's flags.
type analyzeOptions struct {
	configPath string
	staticPath string
	outputPath string
	profile    string
	sessionID  string
	attacks    []string
	failAbove  int
	dryRun     bool
}

func (o *analyzeOptions) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "config file (YAML or JSONC); default $MCP_SANDBOX_CONFIG")
	flagSet.StringVar(&o.staticPath, "static", "", "static scan summary JSON {total, critical, high, medium, low}")
	flagSet.StringVarP(&o.outputPath, "output", "o", "", "write the report JSON here instead of stdout")
	flagSet.StringVar(&o.profile, "profile", sandbox.DefaultProfile, "sandbox profile")
	flagSet.StringVar(&o.sessionID, "session-id", "", "session ID (default: random UUID)")
	flagSet.StringSliceVar(&o.attacks, "attack", nil, "attack types to run, repeatable (default: all)")
	flagSet.IntVar(&o.failAbove, "fail-above", 0, "exit 3 when the score reaches this value (0 disables)")
	flagSet.BoolVar(&o.dryRun, "dry-run", false, "print the sandbox command and exit")
}

func analyzeCmd(args []string, logger *slog.Logger) error {
	var options analyzeOptions
	flagSet := pflag.NewFlagSet("analyze", pflag.ContinueOnError)
	options.addFlags(flagSet)
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, `mcp-sandbox analyze - Analyze a capability server

USAGE
    mcp-sandbox analyze [flags] <workspace>

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
	workspace := flagSet.Arg(0)

	cfg, err := config.Resolve(options.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	attacks, err := parseAttacks(options.attacks)
	if err != nil {
		return err
	}
	static, err := loadStatic(options.staticPath)
	if err != nil {
		return err
	}

	profiles, err := sandbox.LoadProfiles(cfg.ProfilesFile, logger)
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	controller, err := sandbox.New(sandbox.Config{Profiles: profiles, Logger: logger})
	if err != nil {
		return err
	}
	launch := launchConfig(cfg, workspace, options.profile)

	if options.dryRun {
		argv, err := controller.DryRun(launch)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(argv, " "))
		return nil
	}

	sinks, cleanup, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	coordinator, err := session.New(session.Config{
		Launcher: &session.SandboxLauncher{
			Controller: controller,
			ServerURL:  cfg.ServerURL,
			Logger:     logger,
		},
		Launch:            launch,
		SessionID:         options.sessionID,
		Collectors:        buildCollectors(cfg, logger),
		Generator:         buildGenerator(cfg, logger),
		AttackTypes:       attacks,
		Static:            static,
		SessionTimeout:    cfg.SessionTimeout.Std(),
		InvocationTimeout: cfg.InvocationTimeout.Std(),
		MaxParallel:       cfg.MaxParallelInvocations,
		Grace:             cfg.CorrelationGrace.Std(),
		NetworkAllowlist:  cfg.NetworkAllowlist,
		Sinks:             sinks,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	result := coordinator.Run(ctx)

	if err := writeReport(options.outputPath, result.Report); err != nil {
		return err
	}
	if stderrIsTerminal() {
		if err := tui.PrintSummary(os.Stderr, result.Report, tui.DefaultTheme); err != nil {
			logger.Warn("printing summary", "error", err)
		}
	}
	if code := process.ExitCode(result.Report, options.failAbove); code != process.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// launchConfig maps the analyzer configuration onto a sandbox launch.
func launchConfig(cfg *config.Config, workspace, profile string) sandbox.LaunchConfig {
	launch := sandbox.LaunchConfig{
		Workspace:            workspace,
		Command:              cfg.ServerCommand,
		Profile:              profile,
		AllowOutboundNetwork: cfg.AllowOutboundNetwork,
		Resources: sandbox.ResourceConfig{
			MemoryMax: cfg.MemoryMax(),
			CPUQuota:  cfg.CPUQuota(),
		},
	}
	if cfg.ServerURL != "" {
		launch.Transport = sandbox.TransportHTTP
	}
	return launch
}

// buildCollectors returns the enabled collectors. An empty, non-nil
// slice disables telemetry entirely.
func buildCollectors(cfg *config.Config, logger *slog.Logger) []telemetry.Collector {
	collectors := []telemetry.Collector{}
	if cfg.EnableNetworkMonitoring {
		network := telemetry.NewNetworkCollector(logger)
		network.DedupWindow = cfg.DedupWindow.Std()
		collectors = append(collectors, network)
	}
	if cfg.EnableFilesystemMonitoring {
		collectors = append(collectors, telemetry.NewFilesystemCollector(logger))
	}
	if cfg.EnableProcessMonitoring {
		collectors = append(collectors, telemetry.NewProcessCollector(logger))
	}
	return collectors
}

func buildGenerator(cfg *config.Config, logger *slog.Logger) payload.Generator {
	options := payload.Options{
		MaxMalicious: cfg.NumMaliciousPayloads,
		MaxValid:     cfg.NumValidPayloads,
		Model:        cfg.LLMModel,
		Logger:       logger,
	}
	if cfg.EnableExternalFuzzing {
		options.Provider = llm.NewAnthropic(http.DefaultClient, llm.DefaultAnthropicURL, cfg.APIKey)
	}
	return payload.NewGenerator(options)
}

// buildSinks returns the configured sinks in order: evidence first so
// the published report carries the archive digest.
func buildSinks(cfg *config.Config, logger *slog.Logger) ([]session.Sink, func(), error) {
	var sinks []session.Sink
	cleanup := func() {}

	if cfg.Evidence.Path != "" {
		compression, err := evidence.ParseCompression(cfg.Evidence.Compression)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, &session.EvidenceSink{
			Path: cfg.Evidence.Path,
			Options: evidence.Options{
				Compression: compression,
				Recipients:  cfg.Evidence.Recipients,
			},
		})
	}
	if cfg.Metrics.TextfilePath != "" {
		sinks = append(sinks, &session.MetricsSink{TextfilePath: cfg.Metrics.TextfilePath})
	}
	if cfg.Publish.NATSURL != "" {
		publisher, err := publish.Connect(cfg.Publish.NATSURL, cfg.Publish.SubjectPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, &session.PublishSink{Publisher: publisher})
		cleanup = publisher.Close
	}
	return sinks, cleanup, nil
}

func parseAttacks(values []string) ([]schema.AttackType, error) {
	if len(values) == 0 {
		return nil, nil
	}
	var attacks []schema.AttackType
	for _, value := range values {
		attack, err := schema.ParseAttackType(value)
		if err != nil {
			return nil, err
		}
		if attack == schema.AttackControl {
			return nil, fmt.Errorf("%q runs automatically and cannot be selected", value)
		}
		attacks = append(attacks, attack)
	}
	return attacks, nil
}

// loadStatic reads the static scanner's summary. An empty path yields
// a zero summary.
func loadStatic(path string) (schema.StaticSummary, error) {
	var summary schema.StaticSummary
	if path == "" {
		return summary, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return summary, fmt.Errorf("reading static summary: %w", err)
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("parsing static summary %s: %w", path, err)
	}
	if summary.Total < 0 || summary.Critical < 0 || summary.High < 0 || summary.Medium < 0 || summary.Low < 0 {
		return summary, fmt.Errorf("static summary %s has negative counts", path)
	}
	return summary, nil
}

func writeReport(path string, report schema.RiskReport) error {
	var output io.Writer = os.Stdout
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating report: %w", err)
		}
		defer file.Close()
		output = file
	}
	return encodeReport(output, report)
}

func encodeReport(w io.Writer, report schema.RiskReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
