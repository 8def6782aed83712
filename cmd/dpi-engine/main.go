// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dpi/internal/capture"
	"dpi/internal/classify"
	"dpi/internal/export"
	"dpi/internal/pipeline"
	"dpi/internal/rules"
	"dpi/internal/telemetry"
)

// Exit codes.
const (
	exitOK       = 0
	exitUsage    = 2
	exitInput    = 3
	exitOutput   = 4
	exitInternal = 5
)

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: dpi-engine <input.pcap> <output.pcap> [options]\n\nOptions:\n")
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
}

func main() {
	// Anything that escapes run is an internal fault, not a usage or I/O
	// problem.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "internal panic: %v\n%s", r, debug.Stack())
			os.Exit(exitInternal)
		}
	}()
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("dpi-engine", flag.ContinueOnError)

	var blockApps, blockDomains, blockIPs stringList
	fs.Var(&blockApps, "block-app", "Block an application label (repeatable), e.g. YouTube")
	fs.Var(&blockDomains, "block-domain", "Block flows whose SNI/Host ends in this suffix (repeatable)")
	fs.Var(&blockIPs, "block-ip", "Block flows touching this IPv4 address (repeatable)")
	rulesFile := fs.String("rules", "", "YAML policy file loaded before the flag rules")

	lbs := fs.Int("lbs", 1, "Balancer thread count (max 8)")
	fps := fs.Int("fps", 0, "Fast-path worker count (0 = hardware parallelism - 2)")
	maxFlows := fs.Int("max-flows", 0, "Per-shard flow cap (0 = default 65536)")
	idle := fs.Duration("idle", 0, "Idle flow eviction horizon (0 = default 5m)")
	ordered := fs.Bool("ordered", false, "Reorder output by reader sequence number")
	hold := fs.Int("hold", 0, "Buffer up to N packets of unclassified HTTPS flows until SNI arrives (0 = off)")
	deadline := fs.Duration("deadline", 0, "Forced shutdown deadline after cancellation (0 = default 5s)")

	exportKind := fs.String("export", "none", "Flow summary sink: none, file, redis, kafka")
	exportPath := fs.String("export-path", "", "File sink: JSONL output path")
	redisAddr := fs.String("redis-addr", "", "Redis sink: host:port")
	redisKey := fs.String("redis-key", "", "Redis sink: list key (default dpi:flows)")
	kafkaTopic := fs.String("kafka-topic", "", "Kafka sink: topic (default dpi-flows)")

	metricsAddr := fs.String("metrics", "", "If non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", false, "Emit JSON logs instead of console encoding")

	fs.Usage = func() { usage(fs) }

	// Positionals come first, exactly as documented: everything after the
	// two capture paths is options.
	if len(os.Args) < 3 {
		usage(fs)
		return exitUsage
	}
	inputPath, outputPath := os.Args[1], os.Args[2]
	if strings.HasPrefix(inputPath, "-") || strings.HasPrefix(outputPath, "-") {
		usage(fs)
		return exitUsage
	}
	if err := fs.Parse(os.Args[3:]); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		return exitUsage
	}
	if *lbs < 1 || *lbs > 8 {
		fmt.Fprintf(os.Stderr, "--lbs must be in 1..8\n")
		return exitUsage
	}

	log, err := buildLogger(*logLevel, *logJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	defer func() { _ = log.Sync() }()

	ruleSet, err := buildRules(*rulesFile, blockApps, blockDomains, blockIPs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	sink, err := export.BuildSink(*exportKind, export.Options{
		Path:       *exportPath,
		RedisAddr:  *redisAddr,
		RedisKey:   *redisKey,
		KafkaTopic: *kafkaTopic,
	}, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	defer func() { _ = sink.Close() }()

	if *metricsAddr != "" {
		telemetry.Serve(*metricsAddr, log)
	}

	in, err := os.Open(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening input: %v\n", err)
		return exitInput
	}
	defer in.Close()
	src, err := capture.NewReader(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading input: %v\n", err)
		return exitInput
	}

	out, err := os.Create(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating output: %v\n", err)
		return exitOutput
	}
	defer out.Close()
	dst, err := capture.NewWriter(out, src.Snaplen())
	if err != nil {
		fmt.Fprintf(os.Stderr, "writing output: %v\n", err)
		return exitOutput
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := pipeline.New(pipeline.Config{
		Balancers:        *lbs,
		Workers:          *fps,
		MaxFlowsPerShard: *maxFlows,
		IdleHorizon:      *idle,
		Ordered:          *ordered,
		HoldBudget:       *hold,
		ShutdownDeadline: *deadline,
	}, ruleSet, classify.NewClassifier(), sink, log)

	report, err := eng.Run(ctx, src, dst)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		switch {
		case errors.Is(err, pipeline.ErrInput):
			return exitInput
		case errors.Is(err, pipeline.ErrOutput):
			return exitOutput
		default:
			return exitInternal
		}
	}
	if err := out.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "syncing output: %v\n", err)
		return exitOutput
	}

	report.Format(os.Stdout)
	return exitOK
}

// buildRules assembles the policy: rules-file entries first, then the
// repeatable CLI flags in app/domain/ip order.
func buildRules(path string, apps, domains, ips stringList) (*rules.Set, error) {
	var list []rules.Rule
	if path != "" {
		fromFile, err := rules.LoadFile(path)
		if err != nil {
			return nil, err
		}
		list = fromFile
	}
	for _, name := range apps {
		app, err := classify.ParseLabel(name)
		if err != nil {
			return nil, err
		}
		list = append(list, rules.Rule{Kind: rules.BlockApp, App: app})
	}
	for _, suffix := range domains {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			return nil, fmt.Errorf("empty --block-domain suffix")
		}
		list = append(list, rules.Rule{Kind: rules.BlockDomainSuffix, Suffix: suffix})
	}
	for _, addr := range ips {
		r, err := rules.ParseBlockIP(addr)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return rules.NewSet(list), nil
}

func buildLogger(level string, jsonEncoding bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if !jsonEncoding {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	// The report owns stdout; logs go to stderr.
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
