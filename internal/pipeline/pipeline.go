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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"dpi/internal/capture"
	"dpi/internal/classify"
	"dpi/internal/export"
	"dpi/internal/flow"
	"dpi/internal/rules"
)

// Run failures carry one of these sentinels so the CLI can map them to its
// input/output exit codes.
var (
	ErrInput  = errors.New("input capture error")
	ErrOutput = errors.New("output capture error")
)

// Queue capacity defaults; they bound pipeline memory independently of
// capture size.
const (
	DefaultBalancerQueue = 8192
	DefaultWorkerQueue   = 4096
	DefaultWriterQueue   = 16384

	DefaultShutdownDeadline = 5 * time.Second
)

// Config sizes the pipeline. Zero values select defaults.
type Config struct {
	Balancers int
	Workers   int

	MaxFlowsPerShard int
	IdleHorizon      time.Duration

	// Ordered makes the writer release records in reader sequence order.
	Ordered bool
	// HoldBudget > 0 buffers up to that many packets per unclassified
	// HTTPS flow until SNI classification (off by default).
	HoldBudget int

	BalancerQueue int
	WorkerQueue   int
	WriterQueue   int

	ShutdownDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.Balancers <= 0 {
		c.Balancers = 1
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU() - 2
		if c.Workers < 1 {
			c.Workers = 1
		}
	}
	if c.BalancerQueue <= 0 {
		c.BalancerQueue = DefaultBalancerQueue
	}
	if c.WorkerQueue <= 0 {
		c.WorkerQueue = DefaultWorkerQueue
	}
	if c.WriterQueue <= 0 {
		c.WriterQueue = DefaultWriterQueue
	}
	if c.ShutdownDeadline <= 0 {
		c.ShutdownDeadline = DefaultShutdownDeadline
	}
	return c
}

// Engine owns one end-to-end run: reader → balancers → workers → writer.
// The rule set and classifier are shared read-only; everything mutable is
// private to a single stage goroutine.
type Engine struct {
	cfg   Config
	rules *rules.Set
	cls   *classify.Classifier
	sink  export.Sink
	log   *zap.Logger
}

// New assembles an engine. sink may be nil to discard flow summaries.
func New(cfg Config, ruleSet *rules.Set, cls *classify.Classifier, sink export.Sink, log *zap.Logger) *Engine {
	if sink == nil {
		sink = export.NopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg.withDefaults(), rules: ruleSet, cls: cls, sink: sink, log: log}
}

// Run processes src into dst and returns the merged report. It blocks until
// the writer finishes or, after cancellation, until the shutdown deadline
// forces an error return. Fatal output errors surface here; per-packet
// errors only show up as counters.
func (e *Engine) Run(ctx context.Context, src *capture.Reader, dst *capture.Writer) (*Report, error) {
	cfg := e.cfg

	balancerIn := NewQueue[RawPacket](cfg.BalancerQueue, 1)
	writerIn := NewQueue[outRecord](cfg.WriterQueue, cfg.Balancers+cfg.Workers)
	workerIns := make([]*Queue[workerItem], cfg.Workers)
	for i := range workerIns {
		workerIns[i] = NewQueue[workerItem](cfg.WorkerQueue, cfg.Balancers)
	}

	reader := &readerStage{src: src, out: balancerIn, log: e.log}

	balancers := make([]*balancerStage, cfg.Balancers)
	for i := range balancers {
		balancers[i] = &balancerStage{in: balancerIn, workers: workerIns, writer: writerIn}
	}

	workers := make([]*workerStage, cfg.Workers)
	for i := range workers {
		workers[i] = &workerStage{
			id:         i,
			in:         workerIns[i],
			out:        writerIn,
			table:      flow.NewTable(cfg.MaxFlowsPerShard, cfg.IdleHorizon),
			cls:        e.cls,
			rules:      e.rules,
			sink:       e.sink,
			holdBudget: cfg.HoldBudget,
		}
		if cfg.HoldBudget > 0 {
			workers[i].held = make(map[flow.FiveTuple][]outRecord)
		}
	}

	writer := &writerStage{in: writerIn, dst: dst, ordered: cfg.Ordered, log: e.log}

	e.log.Info("pipeline starting",
		zap.Int("balancers", cfg.Balancers),
		zap.Int("workers", cfg.Workers),
		zap.Bool("ordered", cfg.Ordered),
	)

	var wg sync.WaitGroup
	wg.Add(1 + cfg.Balancers + cfg.Workers)
	go func() { defer wg.Done(); reader.run(ctx) }()
	for _, b := range balancers {
		b := b
		go func() { defer wg.Done(); b.run() }()
	}
	for _, w := range workers {
		w := w
		go func() { defer wg.Done(); w.run() }()
	}

	done := make(chan struct{})
	go func() {
		writer.run()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Cancellation: the reader stops on its own; give the rest of
		// the pipeline a bounded window to drain.
		select {
		case <-done:
		case <-time.After(cfg.ShutdownDeadline):
			return nil, fmt.Errorf("pipeline failed to drain within %s", cfg.ShutdownDeadline)
		}
	}

	if reader.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, reader.err)
	}
	if writer.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutput, writer.err)
	}

	report := writer.report
	for _, b := range balancers {
		report.mergeStage(&b.stats)
	}
	for _, w := range workers {
		report.mergeStage(&w.stats)
	}

	e.log.Info("pipeline finished",
		zap.Uint64("packets", report.TotalPackets),
		zap.Uint64("forwarded", report.Forwarded),
		zap.Uint64("dropped", report.Dropped),
	)
	return &report, nil
}
