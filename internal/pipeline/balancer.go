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
	"dpi/internal/dissect"
	"dpi/internal/flow"
	"dpi/internal/telemetry"
)

// balancerStage dissects L2–L4, derives the canonical key, and routes each
// packet to the worker shard that owns it: worker = hash(tuple) mod N.
// Because affinity depends only on the tuple, any number of balancer threads
// can run concurrently without affecting which worker sees a flow.
//
// Packets that fail dissection bypass flow tracking entirely and go straight
// to the writer as pass-through; that keeps capture fidelity without
// over-blocking.
type balancerStage struct {
	in      *Queue[RawPacket]
	workers []*Queue[workerItem]
	writer  *Queue[outRecord]

	stats stageStats
}

func (b *balancerStage) run() {
	defer b.writer.Done()
	defer func() {
		for _, w := range b.workers {
			w.Done()
		}
	}()

	n := uint64(len(b.workers))
	for {
		raw, ok := b.in.Pop()
		if !ok {
			return
		}
		parsed, err := dissect.Parse(raw.Data)
		if err != nil {
			kind := dissect.KindOf(err)
			b.stats.ParseErrors[kind]++
			telemetry.IncParseError(kind.String())
			b.writer.Push(outRecord{raw: raw, disp: DispPassThrough})
			continue
		}
		key, dir := flow.Canonicalize(parsed.Proto, parsed.SrcIP, parsed.SrcPort, parsed.DstIP, parsed.DstPort)
		b.workers[key.Hash()%n].Push(workerItem{raw: raw, parsed: parsed, key: key, dir: dir})
	}
}
