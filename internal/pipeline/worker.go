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
	"dpi/internal/classify"
	"dpi/internal/dissect"
	"dpi/internal/export"
	"dpi/internal/flow"
	"dpi/internal/rules"
	"dpi/internal/telemetry"
)

// sweepInterval is how many packets a worker processes between idle-flow
// sweeps.
const sweepInterval = 1024

// workerStage is one fast-path shard. It exclusively owns its flow table;
// nothing on this path takes a lock.
type workerStage struct {
	id    int
	in    *Queue[workerItem]
	out   *Queue[outRecord]
	table *flow.Table
	cls   *classify.Classifier
	rules *rules.Set
	sink  export.Sink

	// holdBudget > 0 buffers up to that many packets of an unclassified
	// HTTPS flow until its SNI arrives, closing the pre-classification
	// leak at the cost of reordering within the capture.
	holdBudget int
	held       map[flow.FiveTuple][]outRecord

	stats stageStats
}

func (w *workerStage) run() {
	defer w.out.Done()
	sweepCountdown := sweepInterval
	for {
		item, ok := w.in.Pop()
		if !ok {
			w.teardown()
			return
		}
		w.process(&item)
		if sweepCountdown--; sweepCountdown <= 0 {
			sweepCountdown = sweepInterval
			w.evict(w.table.SweepIdle(item.raw.Timestamp()))
		}
	}
}

// process runs the fast path for one packet: flow lookup, counters, L7
// extraction, rule evaluation, emit. The emit decision uses the verdict as
// it stood before this packet so the packet that triggers a Block is itself
// still forwarded — only the remainder of the flow is dropped.
func (w *workerStage) process(item *workerItem) {
	ts := item.raw.Timestamp()
	f, created, evicted := w.table.GetOrCreate(item.key, ts)
	if evicted != nil {
		w.evict([]*flow.State{evicted})
	}
	verdictBefore := f.Verdict

	f.Touch(item.dir, len(item.raw.Data), ts)
	if created {
		w.classifyNew(f)
	}

	if f.ClassState == flow.NeedsL7 && item.parsed.PayloadLen > 0 {
		w.extract(f, item)
	}

	if f.Verdict == flow.VerdictPending {
		if v, matched := w.rules.Evaluate(f); matched {
			f.SetVerdict(v)
		} else if f.ClassState == flow.Classified {
			f.SetVerdict(flow.VerdictForward)
		}
	}

	rec := outRecord{raw: item.raw, app: f.App, disp: DispForwarded}
	if verdictBefore == flow.VerdictBlock {
		rec.disp = DispDropped
	}

	if w.holdBudget > 0 && w.shouldHold(f) {
		w.held[f.Key] = append(w.held[f.Key], rec)
		if len(w.held[f.Key]) >= w.holdBudget {
			w.releaseHeld(f)
		}
		return
	}
	if f.ClassState == flow.Classified || f.SNITried {
		w.releaseHeld(f)
	}
	w.out.Push(rec)
}

// classifyNew settles flows that will never see an L7 extractor — anything
// that is not TCP on port 443 or 80 — straight through the port heuristic.
func (w *workerStage) classifyNew(f *flow.State) {
	if f.Key.Proto == dissect.ProtoTCP && (hasPort(f.Key, 443) || hasPort(f.Key, 80)) {
		return // wait for ClientHello / request line
	}
	f.App = w.cls.Classify("", "", serverPort(f.Key))
	f.ClassState = flow.Classified
}

// extract runs the appropriate L7 extractor on a client→server payload. The
// first attempt per flow is authoritative: a malformed ClientHello or
// request leaves the flow unclassified for good, so crafted retries cannot
// repoison classification.
func (w *workerStage) extract(f *flow.State, item *workerItem) {
	payload := item.parsed.Payload(item.raw.Data)
	switch {
	case item.parsed.DstPort == 443 && !f.SNITried:
		f.SNITried = true
		sni, err := dissect.ExtractSNI(payload)
		if err != nil {
			w.stats.ParseErrors[dissect.KindMalformedTLS]++
			telemetry.IncParseError(dissect.KindMalformedTLS.String())
			return
		}
		f.SNI = sni
		w.stats.SNIExtracted++
		telemetry.IncExtraction("sni")
		w.classify(f)
	case item.parsed.DstPort == 80 && !f.HostTried:
		f.HostTried = true
		if !dissect.LooksLikeHTTPRequest(payload) {
			// Not a request head; settle on the port heuristic.
			w.classify(f)
			return
		}
		host, err := dissect.ExtractHost(payload)
		if err != nil {
			w.stats.ParseErrors[dissect.KindMalformedHTTP]++
			telemetry.IncParseError(dissect.KindMalformedHTTP.String())
			return
		}
		f.HTTPHost = host
		w.stats.HostExtracted++
		telemetry.IncExtraction("host")
		w.classify(f)
	}
}

func (w *workerStage) classify(f *flow.State) {
	f.App = w.cls.Classify(f.SNI, f.HTTPHost, serverPort(f.Key))
	f.ClassState = flow.Classified
}

// shouldHold reports whether the packet belongs to an HTTPS flow still
// waiting for its SNI. Once the one extraction attempt has happened the flow
// settles, successfully classified or not, and holding stops.
func (w *workerStage) shouldHold(f *flow.State) bool {
	return f.ClassState == flow.NeedsL7 && !f.SNITried &&
		f.Key.Proto == dissect.ProtoTCP && hasPort(f.Key, 443)
}

// releaseHeld flushes any held packets with the flow's current verdict
// applied, so a block decided at classification time covers the packets that
// arrived before it.
func (w *workerStage) releaseHeld(f *flow.State) {
	held := w.held[f.Key]
	if held == nil {
		return
	}
	delete(w.held, f.Key)
	for _, rec := range held {
		rec.app = f.App
		if f.Verdict == flow.VerdictBlock {
			rec.disp = DispDropped
		}
		w.out.Push(rec)
	}
}

// retire settles a flow's final accounting: its whole packet history counts
// toward its final application label, and a Block verdict marks that label
// blocked in the report.
func (w *workerStage) retire(f *flow.State) export.FlowSummary {
	w.releaseHeld(f)
	w.stats.AppPackets[f.App] += f.PacketsAB + f.PacketsBA
	if f.Verdict == flow.VerdictBlock {
		w.stats.AppBlocked[f.App] = true
	}
	telemetry.AddAppPackets(f.App.String(), f.PacketsAB+f.PacketsBA)
	return export.Summarize(f)
}

// evict publishes summaries for evicted flows and flushes anything still
// held for them.
func (w *workerStage) evict(flows []*flow.State) {
	if len(flows) == 0 {
		return
	}
	summaries := make([]export.FlowSummary, 0, len(flows))
	for _, f := range flows {
		summaries = append(summaries, w.retire(f))
	}
	w.sink.OnFlows(summaries)
}

// teardown drains the shard at shutdown: remaining held packets flush with
// their flows' verdicts and every live flow emits a summary.
func (w *workerStage) teardown() {
	remaining := w.table.Drain()
	summaries := make([]export.FlowSummary, 0, len(remaining))
	for _, f := range remaining {
		summaries = append(summaries, w.retire(f))
	}
	if len(summaries) > 0 {
		w.sink.OnFlows(summaries)
	}

	w.stats.FlowsCreated = w.table.Created
	w.stats.FlowsEvicted = w.table.Evicted
	w.stats.FlowsReborn = w.table.Reborn
	telemetry.FlowEvents(w.table.Created, w.table.Evicted, w.table.Reborn)
}

func hasPort(k flow.FiveTuple, port uint16) bool {
	return k.PortA == port || k.PortB == port
}

// serverPort guesses the service side of a canonical key: the well-known
// port if either side has one, else the B side.
func serverPort(k flow.FiveTuple) uint16 {
	switch {
	case k.PortA == 443 || k.PortA == 80 || k.PortA == 53:
		return k.PortA
	case k.PortB == 443 || k.PortB == 80 || k.PortB == 53:
		return k.PortB
	default:
		return k.PortB
	}
}
