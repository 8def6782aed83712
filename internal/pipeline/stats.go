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
	"fmt"
	"io"
	"sort"

	"dpi/internal/classify"
	"dpi/internal/dissect"
)

// stageStats are the counters each balancer or worker accumulates privately
// on its own goroutine. The trailing pad keeps adjacent stage structs off
// the same cache line when they live in one slice.
type stageStats struct {
	ParseErrors [dissect.NumErrKinds]uint64

	// AppPackets attributes a flow's whole packet history to its final
	// label, so the handshake that preceded classification counts toward
	// the classified application. Filled when flows retire.
	AppPackets [classify.NumLabels]uint64
	AppBlocked [classify.NumLabels]bool

	FlowsCreated  uint64
	FlowsEvicted  uint64
	FlowsReborn   uint64
	SNIExtracted  uint64
	HostExtracted uint64

	_ [64]byte
}

// Report is the final merged view printed at shutdown. Counters from all
// stages meet here only after their goroutines have been joined.
type Report struct {
	TotalPackets uint64
	Forwarded    uint64
	Dropped      uint64
	PassThrough  uint64

	AppPackets [classify.NumLabels]uint64
	AppBlocked [classify.NumLabels]bool

	ParseErrors [dissect.NumErrKinds]uint64

	FlowsCreated  uint64
	FlowsEvicted  uint64
	FlowsReborn   uint64
	SNIExtracted  uint64
	HostExtracted uint64
}

// Format writes the stdout report: totals, the application breakdown sorted
// by descending count, then parse errors and flow churn.
func (r *Report) Format(w io.Writer) {
	fmt.Fprintf(w, "Total Packets: %d\n", r.TotalPackets)
	fmt.Fprintf(w, "Forwarded: %d\n", r.Forwarded)
	fmt.Fprintf(w, "Dropped: %d\n", r.Dropped)
	if r.PassThrough > 0 {
		fmt.Fprintf(w, "Pass-through: %d\n", r.PassThrough)
	}

	type appCount struct {
		app classify.AppLabel
		n   uint64
	}
	var apps []appCount
	for l, n := range r.AppPackets {
		if n > 0 {
			apps = append(apps, appCount{classify.AppLabel(l), n})
		}
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].n != apps[j].n {
			return apps[i].n > apps[j].n
		}
		return apps[i].app < apps[j].app
	})
	fmt.Fprintf(w, "Application Breakdown:\n")
	for _, a := range apps {
		if r.AppBlocked[a.app] {
			fmt.Fprintf(w, "  %-12s %d (BLOCKED)\n", a.app, a.n)
		} else {
			fmt.Fprintf(w, "  %-12s %d\n", a.app, a.n)
		}
	}

	var anyErr bool
	for k := dissect.ErrKind(1); k < dissect.NumErrKinds; k++ {
		if r.ParseErrors[k] > 0 {
			if !anyErr {
				fmt.Fprintf(w, "Parse Errors:\n")
				anyErr = true
			}
			fmt.Fprintf(w, "  %-21s %d\n", k, r.ParseErrors[k])
		}
	}
	if r.FlowsEvicted > 0 || r.FlowsReborn > 0 {
		fmt.Fprintf(w, "Evictions: %d (%d reborn)\n", r.FlowsEvicted, r.FlowsReborn)
	}
}

func (r *Report) mergeStage(s *stageStats) {
	for k := range s.ParseErrors {
		r.ParseErrors[k] += s.ParseErrors[k]
	}
	for a := range s.AppPackets {
		r.AppPackets[a] += s.AppPackets[a]
		if s.AppBlocked[a] {
			r.AppBlocked[a] = true
		}
	}
	r.FlowsCreated += s.FlowsCreated
	r.FlowsEvicted += s.FlowsEvicted
	r.FlowsReborn += s.FlowsReborn
	r.SNIExtracted += s.SNIExtracted
	r.HostExtracted += s.HostExtracted
}
