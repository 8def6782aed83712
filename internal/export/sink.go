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

// Package export publishes flow summaries to pluggable sinks. A summary is
// emitted when a flow is evicted and for every live flow at teardown.
package export

import (
	"fmt"
	"net/netip"

	"dpi/internal/flow"
)

// FlowSummary is the flattened, serializable record of one flow's lifetime.
type FlowSummary struct {
	Proto     uint8  `json:"proto"`
	ClientA   string `json:"endpoint_a"`
	ClientB   string `json:"endpoint_b"`
	FirstSeen int64  `json:"first_seen_unix"`
	LastSeen  int64  `json:"last_seen_unix"`
	PacketsAB uint64 `json:"packets_ab"`
	PacketsBA uint64 `json:"packets_ba"`
	BytesAB   uint64 `json:"bytes_ab"`
	BytesBA   uint64 `json:"bytes_ba"`
	SNI       string `json:"sni,omitempty"`
	HTTPHost  string `json:"http_host,omitempty"`
	App       string `json:"app"`
	Verdict   string `json:"verdict"`
}

// Summarize flattens a flow state. The flow must no longer be mutated, i.e.
// it has been evicted or the shard is being torn down.
func Summarize(f *flow.State) FlowSummary {
	return FlowSummary{
		Proto:     f.Key.Proto,
		ClientA:   endpoint(f.Key.IPA, f.Key.PortA),
		ClientB:   endpoint(f.Key.IPB, f.Key.PortB),
		FirstSeen: f.FirstSeen.Unix(),
		LastSeen:  f.LastSeen.Unix(),
		PacketsAB: f.PacketsAB,
		PacketsBA: f.PacketsBA,
		BytesAB:   f.BytesAB,
		BytesBA:   f.BytesBA,
		SNI:       f.SNI,
		HTTPHost:  f.HTTPHost,
		App:       f.App.String(),
		Verdict:   f.Verdict.String(),
	}
}

func endpoint(ip uint32, port uint16) string {
	a := netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)})
	return fmt.Sprintf("%s:%d", a, port)
}

// Sink consumes flow summaries. Implementations must be safe for concurrent
// use: every worker shard publishes into the same sink.
type Sink interface {
	OnFlows([]FlowSummary)
	Close() error
}

// NopSink drops everything. Selected when no export is configured.
type NopSink struct{}

func (NopSink) OnFlows([]FlowSummary) {}
func (NopSink) Close() error          { return nil }
