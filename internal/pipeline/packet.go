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
	"time"

	"dpi/internal/classify"
	"dpi/internal/dissect"
	"dpi/internal/flow"
)

// RawPacket is one captured frame with the reader-assigned sequence number
// (monotonic from 1) and capture timestamp. The byte slice is immutable once
// it leaves the reader.
type RawPacket struct {
	Seq     uint64
	TsSec   uint32
	TsUsec  uint32
	OrigLen uint32
	Data    []byte
}

// Timestamp converts the capture timestamp to time.Time.
func (p *RawPacket) Timestamp() time.Time {
	return time.Unix(int64(p.TsSec), int64(p.TsUsec)*1000)
}

// workerItem is the balancer → worker unit: the raw frame plus the parsed
// view and canonical key the balancer already computed, so workers never
// re-dissect.
type workerItem struct {
	raw    RawPacket
	parsed dissect.Parsed
	key    flow.FiveTuple
	dir    flow.Direction
}

// Disposition is the writer-facing fate of one packet.
type Disposition uint8

const (
	DispForwarded Disposition = iota
	DispDropped
	DispPassThrough
)

func (d Disposition) String() string {
	switch d {
	case DispDropped:
		return "dropped"
	case DispPassThrough:
		return "passthrough"
	default:
		return "forwarded"
	}
}

// outRecord is the unit consumed by the writer. Every packet the reader
// emits results in exactly one outRecord, which is what lets the ordered
// writer release records in contiguous sequence order.
type outRecord struct {
	raw  RawPacket
	app  classify.AppLabel
	disp Disposition
}
