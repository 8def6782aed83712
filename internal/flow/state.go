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

package flow

import (
	"container/list"
	"time"

	"dpi/internal/classify"
)

// Verdict is the block/forward decision attached to a flow. It only moves
// forward: Pending → Forward or Pending → Block, never back.
type Verdict uint8

const (
	VerdictPending Verdict = iota
	VerdictForward
	VerdictBlock
)

func (v Verdict) String() string {
	switch v {
	case VerdictForward:
		return "Forward"
	case VerdictBlock:
		return "Block"
	default:
		return "Pending"
	}
}

// ClassState tracks whether a flow still wants L7 extraction.
type ClassState uint8

const (
	NeedsL7 ClassState = iota
	Classified
)

// State is the per-flow record. It is owned by exactly one worker shard and
// is never shared, so none of its fields need synchronization.
type State struct {
	Key       FiveTuple
	FirstSeen time.Time
	LastSeen  time.Time

	PacketsAB, PacketsBA uint64
	BytesAB, BytesBA     uint64

	// SNI, HTTPHost and App are write-once: the first non-default value
	// sticks. SNITried/HostTried make the first extraction attempt
	// authoritative even when it fails.
	SNI       string
	HTTPHost  string
	SNITried  bool
	HostTried bool

	App        classify.AppLabel
	Verdict    Verdict
	ClassState ClassState

	// elem is the flow's position in the table's recency list.
	elem *list.Element
}

// Touch applies one packet's accounting to the flow.
func (s *State) Touch(dir Direction, frameLen int, ts time.Time) {
	s.LastSeen = ts
	if dir == DirAToB {
		s.PacketsAB++
		s.BytesAB += uint64(frameLen)
	} else {
		s.PacketsBA++
		s.BytesBA += uint64(frameLen)
	}
}

// SetVerdict enforces verdict monotonicity: once a flow leaves Pending the
// decision is final.
func (s *State) SetVerdict(v Verdict) {
	if s.Verdict == VerdictPending {
		s.Verdict = v
	}
}
