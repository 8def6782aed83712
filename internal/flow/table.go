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
)

const (
	// DefaultMaxFlows is the soft cap per worker shard.
	DefaultMaxFlows = 65536
	// DefaultIdleHorizon evicts flows idle longer than this.
	DefaultIdleHorizon = 300 * time.Second
)

// Table is one worker shard's private FiveTuple → State map with
// least-recently-touched eviction. It is single-owner by construction: only
// the worker goroutine that holds it ever calls into it, so there are no
// locks anywhere.
type Table struct {
	flows map[FiveTuple]*State
	// lru orders flows by recency of touch; back is coldest.
	lru         *list.List
	maxFlows    int
	idleHorizon time.Duration

	// evictedKeys remembers keys this shard has evicted so a reappearance
	// can be surfaced as a reborn flow. Dispatch is flow-affine, so an
	// evicted key can only ever come back to this same shard.
	evictedKeys map[FiveTuple]struct{}

	Created uint64
	Evicted uint64
	Reborn  uint64
}

// NewTable builds a shard table. Zero or negative arguments select the
// defaults.
func NewTable(maxFlows int, idleHorizon time.Duration) *Table {
	if maxFlows <= 0 {
		maxFlows = DefaultMaxFlows
	}
	if idleHorizon <= 0 {
		idleHorizon = DefaultIdleHorizon
	}
	return &Table{
		flows:       make(map[FiveTuple]*State),
		lru:         list.New(),
		maxFlows:    maxFlows,
		idleHorizon: idleHorizon,
		evictedKeys: make(map[FiveTuple]struct{}),
	}
}

// Len reports the number of live flows.
func (t *Table) Len() int { return len(t.flows) }

// GetOrCreate returns the flow for key, creating it on first sight. When the
// creation pushes the shard past its cap, the least-recently-touched flow is
// evicted and returned so the caller can emit its summary. The returned flow
// is moved to the front of the recency list either way.
func (t *Table) GetOrCreate(key FiveTuple, ts time.Time) (f *State, created bool, evicted *State) {
	if f = t.flows[key]; f != nil {
		t.lru.MoveToFront(f.elem)
		return f, false, nil
	}
	f = &State{Key: key, FirstSeen: ts, LastSeen: ts}
	f.elem = t.lru.PushFront(f)
	t.flows[key] = f
	t.Created++
	if _, ok := t.evictedKeys[key]; ok {
		t.Reborn++
	}
	if len(t.flows) > t.maxFlows {
		evicted = t.evictColdest()
	}
	return f, true, evicted
}

// SweepIdle evicts every flow whose LastSeen is older than the idle horizon
// relative to now. The engine is offline, so "now" is capture time, not wall
// clock.
func (t *Table) SweepIdle(now time.Time) []*State {
	var out []*State
	for {
		back := t.lru.Back()
		if back == nil {
			break
		}
		f := back.Value.(*State)
		if now.Sub(f.LastSeen) < t.idleHorizon {
			// The list is recency-ordered; everything further forward
			// is younger still.
			break
		}
		out = append(out, t.evictColdest())
	}
	return out
}

// Drain removes and returns all remaining flows. Used at shard teardown to
// flush summaries; unlike eviction it does not count toward Evicted.
func (t *Table) Drain() []*State {
	out := make([]*State, 0, len(t.flows))
	for {
		back := t.lru.Back()
		if back == nil {
			break
		}
		f := t.lru.Remove(back).(*State)
		delete(t.flows, f.Key)
		out = append(out, f)
	}
	return out
}

func (t *Table) evictColdest() *State {
	back := t.lru.Back()
	if back == nil {
		return nil
	}
	f := t.lru.Remove(back).(*State)
	delete(t.flows, f.Key)
	t.evictedKeys[f.Key] = struct{}{}
	t.Evicted++
	return f
}
