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

// Package pipeline wires the reader → balancer → worker → writer topology.
// Stages communicate only through bounded queues; shutdown propagates
// forward as each stage drains its input and releases its producer handle on
// the next queue.
package pipeline

import "sync/atomic"

// Queue is a bounded multi-producer queue over a buffered channel. Push
// blocks when the queue is full, which is the back-pressure mechanism
// bounding memory for the whole pipeline. Every producer must be registered
// up front; the queue closes when the last one calls Done, so a consumer
// seeing ok == false knows all upstream stages have drained.
type Queue[T any] struct {
	ch        chan T
	producers atomic.Int32
}

// NewQueue builds a queue with the given capacity and producer count.
func NewQueue[T any](capacity, producers int) *Queue[T] {
	q := &Queue[T]{ch: make(chan T, capacity)}
	q.producers.Store(int32(producers))
	return q
}

// Push enqueues one item, blocking while the queue is full. Only registered
// producers that have not yet called Done may push.
func (q *Queue[T]) Push(v T) { q.ch <- v }

// Pop dequeues one item, blocking while the queue is empty. ok is false once
// the queue is closed and drained.
func (q *Queue[T]) Pop() (v T, ok bool) {
	v, ok = <-q.ch
	return v, ok
}

// Done releases one producer handle. The last release closes the queue and
// wakes all consumers.
func (q *Queue[T]) Done() {
	if q.producers.Add(-1) == 0 {
		close(q.ch)
	}
}
