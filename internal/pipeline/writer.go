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
	"container/heap"

	"go.uber.org/zap"

	"dpi/internal/capture"
	"dpi/internal/telemetry"
)

// writerStage is the single consumer of the output side: it writes
// forward-disposition frames to the output capture, counts everything, and
// assembles the final report. With ordering enabled it buffers records in a
// min-heap and releases them in contiguous sequence order — possible because
// every packet the reader emitted produces exactly one record here.
type writerStage struct {
	in      *Queue[outRecord]
	dst     *capture.Writer
	ordered bool
	log     *zap.Logger

	report  Report
	pending recordHeap
	nextSeq uint64

	// err is the first output I/O failure. After it, records are still
	// drained (so upstream stages can finish) but nothing more is written.
	err error
}

func (w *writerStage) run() {
	w.nextSeq = 1
	for {
		rec, ok := w.in.Pop()
		if !ok {
			break
		}
		if !w.ordered {
			w.handle(&rec)
			continue
		}
		heap.Push(&w.pending, rec)
		for len(w.pending) > 0 && w.pending[0].raw.Seq == w.nextSeq {
			next := heap.Pop(&w.pending).(outRecord)
			w.nextSeq++
			w.handle(&next)
		}
	}
	// Flush whatever ordering still buffered. Gaps cannot occur in a
	// complete run; after a forced stop we still emit in sequence order.
	for len(w.pending) > 0 {
		next := heap.Pop(&w.pending).(outRecord)
		w.handle(&next)
	}
	if w.err == nil {
		w.err = w.dst.Flush()
	}
}

func (w *writerStage) handle(rec *outRecord) {
	w.report.TotalPackets++
	switch rec.disp {
	case DispPassThrough:
		w.report.PassThrough++
	case DispDropped:
		w.report.Dropped++
	default:
		w.report.Forwarded++
	}
	telemetry.IncPacket(rec.disp.String())

	if rec.disp == DispDropped || w.err != nil {
		return
	}
	err := w.dst.WriteRecord(capture.Record{
		TsSec:   rec.raw.TsSec,
		TsUsec:  rec.raw.TsUsec,
		OrigLen: rec.raw.OrigLen,
		Data:    rec.raw.Data,
	})
	if err != nil {
		w.err = err
		w.log.Error("output capture write failed", zap.Uint64("seq", rec.raw.Seq), zap.Error(err))
	}
}

// recordHeap orders buffered records by reader sequence number.
type recordHeap []outRecord

func (h recordHeap) Len() int            { return len(h) }
func (h recordHeap) Less(i, j int) bool  { return h[i].raw.Seq < h[j].raw.Seq }
func (h recordHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *recordHeap) Push(x interface{}) { *h = append(*h, x.(outRecord)) }
func (h *recordHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
