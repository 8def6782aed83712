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
	"io"

	"go.uber.org/zap"

	"dpi/internal/capture"
)

// readerStage pulls records off the input capture, stamps sequence numbers,
// and feeds the balancer input queue. It is the only stage that touches the
// input file.
type readerStage struct {
	src *capture.Reader
	out *Queue[RawPacket]
	log *zap.Logger

	total uint64
	err   error
}

// run reads until EOF, a damaged record, or cancellation, then releases the
// balancer queue. Cancellation is only observed between packets: the packet
// in flight always finishes.
func (r *readerStage) run(ctx context.Context) {
	defer r.out.Done()
	seq := uint64(0)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reader stopped", zap.Uint64("packets", r.total))
			return
		default:
		}
		rec, err := r.src.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			// Damaged capture mid-file: stop cleanly, surface the error.
			r.err = err
			r.log.Error("input capture damaged", zap.Uint64("packets", r.total), zap.Error(err))
			return
		}
		seq++
		r.out.Push(RawPacket{
			Seq:     seq,
			TsSec:   rec.TsSec,
			TsUsec:  rec.TsUsec,
			OrigLen: rec.OrigLen,
			Data:    rec.Data,
		})
		r.total++
	}
}
