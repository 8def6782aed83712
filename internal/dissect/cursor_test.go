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

package dissect

import (
	"errors"
	"testing"
)

func TestCursorReads(t *testing.T) {
	cur := NewCursor([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a})
	if v, err := cur.U8(); err != nil || v != 0x01 {
		t.Fatalf("U8 = %#x, %v", v, err)
	}
	if v, err := cur.U16(); err != nil || v != 0x0203 {
		t.Fatalf("U16 = %#x, %v", v, err)
	}
	if v, err := cur.U24(); err != nil || v != 0x040506 {
		t.Fatalf("U24 = %#x, %v", v, err)
	}
	if v, err := cur.U32(); err != nil || v != 0x0708090a {
		t.Fatalf("U32 = %#x, %v", v, err)
	}
	if cur.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", cur.Remaining())
	}
}

func TestCursorShortfallDoesNotAdvance(t *testing.T) {
	cur := NewCursor([]byte{0xff})
	if _, err := cur.U32(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("U32 on 1 byte: err = %v, want ErrTruncated", err)
	}
	if cur.Offset() != 0 {
		t.Fatalf("failed read advanced cursor to %d", cur.Offset())
	}
	// The single byte is still readable after the failure.
	if v, err := cur.U8(); err != nil || v != 0xff {
		t.Fatalf("U8 after failed U32 = %#x, %v", v, err)
	}
}

func TestCursorTakeAndSkip(t *testing.T) {
	cur := NewCursor([]byte{1, 2, 3, 4})
	b, err := cur.Take(2)
	if err != nil || len(b) != 2 || b[0] != 1 || b[1] != 2 {
		t.Fatalf("Take(2) = %v, %v", b, err)
	}
	if err := cur.Skip(3); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Skip past end: err = %v, want ErrTruncated", err)
	}
	if err := cur.Skip(2); err != nil {
		t.Fatalf("Skip(2): %v", err)
	}
	if _, err := cur.Take(-1); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Take(-1): err = %v, want ErrTruncated", err)
	}
}
