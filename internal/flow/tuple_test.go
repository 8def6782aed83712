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

import "testing"

func TestCanonicalizeSymmetry(t *testing.T) {
	k1, d1 := Canonicalize(6, 0x0a000001, 43210, 0x8efa502e, 443)
	k2, d2 := Canonicalize(6, 0x8efa502e, 443, 0x0a000001, 43210)
	if k1 != k2 {
		t.Fatalf("directions disagree on key: %v vs %v", k1, k2)
	}
	if d1 == d2 {
		t.Fatalf("both directions report %v", d1)
	}
	if k1.Hash() != k2.Hash() {
		t.Fatalf("hash differs across directions")
	}
}

func TestCanonicalizeOrdering(t *testing.T) {
	k, d := Canonicalize(6, 0x0a000001, 43210, 0x8efa502e, 443)
	if k.IPA != 0x0a000001 || k.PortA != 43210 {
		t.Fatalf("lower endpoint not on A side: %v", k)
	}
	if d != DirAToB {
		t.Fatalf("dir = %v, want DirAToB", d)
	}

	// Same IP, ports decide.
	k, d = Canonicalize(17, 0x01020304, 9000, 0x01020304, 53)
	if k.PortA != 53 {
		t.Fatalf("port ordering wrong: %v", k)
	}
	if d != DirBToA {
		t.Fatalf("dir = %v, want DirBToA", d)
	}
}

func TestHashDistinguishesTuples(t *testing.T) {
	a, _ := Canonicalize(6, 1, 1, 2, 2)
	b, _ := Canonicalize(17, 1, 1, 2, 2)
	c, _ := Canonicalize(6, 1, 1, 2, 3)
	if a.Hash() == b.Hash() && a.Hash() == c.Hash() {
		t.Fatalf("hash collapses distinct tuples")
	}
	if a.Hash() != a.Hash() {
		t.Fatalf("hash is unstable")
	}
}
