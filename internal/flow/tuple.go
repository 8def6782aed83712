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

// Package flow defines the canonical five-tuple key, per-flow state, and the
// per-worker flow table. A FiveTuple is direction-independent: both halves of
// a conversation canonicalize to the same key, and ownership of a key by one
// worker shard follows from hashing that key alone.
package flow

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/cespare/xxhash/v2"
)

// FiveTuple identifies a bidirectional conversation. The (IPA, PortA)
// endpoint compares less-or-equal to (IPB, PortB) as 48-bit integers.
type FiveTuple struct {
	IPA   uint32
	IPB   uint32
	PortA uint16
	PortB uint16
	Proto uint8
}

// Direction reports which canonical endpoint sent a given packet.
type Direction uint8

const (
	// DirAToB: the packet's source is the canonical A endpoint.
	DirAToB Direction = iota
	DirBToA
)

// Canonicalize orders the two endpoints of a packet into a
// direction-independent key and reports which side the packet came from.
// Endpoints are compared as the 48-bit integer (ip << 16) | port, which is
// stable regardless of host endianness because both fields are already in
// host byte order after parsing.
func Canonicalize(proto uint8, srcIP uint32, srcPort uint16, dstIP uint32, dstPort uint16) (FiveTuple, Direction) {
	src := uint64(srcIP)<<16 | uint64(srcPort)
	dst := uint64(dstIP)<<16 | uint64(dstPort)
	if src <= dst {
		return FiveTuple{Proto: proto, IPA: srcIP, PortA: srcPort, IPB: dstIP, PortB: dstPort}, DirAToB
	}
	return FiveTuple{Proto: proto, IPA: dstIP, PortA: dstPort, IPB: srcIP, PortB: srcPort}, DirBToA
}

func (t FiveTuple) String() string {
	a := netip.AddrFrom4([4]byte{byte(t.IPA >> 24), byte(t.IPA >> 16), byte(t.IPA >> 8), byte(t.IPA)})
	b := netip.AddrFrom4([4]byte{byte(t.IPB >> 24), byte(t.IPB >> 16), byte(t.IPB >> 8), byte(t.IPB)})
	return fmt.Sprintf("%d:%s:%d<->%s:%d", t.Proto, a, t.PortA, b, t.PortB)
}

// hashSeed makes tuple hashes unpredictable across processes so crafted
// captures cannot aim collisions at one shard.
var hashSeed = func() [8]byte {
	var s [8]byte
	if _, err := rand.Read(s[:]); err != nil {
		// Fall back to a fixed seed; hashing stays correct, only
		// collision resistance degrades.
		binary.BigEndian.PutUint64(s[:], 0x9e3779b97f4a7c15)
	}
	return s
}()

// Hash mixes the seed and the canonical 13-byte tuple encoding into a 64-bit
// value. The same key always lands on the same worker within one process.
func (t FiveTuple) Hash() uint64 {
	var buf [21]byte
	copy(buf[:8], hashSeed[:])
	buf[8] = t.Proto
	binary.BigEndian.PutUint32(buf[9:], t.IPA)
	binary.BigEndian.PutUint16(buf[13:], t.PortA)
	binary.BigEndian.PutUint32(buf[15:], t.IPB)
	binary.BigEndian.PutUint16(buf[19:], t.PortB)
	return xxhash.Sum64(buf[:])
}
