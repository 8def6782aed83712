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
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// frame builders for tests. Values are deliberately hand-packed so the tests
// do not share code with the parser under test.

func ethHeader(etherType uint16) []byte {
	b := make([]byte, 14)
	binary.BigEndian.PutUint16(b[12:], etherType)
	return b
}

func ipv4Header(proto uint8, srcIP, dstIP uint32, payloadLen int, fragField uint16) []byte {
	b := make([]byte, 20)
	b[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(b[2:], uint16(20+payloadLen))
	binary.BigEndian.PutUint16(b[6:], fragField)
	b[8] = 64 // TTL
	b[9] = proto
	binary.BigEndian.PutUint32(b[12:], srcIP)
	binary.BigEndian.PutUint32(b[16:], dstIP)
	return b
}

func tcpHeader(srcPort, dstPort uint16, flags uint8) []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint16(b[0:], srcPort)
	binary.BigEndian.PutUint16(b[2:], dstPort)
	b[12] = 5 << 4 // data offset 5 words
	b[13] = flags
	return b
}

func udpHeader(srcPort, dstPort uint16, payloadLen int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:], srcPort)
	binary.BigEndian.PutUint16(b[2:], dstPort)
	binary.BigEndian.PutUint16(b[4:], uint16(8+payloadLen))
	return b
}

func tcpFrame(srcIP, dstIP uint32, srcPort, dstPort uint16, flags uint8, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write(ethHeader(etherTypeIPv4))
	buf.Write(ipv4Header(ProtoTCP, srcIP, dstIP, 20+len(payload), 0))
	buf.Write(tcpHeader(srcPort, dstPort, flags))
	buf.Write(payload)
	return buf.Bytes()
}

func udpFrame(srcIP, dstIP uint32, srcPort, dstPort uint16, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write(ethHeader(etherTypeIPv4))
	buf.Write(ipv4Header(ProtoUDP, srcIP, dstIP, 8+len(payload), 0))
	buf.Write(udpHeader(srcPort, dstPort, len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func TestParseTCP(t *testing.T) {
	payload := []byte("hello")
	frame := tcpFrame(0x0a000001, 0x0a000002, 43210, 443, TCPPsh|TCPAck, payload)
	p, err := Parse(frame)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Proto != ProtoTCP || p.SrcIP != 0x0a000001 || p.DstIP != 0x0a000002 {
		t.Fatalf("bad L3/L4 fields: %+v", p)
	}
	if p.SrcPort != 43210 || p.DstPort != 443 {
		t.Fatalf("bad ports: %d → %d", p.SrcPort, p.DstPort)
	}
	if p.TCPFlags != TCPPsh|TCPAck {
		t.Fatalf("flags = %#x", p.TCPFlags)
	}
	if got := p.Payload(frame); !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q", got)
	}
}

func TestParseUDP(t *testing.T) {
	payload := []byte{0xde, 0xad}
	frame := udpFrame(0x0a000001, 0x08080808, 5353, 53, payload)
	p, err := Parse(frame)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Proto != ProtoUDP || p.DstPort != 53 {
		t.Fatalf("bad UDP fields: %+v", p)
	}
	if got := p.Payload(frame); !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q", got)
	}
}

func TestParseVLAN(t *testing.T) {
	inner := tcpFrame(1, 2, 1000, 80, TCPAck, nil)
	// Splice a single 802.1Q tag between the MACs and the ethertype.
	var buf bytes.Buffer
	buf.Write(make([]byte, 12))
	buf.Write([]byte{0x81, 0x00, 0x00, 0x64}) // TPID + VID 100
	buf.Write(inner[12:])
	p, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse single-tagged: %v", err)
	}
	if p.DstPort != 80 {
		t.Fatalf("dst port = %d", p.DstPort)
	}

	// Double-tagged is rejected.
	var dbl bytes.Buffer
	dbl.Write(make([]byte, 12))
	dbl.Write([]byte{0x81, 0x00, 0x00, 0x64, 0x81, 0x00, 0x00, 0x65})
	dbl.Write(inner[12:])
	if _, err := Parse(dbl.Bytes()); !errors.Is(err, ErrUnsupportedEthertype) {
		t.Fatalf("double-tagged err = %v, want ErrUnsupportedEthertype", err)
	}
}

func TestParseRejectsFragments(t *testing.T) {
	frame := tcpFrame(1, 2, 1000, 80, 0, nil)
	// Set MF on the otherwise valid frame.
	binary.BigEndian.PutUint16(frame[14+6:], 0x2000)
	if _, err := Parse(frame); !errors.Is(err, ErrFragmented) {
		t.Fatalf("MF err = %v, want ErrFragmented", err)
	}
	// Non-zero fragment offset.
	binary.BigEndian.PutUint16(frame[14+6:], 0x0010)
	if _, err := Parse(frame); !errors.Is(err, ErrFragmented) {
		t.Fatalf("offset err = %v, want ErrFragmented", err)
	}
}

func TestParseUnsupported(t *testing.T) {
	arp := ethHeader(0x0806)
	if _, err := Parse(arp); !errors.Is(err, ErrUnsupportedEthertype) {
		t.Fatalf("ARP err = %v", err)
	}

	icmp := append(ethHeader(etherTypeIPv4), ipv4Header(1, 1, 2, 8, 0)...)
	icmp = append(icmp, make([]byte, 8)...)
	if _, err := Parse(icmp); !errors.Is(err, ErrUnsupportedL4) {
		t.Fatalf("ICMP err = %v", err)
	}

	six := ethHeader(etherTypeIPv4)
	six = append(six, 0x60) // IPv6 version nibble under an IPv4 ethertype
	six = append(six, make([]byte, 39)...)
	if _, err := Parse(six); !errors.Is(err, ErrUnsupportedL3) {
		t.Fatalf("v6 err = %v", err)
	}
}

func TestParseTruncationAndBadLengths(t *testing.T) {
	frame := tcpFrame(1, 2, 1000, 80, 0, []byte("abc"))
	for n := 0; n < len(frame); n++ {
		// No prefix may crash; most fail with a parse error, and any that
		// parse must stay inside the prefix.
		p, err := Parse(frame[:n])
		if err == nil && p.PayloadOff+p.PayloadLen > n {
			t.Fatalf("prefix %d: payload escapes capture", n)
		}
	}

	// IP total length larger than the captured frame.
	bad := tcpFrame(1, 2, 1000, 80, 0, nil)
	binary.BigEndian.PutUint16(bad[14+2:], 4000)
	if _, err := Parse(bad); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("oversized total_length err = %v", err)
	}

	// TCP data offset pointing past the IP payload.
	bad = tcpFrame(1, 2, 1000, 80, 0, nil)
	bad[14+20+12] = 15 << 4
	if _, err := Parse(bad); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("bad data offset err = %v", err)
	}
}
