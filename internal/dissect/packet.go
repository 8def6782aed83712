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

const (
	etherTypeIPv4 = 0x0800
	etherTypeVLAN = 0x8100

	// IP protocol numbers.
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17

	// TCP flag bits as captured from the flags byte.
	TCPFin uint8 = 0x01
	TCPSyn uint8 = 0x02
	TCPRst uint8 = 0x04
	TCPPsh uint8 = 0x08
	TCPAck uint8 = 0x10
)

// Parsed is a non-owning view over one Ethernet frame after dissection.
// PayloadOff/PayloadLen locate the L7 payload inside the original frame;
// no payload bytes are ever copied.
type Parsed struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Proto    uint8
	TCPFlags uint8

	PayloadOff int
	PayloadLen int
}

// Payload returns the L7 payload view inside frame, which must be the same
// slice that was given to Parse.
func (p *Parsed) Payload(frame []byte) []byte {
	return frame[p.PayloadOff : p.PayloadOff+p.PayloadLen]
}

// Parse dissects an Ethernet II frame down to TCP/UDP. A single 802.1Q tag is
// unwrapped; a second tag is rejected. Non-IPv4 and non-TCP/UDP frames come
// back as ErrUnsupported* so the pipeline can pass them through untouched,
// and IPv4 fragments come back as ErrFragmented.
func Parse(frame []byte) (Parsed, error) {
	var p Parsed
	cur := NewCursor(frame)

	// Ethernet II: dst(6) src(6) ethertype(2).
	if err := cur.Skip(12); err != nil {
		return p, err
	}
	etherType, err := cur.U16()
	if err != nil {
		return p, err
	}
	if etherType == etherTypeVLAN {
		// 802.1Q: tag control (2) then the real ethertype.
		if err := cur.Skip(2); err != nil {
			return p, err
		}
		if etherType, err = cur.U16(); err != nil {
			return p, err
		}
		if etherType == etherTypeVLAN {
			// QinQ double tagging is out of scope.
			return p, ErrUnsupportedEthertype
		}
	}
	if etherType != etherTypeIPv4 {
		return p, ErrUnsupportedEthertype
	}

	// IPv4 fixed header.
	ipStart := cur.Offset()
	verIHL, err := cur.U8()
	if err != nil {
		return p, err
	}
	if verIHL>>4 != 4 {
		return p, ErrUnsupportedL3
	}
	ihl := int(verIHL&0x0f) * 4
	if ihl < 20 {
		return p, ErrMalformedHeader
	}
	if err := cur.Skip(1); err != nil { // DSCP/ECN
		return p, err
	}
	totalLen, err := cur.U16()
	if err != nil {
		return p, err
	}
	if int(totalLen) < ihl || int(totalLen) > len(frame)-ipStart {
		return p, ErrMalformedHeader
	}
	if err := cur.Skip(2); err != nil { // identification
		return p, err
	}
	fragField, err := cur.U16()
	if err != nil {
		return p, err
	}
	// MF flag or a non-zero fragment offset.
	if fragField&0x2000 != 0 || fragField&0x1fff != 0 {
		return p, ErrFragmented
	}
	if err := cur.Skip(1); err != nil { // TTL
		return p, err
	}
	p.Proto, err = cur.U8()
	if err != nil {
		return p, err
	}
	if p.Proto != ProtoTCP && p.Proto != ProtoUDP {
		return p, ErrUnsupportedL4
	}
	if err := cur.Skip(2); err != nil { // header checksum
		return p, err
	}
	if p.SrcIP, err = cur.U32(); err != nil {
		return p, err
	}
	if p.DstIP, err = cur.U32(); err != nil {
		return p, err
	}
	// IHL may exceed 20 with options; skip the remainder.
	if err := cur.Skip(ihl - (cur.Offset() - ipStart)); err != nil {
		return p, err
	}

	// l4End bounds the transport header and payload by the IP total length,
	// never by captured bytes beyond it (trailers, FCS padding).
	l4Start := ipStart + ihl
	l4End := ipStart + int(totalLen)

	switch p.Proto {
	case ProtoTCP:
		if p.SrcPort, err = cur.U16(); err != nil {
			return p, err
		}
		if p.DstPort, err = cur.U16(); err != nil {
			return p, err
		}
		if err := cur.Skip(8); err != nil { // seq + ack
			return p, err
		}
		dataOff, err := cur.U8()
		if err != nil {
			return p, err
		}
		tcpHdrLen := int(dataOff>>4) * 4
		if tcpHdrLen < 20 {
			return p, ErrMalformedHeader
		}
		if p.TCPFlags, err = cur.U8(); err != nil {
			return p, err
		}
		p.PayloadOff = l4Start + tcpHdrLen
		if p.PayloadOff > l4End {
			return p, ErrMalformedHeader
		}
		p.PayloadLen = l4End - p.PayloadOff
	case ProtoUDP:
		if p.SrcPort, err = cur.U16(); err != nil {
			return p, err
		}
		if p.DstPort, err = cur.U16(); err != nil {
			return p, err
		}
		udpLen, err := cur.U16()
		if err != nil {
			return p, err
		}
		if int(udpLen) < 8 || l4Start+int(udpLen) > l4End {
			return p, ErrMalformedHeader
		}
		p.PayloadOff = l4Start + 8
		p.PayloadLen = int(udpLen) - 8
	}
	if p.PayloadOff+p.PayloadLen > len(frame) {
		return p, ErrMalformedHeader
	}
	return p, nil
}
