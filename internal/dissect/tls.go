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
	tlsContentTypeHandshake = 0x16
	tlsHandshakeClientHello = 0x01
	tlsExtServerName        = 0x0000
	sniNameTypeHostName     = 0x00
)

// ExtractSNI parses a TLS record expected to carry a ClientHello and returns
// the host_name entry of the server_name extension, ASCII-lowercased.
// Any structural violation — wrong content type, a length field that overruns
// its container, a ClientHello split short of the SNI bytes — yields
// ErrMalformedTLS. The caller treats the first attempt per flow as
// authoritative and never retries.
func ExtractSNI(payload []byte) (string, error) {
	cur := NewCursor(payload)

	contentType, err := cur.U8()
	if err != nil {
		return "", ErrMalformedTLS
	}
	verMajor, err := cur.U8()
	if err != nil {
		return "", ErrMalformedTLS
	}
	if err := cur.Skip(1); err != nil { // version minor
		return "", ErrMalformedTLS
	}
	recordLen, err := cur.U16()
	if err != nil {
		return "", ErrMalformedTLS
	}
	if contentType != tlsContentTypeHandshake || verMajor != 3 {
		return "", ErrMalformedTLS
	}
	record, err := cur.Take(int(recordLen))
	if err != nil {
		return "", ErrMalformedTLS
	}

	// From here on every read is bounded by the record, not the TCP segment.
	hs := NewCursor(record)
	msgType, err := hs.U8()
	if err != nil || msgType != tlsHandshakeClientHello {
		return "", ErrMalformedTLS
	}
	bodyLen, err := hs.U24()
	if err != nil {
		return "", ErrMalformedTLS
	}
	body, err := hs.Take(int(bodyLen))
	if err != nil {
		return "", ErrMalformedTLS
	}

	ch := NewCursor(body)
	if err := ch.Skip(2 + 32); err != nil { // legacy_version + random
		return "", ErrMalformedTLS
	}
	sessionLen, err := ch.U8()
	if err != nil {
		return "", ErrMalformedTLS
	}
	if err := ch.Skip(int(sessionLen)); err != nil {
		return "", ErrMalformedTLS
	}
	cipherLen, err := ch.U16()
	if err != nil {
		return "", ErrMalformedTLS
	}
	if err := ch.Skip(int(cipherLen)); err != nil {
		return "", ErrMalformedTLS
	}
	compLen, err := ch.U8()
	if err != nil {
		return "", ErrMalformedTLS
	}
	if err := ch.Skip(int(compLen)); err != nil {
		return "", ErrMalformedTLS
	}

	extTotal, err := ch.U16()
	if err != nil {
		return "", ErrMalformedTLS
	}
	exts, err := ch.Take(int(extTotal))
	if err != nil {
		return "", ErrMalformedTLS
	}

	ec := NewCursor(exts)
	for ec.Remaining() > 0 {
		extType, err := ec.U16()
		if err != nil {
			return "", ErrMalformedTLS
		}
		extLen, err := ec.U16()
		if err != nil {
			return "", ErrMalformedTLS
		}
		extData, err := ec.Take(int(extLen))
		if err != nil {
			return "", ErrMalformedTLS
		}
		if extType != tlsExtServerName {
			continue
		}
		return parseServerNameList(extData)
	}
	// A ClientHello without the server_name extension carries no SNI.
	return "", ErrMalformedTLS
}

func parseServerNameList(data []byte) (string, error) {
	cur := NewCursor(data)
	listLen, err := cur.U16()
	if err != nil {
		return "", ErrMalformedTLS
	}
	entries, err := cur.Take(int(listLen))
	if err != nil {
		return "", ErrMalformedTLS
	}
	ec := NewCursor(entries)
	for ec.Remaining() > 0 {
		nameType, err := ec.U8()
		if err != nil {
			return "", ErrMalformedTLS
		}
		nameLen, err := ec.U16()
		if err != nil {
			return "", ErrMalformedTLS
		}
		name, err := ec.Take(int(nameLen))
		if err != nil {
			return "", ErrMalformedTLS
		}
		if nameType != sniNameTypeHostName {
			continue
		}
		if len(name) == 0 {
			return "", ErrMalformedTLS
		}
		return lowerASCII(name)
	}
	return "", ErrMalformedTLS
}

// lowerASCII lowercases a DNS name in place of strings.ToLower, rejecting
// bytes that can never occur in a hostname so garbage does not reach the
// classifier dictionary.
func lowerASCII(name []byte) (string, error) {
	out := make([]byte, len(name))
	for i, b := range name {
		switch {
		case b >= 'A' && b <= 'Z':
			out[i] = b + ('a' - 'A')
		case b >= 'a' && b <= 'z', b >= '0' && b <= '9', b == '.', b == '-', b == '_':
			out[i] = b
		default:
			return "", ErrMalformedTLS
		}
	}
	return string(out), nil
}
