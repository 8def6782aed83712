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

import "errors"

// Per-packet parse errors. All of them are recoverable: the packet that
// triggered one is handed to the writer as pass-through and the engine keeps
// going. They are sentinels so callers can bucket them into counters with
// KindOf instead of string matching.
var (
	ErrTruncated            = errors.New("truncated input")
	ErrUnsupportedEthertype = errors.New("unsupported ethertype")
	ErrUnsupportedL3        = errors.New("unsupported L3 protocol")
	ErrUnsupportedL4        = errors.New("unsupported L4 protocol")
	ErrMalformedHeader      = errors.New("malformed header")
	ErrFragmented           = errors.New("fragmented packet unsupported")
	ErrMalformedTLS         = errors.New("malformed TLS record")
	ErrMalformedHTTP        = errors.New("malformed HTTP request")
)

// ErrKind is a compact index for per-kind error counters.
type ErrKind uint8

const (
	KindNone ErrKind = iota
	KindTruncated
	KindUnsupportedEthertype
	KindUnsupportedL3
	KindUnsupportedL4
	KindMalformedHeader
	KindFragmented
	KindMalformedTLS
	KindMalformedHTTP

	// NumErrKinds sizes fixed counter arrays indexed by ErrKind.
	NumErrKinds
)

var kindNames = [NumErrKinds]string{
	KindNone:                 "None",
	KindTruncated:            "Truncated",
	KindUnsupportedEthertype: "UnsupportedEthertype",
	KindUnsupportedL3:        "UnsupportedL3",
	KindUnsupportedL4:        "UnsupportedL4",
	KindMalformedHeader:      "MalformedHeader",
	KindFragmented:           "FragmentedUnsupported",
	KindMalformedTLS:         "MalformedTls",
	KindMalformedHTTP:        "MalformedHttp",
}

func (k ErrKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// KindOf maps a dissection error to its counter bucket.
func KindOf(err error) ErrKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTruncated):
		return KindTruncated
	case errors.Is(err, ErrUnsupportedEthertype):
		return KindUnsupportedEthertype
	case errors.Is(err, ErrUnsupportedL3):
		return KindUnsupportedL3
	case errors.Is(err, ErrUnsupportedL4):
		return KindUnsupportedL4
	case errors.Is(err, ErrFragmented):
		return KindFragmented
	case errors.Is(err, ErrMalformedTLS):
		return KindMalformedTLS
	case errors.Is(err, ErrMalformedHTTP):
		return KindMalformedHTTP
	default:
		return KindMalformedHeader
	}
}
