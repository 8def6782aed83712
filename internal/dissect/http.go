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
	"strings"
)

// httpScanWindow bounds how far into the payload we look for the Host header.
const httpScanWindow = 8 * 1024

var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("HEAD "),
	[]byte("PUT "),
	[]byte("DELETE "),
	[]byte("OPTIONS "),
}

// LooksLikeHTTPRequest reports whether the payload begins with a known
// request method token. It gates ExtractHost so arbitrary port-80 traffic is
// not scanned.
func LooksLikeHTTPRequest(payload []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(payload, m) {
			return true
		}
	}
	return false
}

// ExtractHost scans an HTTP request for its Host header and returns the
// trimmed, ASCII-lowercased value. The header name matches
// case-insensitively. More than one Host header, or none within the first
// 8 KiB, is ErrMalformedHTTP.
func ExtractHost(payload []byte) (string, error) {
	if !LooksLikeHTTPRequest(payload) {
		return "", ErrMalformedHTTP
	}
	window := payload
	if len(window) > httpScanWindow {
		window = window[:httpScanWindow]
	}

	host := ""
	found := false
	for len(window) > 0 {
		nl := bytes.IndexByte(window, '\n')
		var line []byte
		if nl < 0 {
			line = window
			window = nil
		} else {
			line = window[:nl]
			window = window[nl+1:]
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			// Blank line ends the header block.
			break
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		if !strings.EqualFold(string(line[:colon]), "Host") {
			continue
		}
		if found {
			return "", ErrMalformedHTTP
		}
		found = true
		host = strings.ToLower(strings.Trim(string(line[colon+1:]), " \t"))
	}
	if !found || host == "" {
		return "", ErrMalformedHTTP
	}
	return host, nil
}
