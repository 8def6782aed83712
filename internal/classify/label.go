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

// Package classify maps flow evidence (SNI, HTTP Host, ports) to application
// labels through an immutable domain-suffix dictionary.
package classify

import "fmt"

// AppLabel is the closed set of applications the engine reports on.
type AppLabel uint8

const (
	Unknown AppLabel = iota
	HTTP
	HTTPS
	DNS
	YouTube
	Google
	Facebook
	Netflix
	TikTok
	Twitter
	Instagram
	WhatsApp
	Telegram
	Spotify
	Amazon
	Microsoft
	Cloudflare

	// NumLabels sizes fixed counter arrays indexed by AppLabel.
	NumLabels
)

var labelNames = [NumLabels]string{
	Unknown:    "Unknown",
	HTTP:       "Http",
	HTTPS:      "Https",
	DNS:        "Dns",
	YouTube:    "YouTube",
	Google:     "Google",
	Facebook:   "Facebook",
	Netflix:    "Netflix",
	TikTok:     "TikTok",
	Twitter:    "Twitter",
	Instagram:  "Instagram",
	WhatsApp:   "WhatsApp",
	Telegram:   "Telegram",
	Spotify:    "Spotify",
	Amazon:     "Amazon",
	Microsoft:  "Microsoft",
	Cloudflare: "Cloudflare",
}

func (l AppLabel) String() string {
	if int(l) < len(labelNames) {
		return labelNames[l]
	}
	return "Unknown"
}

// ParseLabel resolves a label by its report name. Matching is exact; CLI and
// rules files use the same spelling the report prints.
func ParseLabel(s string) (AppLabel, error) {
	for l, name := range labelNames {
		if name == s {
			return AppLabel(l), nil
		}
	}
	return Unknown, fmt.Errorf("unknown application label %q", s)
}
