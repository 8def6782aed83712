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

package classify

import "strings"

// defaultSuffixes is the built-in domain dictionary. Keys are registrable
// suffixes; lookup walks from the most specific suffix outward, so an entry
// here wins over any shorter one.
var defaultSuffixes = map[string]AppLabel{
	"youtube.com":     YouTube,
	"ytimg.com":       YouTube,
	"googlevideo.com": YouTube,
	"youtu.be":        YouTube,

	"google.com":     Google,
	"gstatic.com":    Google,
	"googleapis.com": Google,
	"gvt1.com":       Google,

	"facebook.com": Facebook,
	"fbcdn.net":    Facebook,
	"fb.com":       Facebook,

	"netflix.com":   Netflix,
	"nflxvideo.net": Netflix,
	"nflximg.net":   Netflix,

	"tiktok.com":      TikTok,
	"tiktokcdn.com":   TikTok,
	"musical.ly":      TikTok,
	"byteoversea.com": TikTok,

	"twitter.com": Twitter,
	"twimg.com":   Twitter,
	"x.com":       Twitter,

	"instagram.com":    Instagram,
	"cdninstagram.com": Instagram,

	"whatsapp.net": WhatsApp,
	"whatsapp.com": WhatsApp,

	"telegram.org": Telegram,
	"t.me":         Telegram,

	"spotify.com": Spotify,
	"scdn.co":     Spotify,

	"amazon.com":     Amazon,
	"amazonaws.com":  Amazon,
	"primevideo.com": Amazon,

	"microsoft.com": Microsoft,
	"live.com":      Microsoft,
	"windows.net":   Microsoft,
	"office.com":    Microsoft,

	"cloudflare.com": Cloudflare,
	"cloudflare.net": Cloudflare,
}

// Classifier resolves names and ports to labels. It is immutable after
// construction and shared by reference across all workers.
type Classifier struct {
	suffixes map[string]AppLabel
}

// NewClassifier returns a classifier over the built-in dictionary.
func NewClassifier() *Classifier {
	return &Classifier{suffixes: defaultSuffixes}
}

// NewClassifierWithSuffixes overlays extra suffix → label entries on top of
// the built-in dictionary.
func NewClassifierWithSuffixes(extra map[string]AppLabel) *Classifier {
	m := make(map[string]AppLabel, len(defaultSuffixes)+len(extra))
	for k, v := range defaultSuffixes {
		m[strings.ToLower(k)] = v
	}
	for k, v := range extra {
		m[strings.ToLower(k)] = v
	}
	return &Classifier{suffixes: m}
}

// ByName returns the label for the longest dictionary suffix of name.
// name must already be lowercase (extractors guarantee that).
func (c *Classifier) ByName(name string) (AppLabel, bool) {
	for s := name; s != ""; {
		if l, ok := c.suffixes[s]; ok {
			return l, true
		}
		dot := strings.IndexByte(s, '.')
		if dot < 0 {
			break
		}
		s = s[dot+1:]
	}
	return Unknown, false
}

// Classify is the pure classification function: SNI first, then Host, then
// the port heuristic.
func (c *Classifier) Classify(sni, host string, dstPort uint16) AppLabel {
	if sni != "" {
		if l, ok := c.ByName(sni); ok {
			return l
		}
	}
	if host != "" {
		if l, ok := c.ByName(host); ok {
			return l
		}
	}
	switch dstPort {
	case 443:
		return HTTPS
	case 80:
		return HTTP
	case 53:
		return DNS
	}
	return Unknown
}
