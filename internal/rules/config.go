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

package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dpi/internal/classify"
)

// fileConfig mirrors the YAML policy file:
//
//	block_apps:    [YouTube, TikTok]
//	block_domains: [facebook.com]
//	block_ips:     [10.0.0.1]
//	allow_apps:    [Dns]
type fileConfig struct {
	BlockApps    []string `yaml:"block_apps"`
	BlockDomains []string `yaml:"block_domains"`
	BlockIPs     []string `yaml:"block_ips"`
	AllowApps    []string `yaml:"allow_apps"`
}

// LoadFile reads a YAML policy file into an ordered rule list: allow rules
// first (overrides), then app, domain, and IP blocks in file order.
func LoadFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	var out []Rule
	for _, name := range cfg.AllowApps {
		app, err := classify.ParseLabel(name)
		if err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
		out = append(out, Rule{Kind: AllowApp, App: app})
	}
	for _, name := range cfg.BlockApps {
		app, err := classify.ParseLabel(name)
		if err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
		out = append(out, Rule{Kind: BlockApp, App: app})
	}
	for _, suffix := range cfg.BlockDomains {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			return nil, fmt.Errorf("rules file %s: empty block_domains entry", path)
		}
		out = append(out, Rule{Kind: BlockDomainSuffix, Suffix: suffix})
	}
	for _, addr := range cfg.BlockIPs {
		r, err := ParseBlockIP(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
		out = append(out, r)
	}
	return out, nil
}
