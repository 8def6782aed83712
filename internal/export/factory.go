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

package export

import (
	"fmt"

	"go.uber.org/zap"
)

// Options carries the sink-specific knobs from the CLI.
type Options struct {
	Path       string // file sink: output path
	RedisAddr  string // redis sink: host:port
	RedisKey   string // redis sink: list key
	KafkaTopic string // kafka sink: topic name
}

// BuildSink constructs a flow sink from a string selector:
//   - "" or "none": drop summaries (default)
//   - "file":  JSONL appended to opts.Path
//   - "redis": RPUSH to a Redis list (requires opts.RedisAddr)
//   - "kafka": demo logging producer (no broker required; supply a real
//     KafkaProducer and wire NewKafkaSink directly for production)
func BuildSink(kind string, opts Options, log *zap.Logger) (Sink, error) {
	switch kind {
	case "", "none":
		return NopSink{}, nil
	case "file":
		if opts.Path == "" {
			return nil, fmt.Errorf("file export requires a path")
		}
		return NewFileSink(opts.Path)
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis export requires an address")
		}
		return NewRedisSink(opts.RedisAddr, opts.RedisKey, log), nil
	case "kafka":
		return NewKafkaSink(LoggingKafkaProducer{}, opts.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown export sink: %s", kind)
	}
}
