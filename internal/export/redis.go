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
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink pushes flow summaries onto a Redis list so downstream consumers
// (dashboards, SIEM loaders) can drain them at their own pace. Writes are
// pipelined per batch; a failed batch is logged and dropped rather than
// stalling the engine.
type RedisSink struct {
	c       *redis.Client
	listKey string
	timeout time.Duration
	log     *zap.Logger
}

// NewRedisSink connects to addr (e.g. "127.0.0.1:6379"). listKey defaults to
// "dpi:flows".
func NewRedisSink(addr, listKey string, log *zap.Logger) *RedisSink {
	if listKey == "" {
		listKey = "dpi:flows"
	}
	return &RedisSink{
		c:       redis.NewClient(&redis.Options{Addr: addr}),
		listKey: listKey,
		timeout: 5 * time.Second,
		log:     log,
	}
}

// OnFlows RPUSHes each summary as a JSON document in one pipelined call.
func (s *RedisSink) OnFlows(flows []FlowSummary) {
	if len(flows) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	pipe := s.c.Pipeline()
	for i := range flows {
		doc, err := json.Marshal(&flows[i])
		if err != nil {
			continue
		}
		pipe.RPush(ctx, s.listKey, doc)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("redis export batch failed", zap.Int("flows", len(flows)), zap.Error(err))
	}
}

// Close releases the client connection.
func (s *RedisSink) Close() error {
	if err := s.c.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
