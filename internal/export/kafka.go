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
)

// KafkaProducer is a minimal abstraction over a Kafka client. The canonical
// flow key is used as the message key so per-conversation ordering is
// preserved by the broker.
//
// Note: we intentionally avoid importing a specific Kafka library.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte) error
}

// LoggingKafkaProducer is a tiny demo producer that logs the produced
// message. It enables selecting the Kafka sink without a real broker.
// Not for production use.
type LoggingKafkaProducer struct{}

func (LoggingKafkaProducer) Produce(ctx context.Context, topic string, key []byte, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	fmt.Printf("[kafka-demo] TOPIC=%s KEY=%s VALUE=%s\n", topic, string(key), string(value))
	return nil
}

// KafkaSink publishes one message per flow summary.
type KafkaSink struct {
	producer KafkaProducer
	topic    string
	timeout  time.Duration
}

// NewKafkaSink wraps a producer. topic defaults to "dpi-flows".
func NewKafkaSink(p KafkaProducer, topic string) *KafkaSink {
	if topic == "" {
		topic = "dpi-flows"
	}
	return &KafkaSink{producer: p, topic: topic, timeout: 10 * time.Second}
}

func (s *KafkaSink) OnFlows(flows []FlowSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	for i := range flows {
		doc, err := json.Marshal(&flows[i])
		if err != nil {
			continue
		}
		key := []byte(flows[i].ClientA + "|" + flows[i].ClientB)
		_ = s.producer.Produce(ctx, s.topic, key, doc)
	}
}

func (s *KafkaSink) Close() error { return nil }
