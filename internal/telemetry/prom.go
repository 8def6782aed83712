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

// Package telemetry exposes process-global Prometheus counters for the
// engine. Label sets are fixed and small (dispositions, parse-error kinds,
// application labels), so cardinality stays bounded.
package telemetry

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var enabled atomic.Bool

var (
	packetsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpi_packets_total",
		Help: "Packets by final disposition (forwarded, dropped, passthrough)",
	}, []string{"disposition"})
	parseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpi_parse_errors_total",
		Help: "Per-packet parse errors by kind",
	}, []string{"kind"})
	appPacketsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpi_app_packets_total",
		Help: "Tracked packets by classified application",
	}, []string{"app"})
	flowsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dpi_flows_created_total",
		Help: "Flows created across all worker shards",
	})
	flowsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dpi_flows_evicted_total",
		Help: "Flows evicted by cap or idle horizon",
	})
	flowsRebornTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dpi_flows_reborn_total",
		Help: "Evicted flow keys that reappeared as new flows",
	})
	extractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpi_l7_extractions_total",
		Help: "Successful L7 extractions by kind (sni, host)",
	}, []string{"kind"})
)

func init() {
	// Register eagerly; if no endpoint is exposed the registration is
	// harmless.
	prometheus.MustRegister(
		packetsTotal, parseErrorsTotal, appPacketsTotal,
		flowsCreatedTotal, flowsEvictedTotal, flowsRebornTotal,
		extractionsTotal,
	)
}

// Enable switches counter updates on. Off by default so the hot path pays a
// single atomic load when telemetry is unused.
func Enable() { enabled.Store(true) }

// IncPacket records one packet's final disposition.
func IncPacket(disposition string) {
	if !enabled.Load() {
		return
	}
	packetsTotal.WithLabelValues(disposition).Inc()
}

// AddAppPackets attributes a retired flow's packet count to its final
// application label.
func AddAppPackets(app string, n uint64) {
	if !enabled.Load() || n == 0 {
		return
	}
	appPacketsTotal.WithLabelValues(app).Add(float64(n))
}

// IncParseError records one parse error by kind name.
func IncParseError(kind string) {
	if !enabled.Load() {
		return
	}
	parseErrorsTotal.WithLabelValues(kind).Inc()
}

// FlowEvents adds flow lifecycle deltas from a shard.
func FlowEvents(created, evicted, reborn uint64) {
	if !enabled.Load() {
		return
	}
	flowsCreatedTotal.Add(float64(created))
	flowsEvictedTotal.Add(float64(evicted))
	flowsRebornTotal.Add(float64(reborn))
}

// IncExtraction records a successful SNI or Host extraction.
func IncExtraction(kind string) {
	if !enabled.Load() {
		return
	}
	extractionsTotal.WithLabelValues(kind).Inc()
}

// Serve starts a standalone /metrics endpoint on addr and enables counter
// updates. It returns immediately; the server lives until process exit.
func Serve(addr string, log *zap.Logger) {
	Enable()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics endpoint failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
}
