// Copyright 2025 WondFS Authors.
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

// Package metrics exposes the small set of Prometheus gauges/counters that
// matter for a single-process flash filesystem daemon: TL write throughput,
// GC reclaim activity, and buffer-cache hit rate. There is no cloud
// telemetry backend to export to here, so these are plain
// prometheus/client_golang collectors with no exporter chain behind them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TLWriteThroughputBytesPerSec is the exponential moving average
	// maintained by the translation layer's flusher.
	TLWriteThroughputBytesPerSec = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wondfs",
		Subsystem: "tl",
		Name:      "write_throughput_bytes_per_sec",
		Help:      "EMA of TL write throughput, updated after each flush.",
	})

	TLErrorBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wondfs",
		Subsystem: "tl",
		Name:      "error_blocks_total",
		Help:      "Count of blocks remapped due to unrecoverable corruption.",
	})

	BufCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wondfs",
		Subsystem: "buf",
		Name:      "cache_hits_total",
	})

	BufCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wondfs",
		Subsystem: "buf",
		Name:      "cache_misses_total",
	})

	GCBlocksReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wondfs",
		Subsystem: "gc",
		Name:      "blocks_reclaimed_total",
	})

	GCPagesMoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wondfs",
		Subsystem: "gc",
		Name:      "pages_moved_total",
	})

	// FSOpsTotal counts every POSIX bridge operation by its fuseops name
	// (see common.Op* constants) and outcome, mirroring the per-operation
	// counters the fs/wrappers monitoring decorator keeps.
	FSOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wondfs",
		Subsystem: "fs",
		Name:      "ops_total",
		Help:      "Count of POSIX bridge operations, by op name and outcome.",
	}, []string{"op", "outcome"})

	// FSOpDurationSeconds is the latency of each POSIX bridge operation.
	FSOpDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wondfs",
		Subsystem: "fs",
		Name:      "op_duration_seconds",
		Help:      "Latency of POSIX bridge operations, by op name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

// Registry is the collector registry these metrics are registered with.
// Neither the wondfs nor the disk-daemon binary serves it over HTTP.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		TLWriteThroughputBytesPerSec,
		TLErrorBlocks,
		BufCacheHits,
		BufCacheMisses,
		GCBlocksReclaimed,
		GCPagesMoved,
		FSOpsTotal,
		FSOpDurationSeconds,
	)
}
