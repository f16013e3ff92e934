// Copyright 2025 StreamNative, Inc.
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

package allocator

import (
	"github.com/streamnative/shardalloc/common/metrics"
)

type allocatorMetrics struct {
	passesChanged   metrics.Counter
	passesUnchanged metrics.Counter
	passesFailed    metrics.Counter
	passLatency     metrics.LatencyHistogram

	allocated metrics.Counter
	relocated metrics.Counter
	throttled metrics.Counter
	denied    metrics.Counter
}

func newAllocatorMetrics() *allocatorMetrics {
	passes := func(outcome string) metrics.Counter {
		return metrics.NewCounter("shardalloc_allocator_passes",
			"The number of allocation passes by outcome", metrics.Dimensionless, map[string]any{"outcome": outcome})
	}
	copies := func(action string, description string) metrics.Counter {
		return metrics.NewCounter("shardalloc_allocator_copies_"+action, description, metrics.Dimensionless, nil)
	}
	return &allocatorMetrics{
		passesChanged:   passes("changed"),
		passesUnchanged: passes("unchanged"),
		passesFailed:    passes("failed"),
		passLatency: metrics.NewLatencyHistogram("shardalloc_allocator_pass_latency",
			"The time it takes to run an allocation pass", nil),
		allocated: copies("allocated", "The number of shard copies placed on a node"),
		relocated: copies("relocated", "The number of shard copies moved to another node"),
		throttled: copies("throttled", "The number of shard copies left unassigned because of throttling"),
		denied:    copies("denied", "The number of shard copies no node could hold"),
	}
}

type passStats struct {
	allocated int
	relocated int
	throttled int
	denied    int
}

func (m *allocatorMetrics) record(stats passStats) {
	m.allocated.Add(stats.allocated)
	m.relocated.Add(stats.relocated)
	m.throttled.Add(stats.throttled)
	m.denied.Add(stats.denied)
}
