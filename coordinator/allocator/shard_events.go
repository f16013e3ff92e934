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
	"context"
	"log/slog"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

// FailedShard reports that a copy could not be brought up on its node.
type FailedShard struct {
	Copy    model.CopyID `json:"copy" yaml:"copy"`
	Message string       `json:"message,omitempty" yaml:"message,omitempty"`
}

// ShardEvents groups recovery reports that are applied in a single pass.
type ShardEvents struct {
	Started []model.CopyID `json:"started,omitempty" yaml:"started,omitempty"`
	Failed  []FailedShard  `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// ApplyStartedShards marks the given copies as started, completing their
// recovery or relocation, then reroutes. Stale events are skipped.
func (a *Allocator) ApplyStartedShards(ctx context.Context, snapshot *model.Snapshot, started []model.CopyID) (*Result, error) {
	return a.run(ctx, "started-shards", snapshot, func(p *pass) {
		p.applyStarted(started)
	})
}

// ApplyFailedShards releases the copies that failed on their node, then
// reroutes. A failed copy is never placed back on the node it failed on
// during the same pass, and counts the failure towards its retry limit.
func (a *Allocator) ApplyFailedShards(ctx context.Context, snapshot *model.Snapshot, failed []FailedShard) (*Result, error) {
	return a.run(ctx, "failed-shards", snapshot, func(p *pass) {
		p.applyFailed(failed)
	})
}

// ApplyShardEvents applies the failed reports, then the started ones, and
// reroutes once. The result is relative to the given snapshot.
func (a *Allocator) ApplyShardEvents(ctx context.Context, snapshot *model.Snapshot, events ShardEvents) (*Result, error) {
	return a.run(ctx, "shard-events", snapshot, func(p *pass) {
		p.applyFailed(events.Failed)
		p.applyStarted(events.Started)
	})
}

func (p *pass) applyStarted(started []model.CopyID) {
	for _, id := range started {
		if err := p.routing.Start(id); err != nil {
			p.Warn("Ignoring started event",
				slog.String("copy", id.String()),
				slog.Any("error", err))
			continue
		}
		p.explain(id, "", allocation.Allow, "copy reported started")
	}
}

func (p *pass) applyFailed(failed []FailedShard) {
	for _, f := range failed {
		sr, found := p.routing.Get(f.Copy)
		if !found || !sr.Assigned() {
			p.Warn("Ignoring failed event for a copy that is not assigned",
				slog.String("copy", f.Copy.String()))
			continue
		}

		if sr.State == model.ShardStateRelocating {
			// the recovery on the target failed, the source copy is intact
			if err := p.routing.CancelRelocation(f.Copy); err != nil {
				p.Warn("Ignoring failed event", slog.String("copy", f.Copy.String()), slog.Any("error", err))
				continue
			}
			p.alloc.Ignore(f.Copy, sr.RelocatingNodeID)
			p.explain(f.Copy, sr.RelocatingNodeID, allocation.Deny, "relocation failed: %s", f.Message)
			continue
		}

		if err := p.routing.Unassign(f.Copy, model.UnassignedInfo{
			Reason:         model.ReasonAllocationFailed,
			Message:        f.Message,
			FailedAttempts: sr.FailedAttempts() + 1,
		}); err != nil {
			p.Warn("Ignoring failed event", slog.String("copy", f.Copy.String()), slog.Any("error", err))
			continue
		}
		p.alloc.Ignore(f.Copy, sr.NodeID)
		p.explain(f.Copy, sr.NodeID, allocation.Deny, "copy failed: %s", f.Message)
	}
}
