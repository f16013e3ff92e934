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
	"strings"

	"github.com/pkg/errors"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

// ForceName is the explanation entry name of a forced placement.
const ForceName = "force"

var ErrForceAllocation = errors.New("force allocation rejected")

// ForceAllocation is a manual request to place one copy on one node.
type ForceAllocation struct {
	Copy model.CopyID `json:"copy" yaml:"copy"`
	Node string       `json:"node" yaml:"node"`
}

// ParseForceAllocation reads the "index[shard][p]=node" or
// "index[shard][rN]=node" form.
func ParseForceAllocation(s string) (ForceAllocation, error) {
	copyStr, node, ok := strings.Cut(s, "=")
	if !ok || node == "" {
		return ForceAllocation{}, errors.Errorf("invalid force allocation %q, expected copy=node", s)
	}
	id, err := model.ParseCopyID(copyStr)
	if err != nil {
		return ForceAllocation{}, err
	}
	return ForceAllocation{Copy: id, Node: node}, nil
}

// ForceAllocate places a single copy on the requested node. Deciders that
// only disable allocation stand aside; every other decider is still
// evaluated and recorded, but its verdict does not stop the placement.
// Requests that would break the routing table invariants are rejected with
// ErrForceAllocation.
func (a *Allocator) ForceAllocate(ctx context.Context, snapshot *model.Snapshot, request ForceAllocation) (*Result, error) {
	timer := a.metrics.passLatency.Timer()
	defer timer.Done()

	p, err := a.open(ctx, snapshot)
	if err != nil {
		a.metrics.passesFailed.Inc()
		return nil, err
	}
	if err := p.force(request); err != nil {
		a.metrics.passesFailed.Inc()
		return nil, err
	}

	a.Info("Forced allocation",
		slog.String("copy", request.Copy.String()),
		slog.String("node", request.Node))
	return p.finish("force"), nil
}

func (p *pass) force(request ForceAllocation) error {
	id := request.Copy
	node, found := p.alloc.Node(request.Node)
	if !found || !node.Live {
		return errors.Wrapf(ErrForceAllocation, "node %s is not a live node", request.Node)
	}
	sr, found := p.routing.Get(id)
	if !found {
		return errors.Wrapf(ErrForceAllocation, "unknown copy %s", id)
	}
	if sr.Assigned() {
		return errors.Wrapf(ErrForceAllocation, "copy %s is already assigned to %s", id, sr.NodeID)
	}
	for _, other := range p.routing.CopiesOf(id.ShardID()) {
		if other.CopyID() != id && other.OnNode(node.ID) {
			return errors.Wrapf(ErrForceAllocation, "node %s already holds %s", node.ID, other.CopyID())
		}
	}

	p.alloc.SetIgnoreDisable(true)
	verdict, decisions := p.alloc.CanAllocate(sr, node)
	p.alloc.Explanation().AddDecisions(id, node.ID, decisions)

	if err := p.routing.Assign(id, node.ID); err != nil {
		return errors.Wrapf(ErrForceAllocation, "%v", err)
	}
	p.stats.allocated++
	p.alloc.Explanation().Add(id, allocation.Entry{
		Node:    node.ID,
		Decider: ForceName,
		Verdict: allocation.Allow,
		Reason:  "manual allocation overrides the " + verdict.String() + " verdict of the deciders",
	})
	return nil
}
