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

package model

import (
	"fmt"

	"go.uber.org/multierr"
)

// Snapshot is the read-only cluster view an allocation pass runs against.
type Snapshot struct {
	Nodes        []Node        `json:"nodes" yaml:"nodes"`
	Metadata     Metadata      `json:"metadata" yaml:"metadata"`
	RoutingTable *RoutingTable `json:"routingTable" yaml:"routingTable"`
}

// NodesByID indexes the node set. Duplicated ids are reported by Validate.
func (s *Snapshot) NodesByID() map[string]*Node {
	res := make(map[string]*Node, len(s.Nodes))
	for i := range s.Nodes {
		if _, found := res[s.Nodes[i].ID]; !found {
			res[s.Nodes[i].ID] = &s.Nodes[i]
		}
	}
	return res
}

func (s *Snapshot) Clone() *Snapshot {
	r := &Snapshot{
		Nodes:        make([]Node, len(s.Nodes)),
		Metadata:     Metadata{Indices: make(map[string]IndexMetadata, len(s.Metadata.Indices))},
		RoutingTable: s.RoutingTable.Clone(),
	}
	for i := range s.Nodes {
		r.Nodes[i] = s.Nodes[i].Clone()
	}
	for name, im := range s.Metadata.Indices {
		r.Metadata.Indices[name] = im
	}
	return r
}

// Validate checks the invariants the allocator relies on. All problems are
// reported, combined, in a deterministic order; each one is an
// *InconsistentSnapshotError.
func (s *Snapshot) Validate() error {
	var err error

	nodes := map[string]bool{}
	for _, n := range s.Nodes {
		if n.ID == "" {
			err = multierr.Append(err, &InconsistentSnapshotError{Reason: "node with empty id"})
			continue
		}
		if nodes[n.ID] {
			err = multierr.Append(err, &InconsistentSnapshotError{NodeID: n.ID, Reason: "duplicate node id"})
		}
		nodes[n.ID] = true
	}

	for _, name := range s.Metadata.IndexNames() {
		im := s.Metadata.Indices[name]
		if im.NumberOfShards < 1 {
			err = multierr.Append(err, &InconsistentSnapshotError{
				Reason: fmt.Sprintf("index %s: number of shards must be positive, got %d", name, im.NumberOfShards)})
		}
		if im.NumberOfReplicas < 0 {
			err = multierr.Append(err, &InconsistentSnapshotError{
				Reason: fmt.Sprintf("index %s: number of replicas must not be negative, got %d", name, im.NumberOfReplicas)})
		}
		if im.Enable != nil {
			if e := im.Enable.Validate(); e != nil {
				err = multierr.Append(err, &InconsistentSnapshotError{Reason: fmt.Sprintf("index %s: %v", name, e)})
			}
		}
	}

	if s.RoutingTable == nil {
		return err
	}

	seen := map[CopyID]bool{}
	occupied := map[ShardID]map[string]CopyID{}
	for _, index := range s.RoutingTable.IndexNames() {
		im, known := s.Metadata.Index(index)
		for _, sr := range s.RoutingTable.Indices[index] {
			id := sr.CopyID()
			if sr.Index != index {
				err = multierr.Append(err, inconsistentCopy(id, "", "listed under index %s", index))
				continue
			}
			if !known {
				err = multierr.Append(err, inconsistentCopy(id, "", "index has no metadata"))
				continue
			}
			if seen[id] {
				err = multierr.Append(err, inconsistentCopy(id, sr.NodeID, "duplicate shard copy"))
				continue
			}
			seen[id] = true
			err = multierr.Append(err, validateCopy(sr, im, nodes))

			for _, nodeID := range []string{sr.NodeID, sr.RelocatingNodeID} {
				if nodeID == "" || !sr.OnNode(nodeID) {
					continue
				}
				byNode, ok := occupied[sr.ShardID()]
				if !ok {
					byNode = map[string]CopyID{}
					occupied[sr.ShardID()] = byNode
				}
				if other, dup := byNode[nodeID]; dup {
					err = multierr.Append(err, inconsistentCopy(id, nodeID, "node already holds copy %s", other))
					continue
				}
				byNode[nodeID] = id
			}
		}
	}
	return err
}

func validateCopy(sr ShardRouting, im IndexMetadata, nodes map[string]bool) error {
	id := sr.CopyID()
	switch {
	case sr.Primary && sr.Replica != 0:
		return inconsistentCopy(id, sr.NodeID, "primary copy with replica ordinal %d", sr.Replica)
	case !sr.Primary && sr.Replica < 1:
		return inconsistentCopy(id, sr.NodeID, "replica copy with ordinal %d", sr.Replica)
	case sr.Shard < 0 || sr.Shard >= im.NumberOfShards:
		return inconsistentCopy(id, sr.NodeID, "shard number outside [0, %d)", im.NumberOfShards)
	}

	if _, ok := shardStateToString[sr.State]; !ok {
		return inconsistentCopy(id, sr.NodeID, "invalid state %d", uint16(sr.State))
	}
	if !sr.Assigned() {
		if sr.NodeID != "" || sr.RelocatingNodeID != "" {
			return inconsistentCopy(id, sr.NodeID, "unassigned copy with a node")
		}
		return nil
	}
	if sr.NodeID == "" {
		return inconsistentCopy(id, "", "%s copy without a node", sr.State)
	}
	if !nodes[sr.NodeID] {
		return inconsistentCopy(id, sr.NodeID, "assigned to an unknown node")
	}
	if sr.State == ShardStateRelocating {
		if sr.RelocatingNodeID == "" {
			return inconsistentCopy(id, sr.NodeID, "relocating copy without a target node")
		}
		if !nodes[sr.RelocatingNodeID] {
			return inconsistentCopy(id, sr.RelocatingNodeID, "relocating to an unknown node")
		}
		if sr.RelocatingNodeID == sr.NodeID {
			return inconsistentCopy(id, sr.NodeID, "relocating to its own node")
		}
	} else if sr.RelocatingNodeID != "" {
		return inconsistentCopy(id, sr.NodeID, "%s copy with a relocation target", sr.State)
	}
	return nil
}
