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

package allocation

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/streamnative/shardalloc/coordinator/model"
)

var (
	ErrUnknownCopy      = errors.New("unknown shard copy")
	ErrCopyAssigned     = errors.New("shard copy already assigned")
	ErrCopyNotAssigned  = errors.New("shard copy not assigned")
	ErrSameShardOnNode  = errors.New("node already holds a copy of the shard")
	ErrInvalidStateMove = errors.New("invalid shard state transition")
)

// RoutingView is the read-only view of the working routing table that
// deciders see.
type RoutingView interface {
	Get(id model.CopyID) (model.ShardRouting, bool)
	CopiesOf(id model.ShardID) []model.ShardRouting
	CopiesOn(nodeID string) []model.ShardRouting
	CountOn(nodeID string) int
	CountOnForIndex(nodeID string, index string) int
	InFlightRecoveries(nodeID string) int
	Primary(id model.ShardID) (model.ShardRouting, bool)
}

var _ RoutingView = &RoutingNodes{}

// RoutingNodes is the working copy of a routing table during a pass. It is
// built from an immutable table, edited by the allocator and turned back
// into a new table with Build.
type RoutingNodes struct {
	copies map[model.CopyID]*model.ShardRouting
	shards map[model.ShardID][]model.CopyID
	byNode map[string]map[model.CopyID]bool

	// placements made during this pass, per node
	placed map[string]int
}

func NewRoutingNodes(rt *model.RoutingTable) *RoutingNodes {
	rn := &RoutingNodes{
		copies: map[model.CopyID]*model.ShardRouting{},
		shards: map[model.ShardID][]model.CopyID{},
		byNode: map[string]map[model.CopyID]bool{},
		placed: map[string]int{},
	}
	for _, sr := range rt.Copies() {
		rn.Add(sr)
	}
	return rn
}

// Add inserts a copy, replacing any existing copy with the same identity.
func (rn *RoutingNodes) Add(sr model.ShardRouting) {
	id := sr.CopyID()
	if _, exists := rn.copies[id]; exists {
		rn.Remove(id)
	}
	cloned := sr.Clone()
	rn.copies[id] = &cloned
	shardID := id.ShardID()
	rn.shards[shardID] = append(rn.shards[shardID], id)
	slices.SortFunc(rn.shards[shardID], compareCopyIDs)
	rn.link(&cloned)
}

func (rn *RoutingNodes) Remove(id model.CopyID) {
	sr, exists := rn.copies[id]
	if !exists {
		return
	}
	rn.unlink(sr)
	delete(rn.copies, id)
	shardID := id.ShardID()
	rn.shards[shardID] = slices.DeleteFunc(rn.shards[shardID], func(other model.CopyID) bool {
		return other == id
	})
	if len(rn.shards[shardID]) == 0 {
		delete(rn.shards, shardID)
	}
}

func (rn *RoutingNodes) Get(id model.CopyID) (model.ShardRouting, bool) {
	sr, found := rn.copies[id]
	if !found {
		return model.ShardRouting{}, false
	}
	return sr.Clone(), true
}

func (rn *RoutingNodes) CopiesOf(id model.ShardID) []model.ShardRouting {
	ids := rn.shards[id]
	res := make([]model.ShardRouting, 0, len(ids))
	for _, copyID := range ids {
		res = append(res, rn.copies[copyID].Clone())
	}
	return res
}

func (rn *RoutingNodes) Primary(id model.ShardID) (model.ShardRouting, bool) {
	return rn.Get(model.PrimaryCopy(id.Index, id.Shard))
}

// CopiesOn returns the copies located on, or relocating to, the node.
func (rn *RoutingNodes) CopiesOn(nodeID string) []model.ShardRouting {
	res := make([]model.ShardRouting, 0, len(rn.byNode[nodeID]))
	for id := range rn.byNode[nodeID] {
		res = append(res, rn.copies[id].Clone())
	}
	model.SortCopies(res)
	return res
}

func (rn *RoutingNodes) CountOn(nodeID string) int {
	return len(rn.byNode[nodeID])
}

func (rn *RoutingNodes) CountOnForIndex(nodeID string, index string) int {
	n := 0
	for id := range rn.byNode[nodeID] {
		if id.Index == index {
			n++
		}
	}
	return n
}

// InFlightRecoveries counts the copies the node is receiving: initializing
// copies, incoming relocations and copies placed on it during this pass.
func (rn *RoutingNodes) InFlightRecoveries(nodeID string) int {
	n := rn.placed[nodeID]
	for id := range rn.byNode[nodeID] {
		sr := rn.copies[id]
		switch {
		case sr.State == model.ShardStateInitializing && sr.NodeID == nodeID:
			n++
		case sr.State == model.ShardStateRelocating && sr.RelocatingNodeID == nodeID:
			n++
		}
	}
	return n
}

// PlacedInPass reports how many copies were assigned to the node during the
// current pass.
func (rn *RoutingNodes) PlacedInPass(nodeID string) int {
	return rn.placed[nodeID]
}

// Copies returns all copies ordered by CopyID.
func (rn *RoutingNodes) Copies() []model.ShardRouting {
	res := make([]model.ShardRouting, 0, len(rn.copies))
	for _, sr := range rn.copies {
		res = append(res, sr.Clone())
	}
	model.SortCopies(res)
	return res
}

func (rn *RoutingNodes) Unassigned() []model.ShardRouting {
	res := make([]model.ShardRouting, 0)
	for _, sr := range rn.copies {
		if !sr.Assigned() {
			res = append(res, sr.Clone())
		}
	}
	model.SortCopies(res)
	return res
}

// Assign places an unassigned copy on a node as a started copy.
func (rn *RoutingNodes) Assign(id model.CopyID, nodeID string) error {
	sr, found := rn.copies[id]
	if !found {
		return errors.Wrap(ErrUnknownCopy, id.String())
	}
	if sr.Assigned() {
		return errors.Wrapf(ErrCopyAssigned, "%s on %s", id, sr.NodeID)
	}
	for _, other := range rn.shards[id.ShardID()] {
		if other != id && rn.copies[other].OnNode(nodeID) {
			return errors.Wrapf(ErrSameShardOnNode, "%s and %s on %s", id, other, nodeID)
		}
	}
	sr.State = model.ShardStateStarted
	sr.NodeID = nodeID
	sr.RelocatingNodeID = ""
	if sr.FailedAttempts() == 0 {
		sr.Unassigned = nil
	}
	// a copy that failed before keeps its history until it is reported started
	rn.link(sr)
	rn.placed[nodeID]++
	return nil
}

// Move relocates a started copy to another node. The copy is started on
// the target right away, like any placement made by a pass.
func (rn *RoutingNodes) Move(id model.CopyID, nodeID string) error {
	sr, found := rn.copies[id]
	if !found {
		return errors.Wrap(ErrUnknownCopy, id.String())
	}
	if sr.State != model.ShardStateStarted {
		return errors.Wrapf(ErrInvalidStateMove, "cannot move %s copy %s", sr.State, id)
	}
	for _, other := range rn.shards[id.ShardID()] {
		if other != id && rn.copies[other].OnNode(nodeID) {
			return errors.Wrapf(ErrSameShardOnNode, "%s and %s on %s", id, other, nodeID)
		}
	}
	rn.unlink(sr)
	sr.NodeID = nodeID
	rn.link(sr)
	rn.placed[nodeID]++
	return nil
}

// CancelRelocation leaves a relocating copy started on its source node.
func (rn *RoutingNodes) CancelRelocation(id model.CopyID) error {
	sr, found := rn.copies[id]
	if !found {
		return errors.Wrap(ErrUnknownCopy, id.String())
	}
	if sr.State != model.ShardStateRelocating {
		return errors.Wrapf(ErrInvalidStateMove, "%s is %s", id, sr.State)
	}
	rn.unlink(sr)
	sr.State = model.ShardStateStarted
	sr.RelocatingNodeID = ""
	rn.link(sr)
	return nil
}

// Unassign releases a copy from its node.
func (rn *RoutingNodes) Unassign(id model.CopyID, info model.UnassignedInfo) error {
	sr, found := rn.copies[id]
	if !found {
		return errors.Wrap(ErrUnknownCopy, id.String())
	}
	if !sr.Assigned() {
		return errors.Wrap(ErrCopyNotAssigned, id.String())
	}
	rn.unlink(sr)
	sr.State = model.ShardStateUnassigned
	sr.NodeID = ""
	sr.RelocatingNodeID = ""
	sr.Unassigned = &info
	return nil
}

// Start marks an initializing copy as started and completes a relocation on
// its target node. Starting a started copy clears its failure history.
func (rn *RoutingNodes) Start(id model.CopyID) error {
	sr, found := rn.copies[id]
	if !found {
		return errors.Wrap(ErrUnknownCopy, id.String())
	}
	switch sr.State {
	case model.ShardStateInitializing:
		sr.State = model.ShardStateStarted
	case model.ShardStateRelocating:
		rn.unlink(sr)
		sr.State = model.ShardStateStarted
		sr.NodeID = sr.RelocatingNodeID
		sr.RelocatingNodeID = ""
		rn.link(sr)
	case model.ShardStateStarted:
		if sr.Unassigned == nil {
			return errors.Wrapf(ErrInvalidStateMove, "%s is already %s", id, sr.State)
		}
	default:
		return errors.Wrapf(ErrInvalidStateMove, "%s is %s", id, sr.State)
	}
	sr.Unassigned = nil
	return nil
}

// Build returns a new routing table holding the working placements.
func (rn *RoutingNodes) Build() *model.RoutingTable {
	rt := model.NewRoutingTable()
	for _, sr := range rn.Copies() {
		rt.Indices[sr.Index] = append(rt.Indices[sr.Index], sr)
	}
	return rt
}

func (rn *RoutingNodes) link(sr *model.ShardRouting) {
	if !sr.Assigned() {
		return
	}
	for _, nodeID := range []string{sr.NodeID, sr.RelocatingNodeID} {
		if nodeID == "" {
			continue
		}
		copies, ok := rn.byNode[nodeID]
		if !ok {
			copies = map[model.CopyID]bool{}
			rn.byNode[nodeID] = copies
		}
		copies[sr.CopyID()] = true
	}
}

func (rn *RoutingNodes) unlink(sr *model.ShardRouting) {
	for _, nodeID := range []string{sr.NodeID, sr.RelocatingNodeID} {
		if copies, ok := rn.byNode[nodeID]; ok {
			delete(copies, sr.CopyID())
			if len(copies) == 0 {
				delete(rn.byNode, nodeID)
			}
		}
	}
}

func compareCopyIDs(a, b model.CopyID) int {
	switch {
	case a == b:
		return 0
	case a.Less(b):
		return -1
	default:
		return 1
	}
}
