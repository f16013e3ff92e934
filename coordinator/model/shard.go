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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type ShardState uint16

const (
	ShardStateUnassigned ShardState = iota
	ShardStateInitializing
	ShardStateStarted
	ShardStateRelocating
)

var shardStateToString = map[ShardState]string{
	ShardStateUnassigned:   "UNASSIGNED",
	ShardStateInitializing: "INITIALIZING",
	ShardStateStarted:      "STARTED",
	ShardStateRelocating:   "RELOCATING",
}

var toShardState = map[string]ShardState{
	"UNASSIGNED":   ShardStateUnassigned,
	"INITIALIZING": ShardStateInitializing,
	"STARTED":      ShardStateStarted,
	"RELOCATING":   ShardStateRelocating,
}

func (s ShardState) String() string {
	if str, ok := shardStateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("ShardState(%d)", uint16(s))
}

func (s ShardState) MarshalText() ([]byte, error) {
	str, ok := shardStateToString[s]
	if !ok {
		return nil, errors.Errorf("invalid shard state %d", uint16(s))
	}
	return []byte(str), nil
}

func (s *ShardState) UnmarshalText(b []byte) error {
	state, ok := toShardState[string(b)]
	if !ok {
		return errors.Errorf("unknown shard state %q", string(b))
	}
	*s = state
	return nil
}

// Assigned reports whether a copy in this state is bound to a node.
func (s ShardState) Assigned() bool {
	return s != ShardStateUnassigned
}

// Active copies hold a full set of data and can serve as a recovery source.
func (s ShardState) Active() bool {
	return s == ShardStateStarted || s == ShardStateRelocating
}

type UnassignedReason string

const (
	ReasonIndexCreated     UnassignedReason = "INDEX_CREATED"
	ReasonReplicaAdded     UnassignedReason = "REPLICA_ADDED"
	ReasonNodeLeft         UnassignedReason = "NODE_LEFT"
	ReasonAllocationFailed UnassignedReason = "ALLOCATION_FAILED"
	ReasonRerouteCancelled UnassignedReason = "REROUTE_CANCELLED"
)

// UnassignedInfo records why a copy lost (or never had) a node.
type UnassignedInfo struct {
	Reason         UnassignedReason `json:"reason" yaml:"reason"`
	Message        string           `json:"message,omitempty" yaml:"message,omitempty"`
	FailedAttempts int              `json:"failedAttempts,omitempty" yaml:"failedAttempts,omitempty"`
}

// ShardID identifies one partition of an index, across all of its copies.
type ShardID struct {
	Index string `json:"index" yaml:"index"`
	Shard int    `json:"shard" yaml:"shard"`
}

func (id ShardID) String() string {
	return fmt.Sprintf("%s[%d]", id.Index, id.Shard)
}

// CopyID identifies a single copy of a shard. Replica is 0 for the primary
// and 1..n for the replicas.
type CopyID struct {
	Index   string `json:"index" yaml:"index"`
	Shard   int    `json:"shard" yaml:"shard"`
	Primary bool   `json:"primary" yaml:"primary"`
	Replica int    `json:"replica,omitempty" yaml:"replica,omitempty"`
}

func PrimaryCopy(index string, shard int) CopyID {
	return CopyID{Index: index, Shard: shard, Primary: true}
}

func ReplicaCopy(index string, shard int, replica int) CopyID {
	return CopyID{Index: index, Shard: shard, Replica: replica}
}

func (id CopyID) ShardID() ShardID {
	return ShardID{Index: id.Index, Shard: id.Shard}
}

func (id CopyID) String() string {
	if id.Primary {
		return fmt.Sprintf("%s[%d][p]", id.Index, id.Shard)
	}
	return fmt.Sprintf("%s[%d][r%d]", id.Index, id.Shard, id.Replica)
}

// ParseCopyID reads the form produced by CopyID.String.
func ParseCopyID(s string) (CopyID, error) {
	invalid := errors.Errorf("invalid shard copy %q, expected index[shard][p] or index[shard][rN]", s)
	cut := func(str string) (string, string, bool) {
		i := strings.LastIndex(str, "[")
		if i <= 0 || !strings.HasSuffix(str, "]") {
			return "", "", false
		}
		return str[:i], str[i+1 : len(str)-1], true
	}

	head, kind, ok := cut(s)
	if !ok {
		return CopyID{}, invalid
	}
	index, shardStr, ok := cut(head)
	if !ok {
		return CopyID{}, invalid
	}
	shard, err := strconv.Atoi(shardStr)
	if err != nil || shard < 0 {
		return CopyID{}, invalid
	}
	if kind == "p" {
		return PrimaryCopy(index, shard), nil
	}
	replica, err := strconv.Atoi(strings.TrimPrefix(kind, "r"))
	if !strings.HasPrefix(kind, "r") || err != nil || replica < 1 {
		return CopyID{}, invalid
	}
	return ReplicaCopy(index, shard, replica), nil
}

// Less orders copies by index, shard, primary first, then replica ordinal.
func (id CopyID) Less(other CopyID) bool {
	if id.Index != other.Index {
		return id.Index < other.Index
	}
	if id.Shard != other.Shard {
		return id.Shard < other.Shard
	}
	if id.Primary != other.Primary {
		return id.Primary
	}
	return id.Replica < other.Replica
}

// ShardRouting is the placement of one shard copy.
type ShardRouting struct {
	Index            string          `json:"index" yaml:"index"`
	Shard            int             `json:"shard" yaml:"shard"`
	Primary          bool            `json:"primary" yaml:"primary"`
	Replica          int             `json:"replica,omitempty" yaml:"replica,omitempty"`
	State            ShardState      `json:"state" yaml:"state"`
	NodeID           string          `json:"node,omitempty" yaml:"node,omitempty"`
	RelocatingNodeID string          `json:"relocatingNode,omitempty" yaml:"relocatingNode,omitempty"`
	Unassigned       *UnassignedInfo `json:"unassigned,omitempty" yaml:"unassigned,omitempty"`
}

func NewUnassigned(id CopyID, reason UnassignedReason) ShardRouting {
	return ShardRouting{
		Index:      id.Index,
		Shard:      id.Shard,
		Primary:    id.Primary,
		Replica:    id.Replica,
		State:      ShardStateUnassigned,
		Unassigned: &UnassignedInfo{Reason: reason},
	}
}

func (s ShardRouting) CopyID() CopyID {
	return CopyID{Index: s.Index, Shard: s.Shard, Primary: s.Primary, Replica: s.Replica}
}

func (s ShardRouting) ShardID() ShardID {
	return ShardID{Index: s.Index, Shard: s.Shard}
}

func (s ShardRouting) Assigned() bool {
	return s.State.Assigned()
}

// OnNode reports whether the copy occupies the node, either as its current
// location or as the target of an in-flight relocation.
func (s ShardRouting) OnNode(nodeID string) bool {
	if !s.Assigned() {
		return false
	}
	return s.NodeID == nodeID || (s.State == ShardStateRelocating && s.RelocatingNodeID == nodeID)
}

// NeverAllocated is true for copies of freshly created indices.
func (s ShardRouting) NeverAllocated() bool {
	return s.Unassigned != nil && s.Unassigned.Reason == ReasonIndexCreated
}

func (s ShardRouting) FailedAttempts() int {
	if s.Unassigned == nil {
		return 0
	}
	return s.Unassigned.FailedAttempts
}

func (s ShardRouting) Clone() ShardRouting {
	r := s
	if s.Unassigned != nil {
		info := *s.Unassigned
		r.Unassigned = &info
	}
	return r
}

// Equal compares two placements field by field, including unassigned info.
func (s ShardRouting) Equal(o ShardRouting) bool {
	if s.CopyID() != o.CopyID() || s.State != o.State ||
		s.NodeID != o.NodeID || s.RelocatingNodeID != o.RelocatingNodeID {
		return false
	}
	if s.Unassigned == nil || o.Unassigned == nil {
		return s.Unassigned == nil && o.Unassigned == nil
	}
	return *s.Unassigned == *o.Unassigned
}

func (s ShardRouting) String() string {
	switch s.State {
	case ShardStateUnassigned:
		return fmt.Sprintf("%s %s", s.CopyID(), s.State)
	case ShardStateRelocating:
		return fmt.Sprintf("%s %s %s->%s", s.CopyID(), s.State, s.NodeID, s.RelocatingNodeID)
	default:
		return fmt.Sprintf("%s %s %s", s.CopyID(), s.State, s.NodeID)
	}
}
