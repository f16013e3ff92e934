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

	"github.com/pkg/errors"
)

var ErrInconsistentSnapshot = errors.New("inconsistent cluster snapshot")

// InconsistentSnapshotError identifies the copy and/or node that makes a
// snapshot unusable. It matches ErrInconsistentSnapshot with errors.Is.
type InconsistentSnapshotError struct {
	Copy   *CopyID
	NodeID string
	Reason string
}

func (e *InconsistentSnapshotError) Error() string {
	switch {
	case e.Copy != nil && e.NodeID != "":
		return fmt.Sprintf("%s: copy %s, node %s: %s", ErrInconsistentSnapshot, e.Copy, e.NodeID, e.Reason)
	case e.Copy != nil:
		return fmt.Sprintf("%s: copy %s: %s", ErrInconsistentSnapshot, e.Copy, e.Reason)
	case e.NodeID != "":
		return fmt.Sprintf("%s: node %s: %s", ErrInconsistentSnapshot, e.NodeID, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", ErrInconsistentSnapshot, e.Reason)
	}
}

func (*InconsistentSnapshotError) Is(target error) bool {
	return target == ErrInconsistentSnapshot
}

func inconsistentCopy(id CopyID, nodeID string, format string, args ...any) error {
	return &InconsistentSnapshotError{Copy: &id, NodeID: nodeID, Reason: fmt.Sprintf(format, args...)}
}
