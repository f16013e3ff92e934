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

package metadata

import (
	"sync"

	"github.com/streamnative/shardalloc/coordinator/model"
)

type memoryProvider struct {
	sync.Mutex

	snapshot *model.Snapshot
	version  Version
}

func NewMemoryProvider() Provider {
	return &memoryProvider{
		snapshot: nil,
		version:  NotExists,
	}
}

func (m *memoryProvider) Close() error {
	return nil
}

func (m *memoryProvider) Get() (*model.Snapshot, Version, error) {
	m.Lock()
	defer m.Unlock()
	if m.snapshot == nil {
		return nil, m.version, nil
	}
	return m.snapshot.Clone(), m.version, nil
}

func (m *memoryProvider) Store(snapshot *model.Snapshot, expectedVersion Version) (Version, error) {
	m.Lock()
	defer m.Unlock()

	if expectedVersion != m.version {
		return NotExists, ErrBadVersion
	}

	m.snapshot = snapshot.Clone()
	m.version = incrVersion(m.version)
	return m.version, nil
}
