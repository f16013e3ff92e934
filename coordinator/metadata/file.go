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
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/juju/fslock"
	"github.com/pkg/errors"

	"github.com/streamnative/shardalloc/coordinator/model"
)

type fileProvider struct {
	path     string
	fileLock *fslock.Lock
}

type Container struct {
	Snapshot *model.Snapshot `json:"snapshot"`
	Version  Version         `json:"version"`
}

func NewFileProvider(path string) Provider {
	return &fileProvider{
		path:     path,
		fileLock: fslock.New(path),
	}
}

func (m *fileProvider) Close() error {
	return nil
}

func (m *fileProvider) Get() (*model.Snapshot, Version, error) {
	content, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotExists, nil
		}
		return nil, NotExists, err
	}

	if len(content) == 0 {
		return nil, NotExists, nil
	}

	mc := Container{}
	if err = json.Unmarshal(content, &mc); err != nil {
		return nil, NotExists, errors.Wrapf(err, "failed to decode %s", m.path)
	}

	return mc.Snapshot, mc.Version, nil
}

func (m *fileProvider) Store(snapshot *model.Snapshot, expectedVersion Version) (Version, error) {
	parentDir := filepath.Dir(m.path)
	if _, err := os.Stat(parentDir); err != nil {
		if !os.IsNotExist(err) {
			return NotExists, err
		}
		if err := os.MkdirAll(parentDir, 0755); err != nil {
			return NotExists, err
		}
	}

	if err := m.fileLock.Lock(); err != nil {
		return NotExists, errors.Wrap(err, "failed to acquire file lock")
	}
	defer func() {
		if err := m.fileLock.Unlock(); err != nil {
			slog.Warn(
				"Failed to release file lock on metadata",
				slog.Any("error", err),
			)
		}
	}()

	_, existingVersion, err := m.Get()
	if err != nil {
		return NotExists, err
	}

	if expectedVersion != existingVersion {
		return NotExists, ErrBadVersion
	}

	newVersion := incrVersion(existingVersion)
	newContent, err := json.MarshalIndent(Container{
		Snapshot: snapshot,
		Version:  newVersion,
	}, "", "  ")
	if err != nil {
		return NotExists, err
	}

	if err := os.WriteFile(m.path, newContent, 0640); err != nil {
		return NotExists, err
	}
	return newVersion, nil
}
