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
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/streamnative/shardalloc/coordinator/model"
)

// Version is the opaque version of the stored cluster snapshot, used for
// compare-and-set updates.
type Version string

var (
	ErrBadVersion     = errors.New("metadata bad version")
	ErrUnknownBackend = errors.New("unknown metadata backend")
)

const NotExists Version = "-1"

// Provider keeps the cluster snapshot the coordinator works on. Store only
// succeeds when the expected version is the current one.
type Provider interface {
	io.Closer

	Get() (snapshot *model.Snapshot, version Version, err error)

	Store(snapshot *model.Snapshot, expectedVersion Version) (newVersion Version, err error)
}

type Backend string

const (
	BackendMemory    Backend = "memory"
	BackendFile      Backend = "file"
	BackendConfigMap Backend = "configmap"
)

type Options struct {
	Backend Backend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// File is the path of the snapshot for the file backend.
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`

	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" mapstructure:"namespace"`
	ConfigMap string `json:"configMap,omitempty" yaml:"configMap,omitempty" mapstructure:"configMap"`
}

func (o Options) Validate() error {
	switch o.Backend {
	case BackendMemory:
	case BackendFile:
		if o.File == "" {
			return errors.New("the file backend needs a file path")
		}
	case BackendConfigMap:
		if o.Namespace == "" || o.ConfigMap == "" {
			return errors.New("the configmap backend needs a namespace and a name")
		}
	default:
		return errors.Wrapf(ErrUnknownBackend, "%q", string(o.Backend))
	}
	return nil
}

func New(o Options) (Provider, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	switch o.Backend {
	case BackendFile:
		return NewFileProvider(o.File), nil
	case BackendConfigMap:
		return NewConfigMapProvider(NewK8SClientset(NewK8SClientConfig()), o.Namespace, o.ConfigMap), nil
	default:
		return NewMemoryProvider(), nil
	}
}

func incrVersion(version Version) Version {
	i, err := strconv.ParseInt(string(version), 10, 64)
	if err != nil {
		return ""
	}
	i++
	return Version(strconv.FormatInt(i, 10))
}
