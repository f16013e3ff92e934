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

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/streamnative/shardalloc/coordinator/model"
)

const configMapKey = "snapshot"

// configMapProvider keeps the snapshot as YAML in a config map and uses its
// resource version as the snapshot version.
type configMapProvider struct {
	sync.Mutex
	configMaps      Client[corev1.ConfigMap]
	namespace, name string
}

func NewConfigMapProvider(kc kubernetes.Interface, namespace, name string) Provider {
	return &configMapProvider{
		configMaps: K8SConfigMaps(kc),
		namespace:  namespace,
		name:       name,
	}
}

func (m *configMapProvider) Get() (*model.Snapshot, Version, error) {
	m.Lock()
	defer m.Unlock()
	return m.getWithoutLock()
}

func (m *configMapProvider) getWithoutLock() (*model.Snapshot, Version, error) {
	cm, err := m.configMaps.Get(m.namespace, m.name)
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return nil, NotExists, nil
		}
		return nil, NotExists, err
	}

	data, found := cm.Data[configMapKey]
	if !found {
		return nil, Version(cm.ResourceVersion), nil
	}
	snapshot := &model.Snapshot{}
	if err := yaml.Unmarshal([]byte(data), snapshot); err != nil {
		return nil, NotExists, errors.Wrapf(err, "failed to decode config map %s/%s", m.namespace, m.name)
	}
	return snapshot, Version(cm.ResourceVersion), nil
}

func (m *configMapProvider) Store(snapshot *model.Snapshot, expectedVersion Version) (Version, error) {
	m.Lock()
	defer m.Unlock()

	_, version, err := m.getWithoutLock()
	if err != nil {
		return NotExists, err
	}
	if version != expectedVersion {
		return NotExists, ErrBadVersion
	}

	cm, err := configMap(m.name, snapshot, expectedVersion)
	if err != nil {
		return NotExists, err
	}
	if expectedVersion == NotExists {
		cm, err = m.configMaps.Create(m.namespace, cm)
	} else {
		cm, err = m.configMaps.Update(m.namespace, cm)
	}
	if err != nil {
		if k8serrors.IsConflict(err) || k8serrors.IsAlreadyExists(err) {
			return NotExists, ErrBadVersion
		}
		return NotExists, err
	}
	return Version(cm.ResourceVersion), nil
}

func (*configMapProvider) Close() error {
	return nil
}

func configMap(name string, snapshot *model.Snapshot, version Version) (*corev1.ConfigMap, error) {
	bytes, err := yaml.Marshal(snapshot)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal cluster snapshot")
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Data: map[string]string{
			configMapKey: string(bytes),
		},
	}
	if version != NotExists {
		cm.ResourceVersion = string(version)
	}
	return cm, nil
}
