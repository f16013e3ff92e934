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

package conf

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/streamnative/shardalloc/coordinator"
	"github.com/streamnative/shardalloc/coordinator/metadata"
	"github.com/streamnative/shardalloc/coordinator/model"
)

const settingsYAML = `
interval: 5s
selector: least-loaded
metadata:
  backend: memory
allocation:
  enable: primaries
  maxRetries: 3
  filter:
    exclude:
      zone: us-east-1c
  awareness:
    attributes: zone,rack
rebalance:
  enabled: true
  threshold: 2
`

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "shardalloc.yaml")
	require.NoError(t, os.WriteFile(file, []byte(settingsYAML), 0600))

	v := viper.New()
	require.NoError(t, Setup(v, file, false))

	config := coordinator.NewConfig()
	require.NoError(t, Load(v, file, &config))

	assert.Equal(t, 5*time.Second, config.Interval)
	assert.Equal(t, coordinator.SelectorLeastLoaded, config.Selector)
	assert.Equal(t, metadata.BackendMemory, config.Metadata.Backend)
	assert.Equal(t, model.EnablePrimaries, config.Allocation.Enable)
	assert.Equal(t, 3, config.Allocation.MaxRetries)
	assert.Equal(t, map[string]string{"zone": "us-east-1c"}, config.Allocation.Filter.Exclude)
	assert.Equal(t, []string{"zone", "rack"}, config.Allocation.Awareness.Attributes)
	assert.True(t, config.Rebalance.Enabled)
	assert.Equal(t, 2, config.Rebalance.Threshold)

	// untouched keys keep their defaults
	assert.Equal(t, coordinator.NewConfig().MaxPassesPerSecond, config.MaxPassesPerSecond)
	assert.Equal(t, coordinator.NewConfig().Allocation.NodeConcurrentRecoveries, config.Allocation.NodeConcurrentRecoveries)
	assert.NoError(t, config.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "missing.yaml")
	v := viper.New()
	require.NoError(t, Setup(v, file, false))
	config := coordinator.NewConfig()
	assert.Error(t, Load(v, file, &config))
}

type remoteProvider string

func (remoteProvider) Provider() string      { return "configmap" }
func (remoteProvider) Endpoint() string      { return "endpoint" }
func (r remoteProvider) Path() string        { return string(r) }
func (remoteProvider) SecretKeyring() string { return "" }

func TestConfigMapProvider(t *testing.T) {
	kc := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Namespace: "ns", Name: "settings"},
		Data:       map[string]string{configMapKey: settingsYAML},
	})
	p := &cmConfigProvider{client: func() kubernetes.Interface { return kc }}

	r, err := p.Get(remoteProvider("configmap:ns/settings"))
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, settingsYAML, string(b))

	for _, path := range []string{"configmap:ns", "configmap:ns/", "configmap:a/b/c"} {
		_, err = p.Get(remoteProvider(path))
		assert.Error(t, err, path)
	}
	_, err = p.Get(remoteProvider("configmap:ns/missing"))
	assert.Error(t, err)
	assert.True(t, IsRemote("configmap:ns/settings"))
	assert.False(t, IsRemote("settings.yaml"))
}
