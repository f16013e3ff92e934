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
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/streamnative/shardalloc/common/process"
	"github.com/streamnative/shardalloc/coordinator/metadata"
)

const configMapKey = "settings.yaml"

// RemoteChanges receives a value every time the watched config map changes.
var RemoteChanges = make(chan struct{}, 1)

type cmConfigProvider struct {
	client func() kubernetes.Interface
}

func getNamespaceAndCmName(rp viper.RemoteProvider) (namespace, cmName string, err error) {
	p := strings.Split(strings.TrimPrefix(rp.Path(), remotePrefix), "/")
	if len(p) != 2 || p[0] == "" || p[1] == "" {
		return "", "", errors.Errorf("invalid config map reference %q, expected configmap:<namespace>/<name>", rp.Path())
	}
	return p[0], p[1], nil
}

func (c *cmConfigProvider) Get(rp viper.RemoteProvider) (io.Reader, error) {
	namespace, configmap, err := getNamespaceAndCmName(rp)
	if err != nil {
		return nil, err
	}
	cmValue, err := metadata.K8SConfigMaps(c.client()).Get(namespace, configmap)
	if err != nil {
		return nil, err
	}

	data, ok := cmValue.Data[configMapKey]
	if !ok {
		return nil, errors.Errorf("key %s not found in config map %s", configMapKey, rp.Path())
	}
	return bytes.NewReader([]byte(data)), nil
}

func (c *cmConfigProvider) Watch(rp viper.RemoteProvider) (io.Reader, error) {
	return c.Get(rp)
}

func (c *cmConfigProvider) WatchChannel(rp viper.RemoteProvider) (<-chan *viper.RemoteResponse, chan bool) {
	ch := make(chan *viper.RemoteResponse, 1)
	namespace, configmap, err := getNamespaceAndCmName(rp)
	if err != nil {
		ch <- &viper.RemoteResponse{Error: err}
		return ch, nil
	}

	w, err := c.client().CoreV1().ConfigMaps(namespace).Watch(context.Background(), metav1.ListOptions{})
	if err != nil {
		slog.Error("Failed to setup watch on config map",
			slog.String("k8s-namespace", namespace),
			slog.String("k8s-config-map", configmap),
			slog.Any("error", err))
		ch <- &viper.RemoteResponse{Error: err}
		return ch, nil
	}

	go process.DoWithLabels(map[string]string{
		"component": "k8s-configmap-watch",
	}, func() {
		for res := range w.ResultChan() {
			cm, ok := res.Object.(*v1.ConfigMap)
			if !ok {
				slog.Warn("Got wrong type of object notification",
					slog.String("k8s-namespace", namespace),
					slog.String("k8s-config-map", configmap),
					slog.Any("object", res),
				)
				continue
			}
			if cm.Name != configmap {
				continue
			}

			slog.Info("Got watch event from K8S",
				slog.String("k8s-namespace", namespace),
				slog.String("k8s-config-map", configmap),
				slog.Any("event-type", res.Type),
			)

			switch res.Type {
			case watch.Added, watch.Modified:
				ch <- &viper.RemoteResponse{
					Value: []byte(cm.Data[configMapKey]),
				}
				select {
				case RemoteChanges <- struct{}{}:
				default:
				}
			default:
				ch <- &viper.RemoteResponse{
					Error: errors.Errorf("unexpected event on config map: %v", res.Type),
				}
			}
		}
	})

	return ch, nil
}

func init() {
	viper.RemoteConfig = &cmConfigProvider{
		client: func() kubernetes.Interface {
			return metadata.NewK8SClientset(metadata.NewK8SClientConfig())
		},
	}
	viper.SupportedRemoteProviders = []string{"configmap"}
}
