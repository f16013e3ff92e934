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
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// EnableMode restricts which kinds of copies may be allocated.
type EnableMode string

const (
	EnableAll          EnableMode = "all"
	EnablePrimaries    EnableMode = "primaries"
	EnableNewPrimaries EnableMode = "new_primaries"
	EnableNone         EnableMode = "none"
)

func (m EnableMode) Validate() error {
	switch m {
	case EnableAll, EnablePrimaries, EnableNewPrimaries, EnableNone:
		return nil
	}
	return errors.Errorf("unknown allocation enable mode %q", string(m))
}

// RoutingRules are attribute filters. Each map goes from attribute key to a
// comma separated list of glob patterns.
type RoutingRules struct {
	Require map[string]string `json:"require,omitempty" yaml:"require,omitempty" mapstructure:"require"`
	Include map[string]string `json:"include,omitempty" yaml:"include,omitempty" mapstructure:"include"`
	Exclude map[string]string `json:"exclude,omitempty" yaml:"exclude,omitempty" mapstructure:"exclude"`
}

func (r RoutingRules) Empty() bool {
	return len(r.Require) == 0 && len(r.Include) == 0 && len(r.Exclude) == 0
}

type IndexMetadata struct {
	NumberOfShards   int `json:"numberOfShards" yaml:"numberOfShards"`
	NumberOfReplicas int `json:"numberOfReplicas" yaml:"numberOfReplicas"`

	// TotalShardsPerNode caps the copies of this index on one node; zero or
	// negative means unlimited.
	TotalShardsPerNode int          `json:"totalShardsPerNode,omitempty" yaml:"totalShardsPerNode,omitempty"`
	Routing            RoutingRules `json:"routing,omitempty" yaml:"routing,omitempty"`
	Enable             *EnableMode  `json:"enable,omitempty" yaml:"enable,omitempty"`
}

// Copies is the number of copies of each shard, primary included.
func (im IndexMetadata) Copies() int {
	return 1 + im.NumberOfReplicas
}

type Metadata struct {
	Indices map[string]IndexMetadata `json:"indices" yaml:"indices"`
}

func (m Metadata) Index(name string) (IndexMetadata, bool) {
	im, ok := m.Indices[name]
	return im, ok
}

func (m Metadata) IndexNames() []string {
	return slices.Sorted(maps.Keys(m.Indices))
}
