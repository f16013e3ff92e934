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

package allocator

import (
	"log/slog"

	"github.com/streamnative/shardalloc/coordinator/selectors"
	"github.com/streamnative/shardalloc/coordinator/selectors/single"
)

// RebalanceSettings controls the optional rebalancing step that runs after
// placement.
type RebalanceSettings struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Threshold is the largest tolerated difference between the copy count
	// of the most and the least loaded live nodes.
	Threshold int `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
}

func DefaultRebalanceSettings() RebalanceSettings {
	return RebalanceSettings{
		Enabled:   false,
		Threshold: 1,
	}
}

type options struct {
	selector  selectors.Selector[*single.Context, string]
	rebalance RebalanceSettings
	logger    *slog.Logger
}

type Option func(*options)

// WithSelector sets how a node is picked among the ones the chain allows.
// Defaults to the lowest node id.
func WithSelector(selector selectors.Selector[*single.Context, string]) Option {
	return func(o *options) {
		o.selector = selector
	}
}

func WithRebalance(settings RebalanceSettings) Option {
	return func(o *options) {
		o.rebalance = settings
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
