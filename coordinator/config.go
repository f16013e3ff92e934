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

package coordinator

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/streamnative/shardalloc/coordinator/allocation/deciders"
	"github.com/streamnative/shardalloc/coordinator/allocator"
	"github.com/streamnative/shardalloc/coordinator/metadata"
	"github.com/streamnative/shardalloc/coordinator/selectors"
	"github.com/streamnative/shardalloc/coordinator/selectors/single"
)

const (
	SelectorLowestNodeID = "lowest-node-id"
	SelectorLeastLoaded  = "least-loaded"
)

// Settings are the knobs that can change while the coordinator runs.
type Settings struct {
	Allocation deciders.Settings           `json:"allocation" yaml:"allocation" mapstructure:"allocation"`
	Rebalance  allocator.RebalanceSettings `json:"rebalance" yaml:"rebalance" mapstructure:"rebalance"`
	Selector   string                      `json:"selector" yaml:"selector" mapstructure:"selector"`
}

func DefaultSettings() Settings {
	return Settings{
		Allocation: deciders.DefaultSettings(),
		Rebalance:  allocator.DefaultRebalanceSettings(),
		Selector:   SelectorLowestNodeID,
	}
}

func (s Settings) Validate() error {
	var err error
	if e := s.Allocation.Validate(); e != nil {
		err = multierr.Append(err, e)
	}
	if s.Rebalance.Threshold < 1 {
		err = multierr.Append(err, errors.Errorf("rebalance threshold must be at least 1, got %d", s.Rebalance.Threshold))
	}
	if _, e := newSelector(s.Selector); e != nil {
		err = multierr.Append(err, e)
	}
	return err
}

// NewAllocator builds an allocator running with the settings.
func (s Settings) NewAllocator(logger *slog.Logger) (*allocator.Allocator, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	chain, err := deciders.NewChain(s.Allocation)
	if err != nil {
		return nil, err
	}
	selector, err := newSelector(s.Selector)
	if err != nil {
		return nil, err
	}
	return allocator.New(chain,
		allocator.WithSelector(selector),
		allocator.WithRebalance(s.Rebalance),
		allocator.WithLogger(logger),
	), nil
}

type Config struct {
	Settings `mapstructure:",squash"`

	Metadata metadata.Options `json:"metadata" yaml:"metadata" mapstructure:"metadata"`

	// Interval between two periodic passes.
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// MaxPassesPerSecond bounds how often triggered passes may run.
	MaxPassesPerSecond float64 `json:"maxPassesPerSecond" yaml:"maxPassesPerSecond" mapstructure:"maxPassesPerSecond"`

	MetricsServiceAddr string `json:"metricsServiceAddr" yaml:"metricsServiceAddr" mapstructure:"metricsServiceAddr"`
}

func NewConfig() Config {
	return Config{
		Settings:           DefaultSettings(),
		Metadata:           metadata.Options{Backend: metadata.BackendFile, File: "data/snapshot.json"},
		Interval:           30 * time.Second,
		MaxPassesPerSecond: 5,
		MetricsServiceAddr: "0.0.0.0:8080",
	}
}

func (c Config) Validate() error {
	err := c.Settings.Validate()
	if e := c.Metadata.Validate(); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Interval <= 0 {
		err = multierr.Append(err, errors.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.MaxPassesPerSecond <= 0 {
		err = multierr.Append(err, errors.Errorf("maxPassesPerSecond must be positive, got %v", c.MaxPassesPerSecond))
	}
	return err
}

func newSelector(name string) (selectors.Selector[*single.Context, string], error) {
	switch name {
	case "", SelectorLowestNodeID:
		return single.NewLowestNodeIDSelector(), nil
	case SelectorLeastLoaded:
		return single.NewLeastLoadedSelector(), nil
	}
	return nil, errors.Errorf("unknown selector %q", name)
}
