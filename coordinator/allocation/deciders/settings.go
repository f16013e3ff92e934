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

package deciders

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

const (
	MaxRetryName                  = "max_retry"
	EnableName                    = "enable"
	ReplicaAfterPrimaryActiveName = "replica_after_primary_active"
	SameShardName                 = "same_shard"
	FilterName                    = "filter"
	AwarenessName                 = "awareness"
	ShardsLimitName               = "shards_limit"
	ThrottlingName                = "throttling"
)

type AwarenessSettings struct {
	// Attributes are the node attributes copies of a shard are spread across.
	Attributes []string `json:"attributes,omitempty" yaml:"attributes,omitempty" mapstructure:"attributes"`

	// Force lists the expected values of an attribute, so that copies are not
	// crammed into the values that happen to be present.
	Force map[string][]string `json:"force,omitempty" yaml:"force,omitempty" mapstructure:"force"`
}

// Settings configures the built-in deciders.
type Settings struct {
	Enable     model.EnableMode   `json:"enable" yaml:"enable" mapstructure:"enable"`
	MaxRetries int                `json:"maxRetries" yaml:"maxRetries" mapstructure:"maxRetries"`
	Filter     model.RoutingRules `json:"filter" yaml:"filter" mapstructure:"filter"`
	Awareness  AwarenessSettings  `json:"awareness" yaml:"awareness" mapstructure:"awareness"`

	// TotalShardsPerNode caps copies per node across all indices; -1 means
	// unlimited.
	TotalShardsPerNode int `json:"totalShardsPerNode" yaml:"totalShardsPerNode" mapstructure:"totalShardsPerNode"`

	NodeConcurrentRecoveries       int `json:"nodeConcurrentRecoveries" yaml:"nodeConcurrentRecoveries" mapstructure:"nodeConcurrentRecoveries"`
	NodeInitialPrimariesRecoveries int `json:"nodeInitialPrimariesRecoveries" yaml:"nodeInitialPrimariesRecoveries" mapstructure:"nodeInitialPrimariesRecoveries"`
}

func DefaultSettings() Settings {
	return Settings{
		Enable:                         model.EnableAll,
		MaxRetries:                     5,
		TotalShardsPerNode:             -1,
		NodeConcurrentRecoveries:       2,
		NodeInitialPrimariesRecoveries: 4,
	}
}

func (s Settings) Validate() error {
	var err error
	if e := s.Enable.Validate(); e != nil {
		err = multierr.Append(err, e)
	}
	if s.MaxRetries < 0 {
		err = multierr.Append(err, errors.Errorf("maxRetries must not be negative, got %d", s.MaxRetries))
	}
	if s.NodeConcurrentRecoveries < 0 {
		err = multierr.Append(err, errors.Errorf("nodeConcurrentRecoveries must not be negative, got %d", s.NodeConcurrentRecoveries))
	}
	if s.NodeInitialPrimariesRecoveries < 0 {
		err = multierr.Append(err, errors.Errorf("nodeInitialPrimariesRecoveries must not be negative, got %d", s.NodeInitialPrimariesRecoveries))
	}
	for attr := range s.Awareness.Force {
		found := false
		for _, a := range s.Awareness.Attributes {
			found = found || a == attr
		}
		if !found {
			err = multierr.Append(err, errors.Errorf("forced awareness attribute %q is not an awareness attribute", attr))
		}
	}
	return err
}

// NewChain builds the decider chain in its fixed registration order.
func NewChain(settings Settings) (*allocation.Chain, error) {
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid allocation settings")
	}
	return allocation.NewChain(
		NewMaxRetryDecider(settings.MaxRetries),
		NewEnableDecider(settings.Enable),
		NewReplicaAfterPrimaryActiveDecider(),
		NewSameShardDecider(),
		NewFilterDecider(settings.Filter),
		NewAwarenessDecider(settings.Awareness),
		NewShardsLimitDecider(settings.TotalShardsPerNode),
		NewThrottlingDecider(settings.NodeConcurrentRecoveries, settings.NodeInitialPrimariesRecoveries),
	), nil
}
