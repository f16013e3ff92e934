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
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

var _ allocation.RemainDecider = &filterDecider{}

type attrFilter struct {
	attr     string
	patterns []string
}

func (f attrFilter) String() string {
	return fmt.Sprintf("%s:\"%s\"", f.attr, strings.Join(f.patterns, ","))
}

func (f attrFilter) match(node *model.Node) bool {
	value, ok := node.Attribute(f.attr)
	if !ok {
		return false
	}
	for _, p := range f.patterns {
		if matched, err := path.Match(p, value); (err == nil && matched) || p == value {
			return true
		}
	}
	return false
}

type filterRules struct {
	require []attrFilter
	include []attrFilter
	exclude []attrFilter
}

func compileFilters(m map[string]string) []attrFilter {
	res := make([]attrFilter, 0, len(m))
	for _, attr := range slices.Sorted(maps.Keys(m)) {
		var patterns []string
		for _, p := range strings.Split(m[attr], ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) > 0 {
			res = append(res, attrFilter{attr: attr, patterns: patterns})
		}
	}
	return res
}

func compileRules(rules model.RoutingRules) filterRules {
	return filterRules{
		require: compileFilters(rules.Require),
		include: compileFilters(rules.Include),
		exclude: compileFilters(rules.Exclude),
	}
}

// check returns a reason when the node is filtered out.
func (r filterRules) check(node *model.Node, source string) (string, bool) {
	for _, f := range r.require {
		if !f.match(node) {
			return fmt.Sprintf("node does not match %s setting [require] filter [%s]", source, f), true
		}
	}
	if len(r.include) > 0 {
		matched := false
		for _, f := range r.include {
			matched = matched || f.match(node)
		}
		if !matched {
			return fmt.Sprintf("node does not match any %s setting [include] filter %v", source, r.include), true
		}
	}
	for _, f := range r.exclude {
		if f.match(node) {
			return fmt.Sprintf("node matches %s setting [exclude] filter [%s]", source, f), true
		}
	}
	return "", false
}

type filterDecider struct {
	cluster filterRules
}

// NewFilterDecider applies require, include and exclude attribute filters,
// index filters first, then the cluster ones. Filters also apply to copies
// already placed, which is how nodes are drained.
func NewFilterDecider(rules model.RoutingRules) allocation.RemainDecider {
	return &filterDecider{cluster: compileRules(rules)}
}

func (*filterDecider) Name() string {
	return FilterName
}

func (d *filterDecider) CanAllocate(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	return d.decide(shard, node, a, "allocated to")
}

func (d *filterDecider) CanRemain(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	return d.decide(shard, node, a, "remain on")
}

func (d *filterDecider) decide(shard model.ShardRouting, node *model.Node, a *allocation.Allocation, action string) (allocation.Decision, error) {
	if im, ok := a.IndexMetadata(shard.Index); ok && !im.Routing.Empty() {
		if reason, filtered := compileRules(im.Routing).check(node, "index"); filtered {
			return allocation.Denied(FilterName, "%s", reason), nil
		}
	}
	if reason, filtered := d.cluster.check(node, "cluster"); filtered {
		return allocation.Denied(FilterName, "%s", reason), nil
	}
	return allocation.Allowed(FilterName, "node passes include/exclude/require filters and the shard can be %s it", action), nil
}
