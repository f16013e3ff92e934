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

package single

import (
	"math"

	"github.com/emirpasic/gods/sets/linkedhashset"

	"github.com/streamnative/shardalloc/coordinator/selectors"
)

var _ selectors.Selector[*Context, string] = &leastLoadedSelector{}

type leastLoadedSelector struct{}

func (*leastLoadedSelector) Select(ssContext *Context) (string, error) {
	if ssContext.Routing == nil || ssContext.Candidates == nil || ssContext.Candidates.Empty() {
		return "", selectors.ErrNoFunctioning
	}
	lowest := math.MaxInt
	least := linkedhashset.New()
	for iter := ssContext.Candidates.Iterator(); iter.Next(); {
		nodeID := iter.Value().(string) //nolint:revive
		count := ssContext.Routing.CountOn(nodeID)
		switch {
		case count < lowest:
			lowest = count
			least.Clear()
			least.Add(nodeID)
		case count == lowest:
			least.Add(nodeID)
		}
	}
	if least.Size() == 1 {
		return least.Values()[0].(string), nil //nolint:revive
	}
	ssContext.Candidates = least
	return "", selectors.ErrMultipleResult
}
