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

package allocation

import (
	"fmt"

	"github.com/streamnative/shardalloc/coordinator/model"
)

// Chain combines an ordered, fixed set of deciders into one verdict.
//
// Deciders run in registration order. The first Deny ends the evaluation and
// is the combined verdict; otherwise any Throttle makes the combined verdict
// Throttle; otherwise it is Allow. A decider that fails or panics votes Deny
// with the failure as reason, so one broken policy cannot abort a pass.
type Chain struct {
	deciders []Decider
}

func NewChain(deciders ...Decider) *Chain {
	c := &Chain{deciders: make([]Decider, len(deciders))}
	copy(c.deciders, deciders)
	return c
}

func (c *Chain) Deciders() []Decider {
	res := make([]Decider, len(c.deciders))
	copy(res, c.deciders)
	return res
}

func (c *Chain) Names() []string {
	res := make([]string, len(c.deciders))
	for i, d := range c.deciders {
		res[i] = d.Name()
	}
	return res
}

func (c *Chain) CanAllocate(shard model.ShardRouting, node *model.Node, a *Allocation) (Verdict, []Decision) {
	return c.combine(func(d Decider) Decision {
		return evaluate(d, func() (Decision, error) {
			return d.CanAllocate(shard, node, a)
		})
	})
}

// CanRemain votes on keeping a placed copy on its node. Deciders implementing
// RemainDecider answer with CanRemain, every other decider with CanAllocate.
func (c *Chain) CanRemain(shard model.ShardRouting, node *model.Node, a *Allocation) (Verdict, []Decision) {
	return c.combine(func(d Decider) Decision {
		if rd, ok := d.(RemainDecider); ok {
			return evaluate(d, func() (Decision, error) {
				return rd.CanRemain(shard, node, a)
			})
		}
		return evaluate(d, func() (Decision, error) {
			return d.CanAllocate(shard, node, a)
		})
	})
}

func (c *Chain) combine(eval func(d Decider) Decision) (Verdict, []Decision) {
	verdict := Allow
	decisions := make([]Decision, 0, len(c.deciders))
	for _, d := range c.deciders {
		decision := eval(d)
		decisions = append(decisions, decision)
		switch decision.Verdict {
		case Deny:
			return Deny, decisions
		case Throttle:
			verdict = Throttle
		}
	}
	return verdict, decisions
}

func evaluate(d Decider, fn func() (Decision, error)) (decision Decision) {
	name := d.Name()
	defer func() {
		if r := recover(); r != nil {
			decision = Denied(name, "decider panicked: %v", r)
		}
	}()

	decision, err := fn()
	if err != nil {
		return Decision{Decider: name, Verdict: Deny, Reason: err.Error()}
	}
	if decision.Decider == "" {
		decision.Decider = name
	}
	if !decision.Verdict.Valid() {
		return Denied(name, "invalid verdict %s", fmt.Sprint(decision.Verdict))
	}
	return decision
}
