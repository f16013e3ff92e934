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

	"github.com/pkg/errors"
)

// Verdict is the vote of a decider on one (shard copy, node) pair.
type Verdict uint8

const (
	// Allow the placement now.
	Allow Verdict = iota
	// Throttle allows the placement, but not during this pass.
	Throttle
	// Deny the placement. A deny cannot be overridden by another decider.
	Deny
)

var verdictToString = map[Verdict]string{
	Allow:    "ALLOW",
	Throttle: "THROTTLE",
	Deny:     "DENY",
}

var toVerdict = map[string]Verdict{
	"ALLOW":    Allow,
	"THROTTLE": Throttle,
	"DENY":     Deny,
}

func (v Verdict) String() string {
	if s, ok := verdictToString[v]; ok {
		return s
	}
	return fmt.Sprintf("Verdict(%d)", uint8(v))
}

func (v Verdict) Valid() bool {
	_, ok := verdictToString[v]
	return ok
}

func (v Verdict) MarshalText() ([]byte, error) {
	s, ok := verdictToString[v]
	if !ok {
		return nil, errors.Errorf("invalid verdict %d", uint8(v))
	}
	return []byte(s), nil
}

func (v *Verdict) UnmarshalText(b []byte) error {
	verdict, ok := toVerdict[string(b)]
	if !ok {
		return errors.Errorf("unknown verdict %q", string(b))
	}
	*v = verdict
	return nil
}

// Decision is a verdict together with the decider that produced it and a
// human-readable reason.
type Decision struct {
	Decider string  `json:"decider" yaml:"decider"`
	Verdict Verdict `json:"verdict" yaml:"verdict"`
	Reason  string  `json:"reason" yaml:"reason"`
}

func NewDecision(decider string, verdict Verdict, format string, args ...any) Decision {
	return Decision{Decider: decider, Verdict: verdict, Reason: fmt.Sprintf(format, args...)}
}

func Allowed(decider string, format string, args ...any) Decision {
	return NewDecision(decider, Allow, format, args...)
}

func Throttled(decider string, format string, args ...any) Decision {
	return NewDecision(decider, Throttle, format, args...)
}

func Denied(decider string, format string, args ...any) Decision {
	return NewDecision(decider, Deny, format, args...)
}
