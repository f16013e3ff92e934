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

// Node is the allocation view of a data node. Attributes carry the labels used
// by filtering and awareness rules (e.g. "zone": "us-east-1a").
type Node struct {
	ID         string            `json:"id" yaml:"id" mapstructure:"id"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty" mapstructure:"attributes"`
	Live       bool              `json:"live" yaml:"live" mapstructure:"live"`
}

// Attribute returns the value of an attribute, resolving the reserved
// "_id" and "_name" keys to the node identity.
func (n *Node) Attribute(key string) (string, bool) {
	switch key {
	case "_id":
		return n.ID, true
	case "_name":
		return n.Name, n.Name != ""
	}
	v, ok := n.Attributes[key]
	return v, ok
}

func (n *Node) Clone() Node {
	r := Node{
		ID:   n.ID,
		Name: n.Name,
		Live: n.Live,
	}
	if n.Attributes != nil {
		r.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			r.Attributes[k] = v
		}
	}
	return r
}
