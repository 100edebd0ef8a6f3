// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphalgo

import (
	"github.com/kraklabs/ragex/pkg/graphstore"
)

// Degree is a node's in/out/total degree.
type Degree struct {
	In    int
	Out   int
	Total int
}

// DegreeCentrality computes per-node degrees from the edge indices in
// O(V + E). Dangling edge endpoints contribute to the degree of the
// existing side only.
func DegreeCentrality(sn *graphstore.Snapshot) map[string]Degree {
	out := make(map[string]Degree, len(sn.Nodes))
	for _, node := range sn.Nodes {
		d := Degree{
			In:  len(sn.In[node.ID]),
			Out: len(sn.Out[node.ID]),
		}
		d.Total = d.In + d.Out
		out[node.ID] = d
	}
	return out
}
