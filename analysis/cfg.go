// Copyright 2018 MPI-SWS and Valentin Wuestholz

// This file is part of Crow.
//
// Crow is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Crow is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Crow.  If not, see <https://www.gnu.org/licenses/>.

package analysis

import "github.com/willf/bitset"

// CFG is the control-flow graph recorded while interpreting: only edges the
// abstract execution actually took are present, split into regular and
// exceptional flow, plus combined predecessor adjacency.
type CFG struct {
	regular     []*bitset.BitSet
	exceptional []*bitset.BitSet
	preds       []*bitset.BitSet
}

func newCFG(n int) *CFG {
	return &CFG{
		regular:     make([]*bitset.BitSet, n),
		exceptional: make([]*bitset.BitSet, n),
		preds:       make([]*bitset.BitSet, n),
	}
}

func (g *CFG) addEdge(from, to int, exceptional bool) {
	set := &g.regular
	if exceptional {
		set = &g.exceptional
	}
	if (*set)[from] == nil {
		(*set)[from] = bitset.New(8)
	}
	(*set)[from].Set(uint(to))
	if g.preds[to] == nil {
		g.preds[to] = bitset.New(8)
	}
	g.preds[to].Set(uint(from))
}

// RegularSuccessors returns the pcs reached from pc by regular control flow.
func (g *CFG) RegularSuccessors(pc int) []int {
	return bitsToPCs(g.regular[pc])
}

// ExceptionalSuccessors returns the handler pcs reached from pc.
func (g *CFG) ExceptionalSuccessors(pc int) []int {
	return bitsToPCs(g.exceptional[pc])
}

// Predecessors returns all pcs with an edge (of either kind) to pc.
func (g *CFG) Predecessors(pc int) []int {
	return bitsToPCs(g.preds[pc])
}

func bitsToPCs(b *bitset.BitSet) []int {
	if b == nil {
		return nil
	}
	pcs := make([]int, 0, b.Count())
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		pcs = append(pcs, int(i))
	}
	return pcs
}
