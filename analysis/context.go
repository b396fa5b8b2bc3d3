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

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/practical-formal-methods/crow/hierarchy"
)

// context is the interpretation context threaded through every transfer and
// merge call. It is private to a single interpretation; nothing in it is
// shared across concurrently running interpretations.
type context struct {
	hier *hierarchy.ClassHierarchy
	refs *refArena
	log  log.Logger
}

func newContext(h *hierarchy.ClassHierarchy) *context {
	return &context{
		hier: h,
		refs: newRefArena(),
		log:  log.New("pkg", "analysis"),
	}
}

// refArena issues the stable integer handles that stand in for value object
// identity: two slots alias exactly when they carry the same handle. Minting
// is keyed by site — the pc being interpreted plus the order of the mint
// within it — so a re-executed instruction reproduces the handles of its
// previous pass. Merging two content-equal values unions their identity
// classes; a unioned pair merges to a fixpoint from then on, which bounds the
// number of meta-information updates any loop can produce.
type refArena struct {
	parent []int
	sites  map[int64]int
	pc     int
	seq    int
}

// Handle 0 is reserved for the illegal value and never enters a union.
func newRefArena() *refArena {
	return &refArena{parent: []int{0}, sites: map[int64]int{}, pc: siteless}
}

const siteless = -2

// atPC positions the arena at the instruction about to be interpreted.
func (a *refArena) atPC(pc int) {
	a.pc, a.seq = pc, 0
}

// fresh returns the handle for the next mint at the current site, reusing
// the handle issued for the same site on an earlier pass.
func (a *refArena) fresh() int {
	if a.pc == siteless {
		return a.alloc()
	}
	key := int64(a.pc+1)<<20 | int64(a.seq)
	a.seq++
	if h, ok := a.sites[key]; ok {
		return h
	}
	h := a.alloc()
	a.sites[key] = h
	return h
}

// alloc issues a handle outside any site. Join results use it: a join that
// builds a new value is a structural update, so its handle never needs to
// survive a re-execution.
func (a *refArena) alloc() int {
	h := len(a.parent)
	a.parent = append(a.parent, h)
	return h
}

func (a *refArena) find(r int) int {
	for a.parent[r] != r {
		a.parent[r] = a.parent[a.parent[r]]
		r = a.parent[r]
	}
	return r
}

// union merges the identity classes of x and y, reporting whether they were
// distinct before.
func (a *refArena) union(x, y int) bool {
	x, y = a.find(x), a.find(y)
	if x == y {
		return false
	}
	a.parent[y] = x
	return true
}

// exception types raised implicitly by instructions, resolved lazily.
func (c *context) exceptionType(name string) *hierarchy.Type {
	return c.hier.TypeNamed(name)
}

const (
	npeTypeName        = "java/lang/NullPointerException"
	aioobeTypeName     = "java/lang/ArrayIndexOutOfBoundsException"
	arrayStoreTypeName = "java/lang/ArrayStoreException"
	classCastTypeName  = "java/lang/ClassCastException"
	negArrSizeTypeName = "java/lang/NegativeArraySizeException"
)
