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

package hierarchy

import "sort"

// JoinTypes computes a minimal set of leaf-most common supertypes of the two
// upper type bounds: the reflexive supertype closures of both bounds are
// intersected and the intersection filtered to its leaf types (members with
// no other member as subtype). When the closures share nothing that the
// hierarchy can prove, the result widens to {java/lang/Object}.
//
// The result reuses the input slices whenever the computed bound equals one
// of them, so callers can detect an unchanged bound by identity.
func (h *ClassHierarchy) JoinTypes(a, b []*Type) []*Type {
	if boundsEqual(a, b) {
		return a
	}
	if len(a) == 1 && len(b) == 1 {
		t1, t2 := a[0], b[0]
		if t1.IsArray() && t2.IsArray() {
			return h.joinArrayTypes(t1, t2, a, b)
		}
		// Containment shortcut before the full closure computation.
		if h.IsSubtypeOf(t2, t1) == Yes {
			return a
		}
		if h.IsSubtypeOf(t1, t2) == Yes {
			return b
		}
	}
	if containsBound(a, b) {
		// b is a subset of a: every member of b is already an upper bound.
		return b
	}
	if containsBound(b, a) {
		return a
	}

	supersA, _ := h.boundSupertypes(a)
	supersB, _ := h.boundSupertypes(b)
	var inter []*Type
	for t := range supersA {
		if _, ok := supersB[t]; ok {
			inter = append(inter, t)
		}
	}
	if len(inter) == 0 {
		return []*Type{h.object}
	}

	leaves := h.leafTypes(inter)
	if boundsEqual(leaves, a) {
		return a
	}
	if boundsEqual(leaves, b) {
		return b
	}
	return leaves
}

// joinArrayTypes joins two array bounds. Arrays with incompatible structure
// (primitive component mismatch, which also covers dimension mismatches)
// only share their implemented interfaces and widen to
// {Serializable, Cloneable}; otherwise the join recurses on the components.
func (h *ClassHierarchy) joinArrayTypes(t1, t2 *Type, a, b []*Type) []*Type {
	c1, c2 := t1.Component(), t2.Component()
	if c1.IsBase() || c2.IsBase() {
		if c1 == c2 {
			return a
		}
		return []*Type{h.serializable, h.cloneable}
	}
	joined := h.JoinTypes([]*Type{c1}, []*Type{c2})
	if len(joined) != 1 {
		// No single component supertype exists; an array of a multi-type
		// bound is not expressible.
		return []*Type{h.serializable, h.cloneable}
	}
	switch joined[0] {
	case c1:
		return a
	case c2:
		return b
	}
	return []*Type{h.store.ArrayOf(joined[0])}
}

// boundSupertypes returns the union of the reflexive supertype closures of
// the bound's members: a value below every member of the bound is below
// every supertype of any member.
func (h *ClassHierarchy) boundSupertypes(bound []*Type) (map[*Type]struct{}, bool) {
	all := map[*Type]struct{}{}
	complete := true
	for _, t := range bound {
		if t.IsArray() {
			// Treated as its interface view for mixed array/class joins.
			all[h.object] = struct{}{}
			all[h.serializable] = struct{}{}
			all[h.cloneable] = struct{}{}
			continue
		}
		supers, c := h.allSupertypes(t)
		complete = complete && c
		for s := range supers {
			all[s] = struct{}{}
		}
	}
	return all, complete
}

// leafTypes filters the set to its leaf types: members with no other member
// as a proven subtype.
func (h *ClassHierarchy) leafTypes(types []*Type) []*Type {
	var leaves []*Type
	for _, t := range types {
		isLeaf := true
		for _, s := range types {
			if s != t && h.IsSubtypeOf(s, t) == Yes {
				isLeaf = false
				break
			}
		}
		if isLeaf {
			leaves = append(leaves, t)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].id < leaves[j].id })
	return leaves
}

// CanBeStoredIn checks array-store compatibility of a value with the given
// element type bound against an array of the given type, recursively
// unwrapping nested dimensions. It answers No only on guaranteed structural
// incompatibility; a Yes is downgraded to Unknown when neither side is
// precise, since covariant array aliasing can invalidate it at runtime.
func (h *ClassHierarchy) CanBeStoredIn(elem *Type, elemPrecise bool, array *Type, arrayPrecise bool) Answer {
	if !array.IsArray() {
		return No
	}
	comp := array.Component()
	if comp.IsBase() {
		if elem == comp {
			return Yes
		}
		return No
	}
	if elem.IsArray() && comp.IsArray() {
		return h.CanBeStoredIn(elem.Component(), elemPrecise, comp, arrayPrecise)
	}
	if elem.IsArray() != comp.IsArray() {
		if elem.IsArray() {
			// Storing an array value under a class/interface component.
			a := h.IsSubtypeOf(elem, comp)
			if a == Yes && !elemPrecise && !arrayPrecise {
				return Unknown
			}
			return a
		}
		// A non-array value can never live in an array-component slot.
		return No
	}
	a := h.IsSubtypeOf(elem, comp)
	if a == Yes && !elemPrecise && !arrayPrecise {
		return Unknown
	}
	return a
}

// boundsEqual compares two bounds as sets (bounds are small; quadratic is
// cheaper than allocating).
func boundsEqual(a, b []*Type) bool {
	if len(a) != len(b) {
		return false
	}
	return containsBound(a, b)
}

// containsBound reports whether every member of b occurs in a.
func containsBound(a, b []*Type) bool {
	for _, t := range b {
		found := false
		for _, s := range a {
			if s == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
