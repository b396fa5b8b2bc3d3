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
	"github.com/practical-formal-methods/crow/hierarchy"
)

// Value is an abstract value tracked for one operand stack entry or local
// variable slot. Values are immutable; every transformation produces a new
// value. A value is created at exactly one program point (its origin) and
// carries a ref handle used for identity/aliasing comparisons.
type Value interface {
	// Origin is the pc the value was created at; parameters use negative
	// origins (see ParameterOrigin).
	Origin() int
	// Ref is the value's identity handle in the interpretation's arena.
	Ref() int
	// Category is the number of local variable slots the value occupies.
	Category() int
	// IsReference reports whether the value is a reference value (null,
	// single-type, or multi-type).
	IsReference() bool
	// UpperTypeBound is the set of types the value's runtime type is
	// guaranteed to be a subtype of; empty for null, nil for non-references.
	UpperTypeBound() []*hierarchy.Type
	// IsNull answers whether the value is the null reference.
	IsNull() hierarchy.Answer
	// IsPrecise reports whether the upper type bound is exact.
	IsPrecise() bool

	String() string
}

// illegalValue marks a dead slot: the upper half of a category-2 value or a
// local that holds no usable value on this path.
type illegalValue struct{}

var theIllegalValue = &illegalValue{}

func (v *illegalValue) Origin() int                          { return invalidOrigin }
func (v *illegalValue) Ref() int                             { return 0 }
func (v *illegalValue) Category() int                        { return 1 }
func (v *illegalValue) IsReference() bool                    { return false }
func (v *illegalValue) UpperTypeBound() []*hierarchy.Type    { return nil }
func (v *illegalValue) IsNull() hierarchy.Answer             { return hierarchy.No }
func (v *illegalValue) IsPrecise() bool                      { return false }
func (v *illegalValue) String() string                       { return "<illegal>" }

const invalidOrigin = -(1 << 30)

func isIllegal(v Value) bool {
	_, ok := v.(*illegalValue)
	return ok
}

// valueSubtypeOf delegates a value-level subtype query to the hierarchy's
// upper-type-bound check.
func valueSubtypeOf(h *hierarchy.ClassHierarchy, v Value, sup *hierarchy.Type) hierarchy.Answer {
	if !v.IsReference() {
		return hierarchy.No
	}
	return h.IsSubtypeOfBound(v.UpperTypeBound(), []*hierarchy.Type{sup})
}

// joinValues merges the value observed at a control-flow confluence (right)
// into the recorded one (left) and classifies the change. Joins are pure:
// either an existing instance is reused or a new immutable value is built.
func joinValues(ctx *context, pc int, left, right Value) (Value, UpdateType) {
	if left == right {
		return left, NoUpdate
	}

	// Dead slots stay dead; a slot that is dead on one path only is dead at
	// the join. The downgrade converges: once the stored slot is illegal,
	// further merges are NoUpdate.
	if isIllegal(left) {
		return left, NoUpdate
	}
	if isIllegal(right) {
		return theIllegalValue, MetaInformationUpdate
	}

	switch l := left.(type) {
	case *primitiveValue:
		if r, ok := right.(*primitiveValue); ok && l.kind == r.kind {
			return joinBookkeeping(ctx, left, right)
		}
	case *returnAddressValue:
		if r, ok := right.(*returnAddressValue); ok {
			return joinReturnAddresses(ctx, pc, l, r)
		}
	case *nullValue:
		switch right.(type) {
		case *nullValue:
			return joinBookkeeping(ctx, left, right)
		case *singleTypeValue, *multiTypeValue:
			// Widening away definite-null loses information: structural.
			return widenWithNull(ctx, pc, right), StructuralUpdate
		}
	case *singleTypeValue, *multiTypeValue:
		switch right.(type) {
		case *nullValue:
			if left.IsNull() == hierarchy.No {
				return widenWithNull(ctx, pc, left), StructuralUpdate
			}
			// left already admits null.
			return left, NoUpdate
		case *singleTypeValue, *multiTypeValue:
			return joinReferenceValues(ctx, pc, left, right)
		}
	}

	// Incompatible value kinds can only meet on paths the verifier rules
	// out; the slot is unusable from here on.
	return theIllegalValue, MetaInformationUpdate
}

// joinBookkeeping finishes a merge whose operands carry the same content but
// possibly distinct identities. The first such merge unions the two identity
// classes and reports a meta-information update; once unioned, the pair is a
// fixpoint. Site-stable minting (see refArena) makes a re-executed loop body
// reproduce its handles, so the meta chain is bounded. The incoming instance
// is adopted on a union so that a broken alias pair between slots becomes
// visible to the correlation pass.
func joinBookkeeping(ctx *context, left, right Value) (Value, UpdateType) {
	if ctx.refs.union(left.Ref(), right.Ref()) {
		return right, MetaInformationUpdate
	}
	return left, NoUpdate
}

func joinReturnAddresses(ctx *context, pc int, l, r *returnAddressValue) (Value, UpdateType) {
	merged := unionSortedInts(l.targets, r.targets)
	if len(merged) == len(l.targets) {
		if len(merged) == len(r.targets) {
			return joinBookkeeping(ctx, l, r)
		}
		// The stored targets already cover the incoming ones.
		return l, NoUpdate
	}
	return &returnAddressValue{origin: pc, ref: ctx.refs.alloc(), targets: merged}, StructuralUpdate
}

func unionSortedInts(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
