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
	"fmt"
	"strings"

	"github.com/practical-formal-methods/crow/hierarchy"
)

// nullValue is the definite null reference: empty upper type bound, definite
// nullness, precise.
type nullValue struct {
	origin int
	ref    int
}

func (v *nullValue) Origin() int                       { return v.origin }
func (v *nullValue) Ref() int                          { return v.ref }
func (v *nullValue) Category() int                     { return 1 }
func (v *nullValue) IsReference() bool                 { return true }
func (v *nullValue) UpperTypeBound() []*hierarchy.Type { return nil }
func (v *nullValue) IsNull() hierarchy.Answer          { return hierarchy.Yes }
func (v *nullValue) IsPrecise() bool                   { return true }
func (v *nullValue) String() string                    { return fmt.Sprintf("null[↦%d]", v.origin) }

// singleTypeValue is a reference value whose runtime type is bounded by
// exactly one type.
type singleTypeValue struct {
	origin  int
	ref     int
	typ     *hierarchy.Type
	null    hierarchy.Answer
	precise bool
}

func (v *singleTypeValue) Origin() int                       { return v.origin }
func (v *singleTypeValue) Ref() int                          { return v.ref }
func (v *singleTypeValue) Category() int                     { return 1 }
func (v *singleTypeValue) IsReference() bool                 { return true }
func (v *singleTypeValue) UpperTypeBound() []*hierarchy.Type { return []*hierarchy.Type{v.typ} }
func (v *singleTypeValue) IsNull() hierarchy.Answer          { return v.null }
func (v *singleTypeValue) IsPrecise() bool                   { return v.precise }

func (v *singleTypeValue) String() string {
	mod := ""
	if v.precise {
		mod = "exact "
	}
	return fmt.Sprintf("%s%s(null=%s)[↦%d]", mod, v.typ, v.null, v.origin)
}

// multiTypeValue is a reference value whose runtime type is only bounded by
// a set of two or more types, no two of which are in a subtype relation.
// It is used only when no single type can summarize the bound and is never
// precise.
type multiTypeValue struct {
	origin int
	ref    int
	bound  []*hierarchy.Type
	null   hierarchy.Answer
}

func (v *multiTypeValue) Origin() int                       { return v.origin }
func (v *multiTypeValue) Ref() int                          { return v.ref }
func (v *multiTypeValue) Category() int                     { return 1 }
func (v *multiTypeValue) IsReference() bool                 { return true }
func (v *multiTypeValue) UpperTypeBound() []*hierarchy.Type { return v.bound }
func (v *multiTypeValue) IsNull() hierarchy.Answer          { return v.null }
func (v *multiTypeValue) IsPrecise() bool                   { return false }

func (v *multiTypeValue) String() string {
	names := make([]string, len(v.bound))
	for i, t := range v.bound {
		names[i] = t.Name()
	}
	return fmt.Sprintf("{%s}(null=%s)[↦%d]", strings.Join(names, " ∩ "), v.null, v.origin)
}

// value constructors; every created value draws the handle of its mint site.

func (c *context) newNull(origin int) Value {
	return &nullValue{origin: origin, ref: c.refs.fresh()}
}

func (c *context) newObject(origin int, t *hierarchy.Type, null hierarchy.Answer, precise bool) Value {
	return &singleTypeValue{
		origin:  origin,
		ref:     c.refs.fresh(),
		typ:     t,
		null:    null,
		precise: precise,
	}
}

// newReference builds a reference value for the given upper type bound,
// degrading to a single-type value whenever one type suffices.
func (c *context) newReference(origin int, bound []*hierarchy.Type, null hierarchy.Answer) Value {
	switch len(bound) {
	case 0:
		return c.newNull(origin)
	case 1:
		return c.newObject(origin, bound[0], null, false)
	}
	return &multiTypeValue{
		origin: origin,
		ref:    c.refs.fresh(),
		bound:  bound,
		null:   null,
	}
}

// widenWithNull makes a reference value admit null. The instance is reused
// when it already does.
func widenWithNull(ctx *context, pc int, v Value) Value {
	if v.IsNull() != hierarchy.No {
		return v
	}
	switch o := v.(type) {
	case *singleTypeValue:
		return &singleTypeValue{
			origin:  pc,
			ref:     ctx.refs.alloc(),
			typ:     o.typ,
			null:    hierarchy.Unknown,
			precise: o.precise,
		}
	case *multiTypeValue:
		return &multiTypeValue{
			origin: pc,
			ref:    ctx.refs.alloc(),
			bound:  o.bound,
			null:   hierarchy.Unknown,
		}
	}
	return v
}

// joinReferenceValues implements the join of two non-null reference values:
// the type bounds are joined through the hierarchy, nullness and precision
// are propagated, and instances are reused whenever the computed bound
// equals one operand's bound so downstream identity-based alias tracking
// stays stable.
func joinReferenceValues(ctx *context, pc int, left, right Value) (Value, UpdateType) {
	lb, rb := left.UpperTypeBound(), right.UpperTypeBound()
	joined := ctx.hier.JoinTypes(lb, rb)
	null := left.IsNull().Join(right.IsNull())
	precise := joinedPrecision(left, right)

	if contentEqual(left, joined, null, precise) {
		if contentEqual(right, joined, null, precise) {
			return joinBookkeeping(ctx, left, right)
		}
		// The incoming value is strictly below the stored one.
		return left, NoUpdate
	}
	if contentEqual(right, joined, null, precise) {
		return right, StructuralUpdate
	}
	if len(joined) == 1 {
		return &singleTypeValue{
			origin:  pc,
			ref:     ctx.refs.alloc(),
			typ:     joined[0],
			null:    null,
			precise: precise,
		}, StructuralUpdate
	}
	return &multiTypeValue{
		origin: pc,
		ref:    ctx.refs.alloc(),
		bound:  joined,
		null:   null,
	}, StructuralUpdate
}

// joinedPrecision: if either operand is imprecise the result is imprecise;
// precision survives only when both operands are the exact same single type.
func joinedPrecision(left, right Value) bool {
	ls, lok := left.(*singleTypeValue)
	rs, rok := right.(*singleTypeValue)
	return lok && rok && ls.precise && rs.precise && ls.typ == rs.typ
}

func contentEqual(v Value, bound []*hierarchy.Type, null hierarchy.Answer, precise bool) bool {
	return sameBound(v.UpperTypeBound(), bound) && v.IsNull() == null && v.IsPrecise() == precise
}

// sameBound compares two upper type bounds as sets of interned types.
func sameBound(a, b []*hierarchy.Type) bool {
	if len(a) != len(b) {
		return false
	}
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
