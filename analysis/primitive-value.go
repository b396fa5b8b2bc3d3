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

// PrimKind is the computational-type-category view of a primitive value.
// The engine does not track primitive contents, only kinds and categories.
type PrimKind uint8

const (
	IntKind PrimKind = iota // int, and the int-like byte/char/short/boolean
	FloatKind
	LongKind
	DoubleKind
)

func (k PrimKind) String() string {
	switch k {
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case LongKind:
		return "long"
	default:
		return "double"
	}
}

// category returns the number of local variable slots the kind occupies.
func (k PrimKind) category() int {
	if k == LongKind || k == DoubleKind {
		return 2
	}
	return 1
}

type primitiveValue struct {
	origin int
	ref    int
	kind   PrimKind
}

func (v *primitiveValue) Origin() int                       { return v.origin }
func (v *primitiveValue) Ref() int                          { return v.ref }
func (v *primitiveValue) Category() int                     { return v.kind.category() }
func (v *primitiveValue) IsReference() bool                 { return false }
func (v *primitiveValue) UpperTypeBound() []*hierarchy.Type { return nil }
func (v *primitiveValue) IsNull() hierarchy.Answer          { return hierarchy.No }
func (v *primitiveValue) IsPrecise() bool                   { return true }
func (v *primitiveValue) String() string                    { return fmt.Sprintf("%s[↦%d]", v.kind, v.origin) }

func (c *context) newPrimitive(origin int, kind PrimKind) Value {
	return &primitiveValue{origin: origin, ref: c.refs.fresh(), kind: kind}
}

// returnAddressValue is the value pushed by jsr: the set of pcs a matching
// ret can return to.
type returnAddressValue struct {
	origin  int
	ref     int
	targets []int // sorted
}

func (v *returnAddressValue) Origin() int                       { return v.origin }
func (v *returnAddressValue) Ref() int                          { return v.ref }
func (v *returnAddressValue) Category() int                     { return 1 }
func (v *returnAddressValue) IsReference() bool                 { return false }
func (v *returnAddressValue) UpperTypeBound() []*hierarchy.Type { return nil }
func (v *returnAddressValue) IsNull() hierarchy.Answer          { return hierarchy.No }
func (v *returnAddressValue) IsPrecise() bool                   { return true }

func (v *returnAddressValue) String() string {
	parts := make([]string, len(v.targets))
	for i, t := range v.targets {
		parts[i] = fmt.Sprintf("%d", t)
	}
	return fmt.Sprintf("retaddr{%s}[↦%d]", strings.Join(parts, ","), v.origin)
}

func (c *context) newReturnAddress(origin, target int) Value {
	return &returnAddressValue{origin: origin, ref: c.refs.fresh(), targets: []int{target}}
}
