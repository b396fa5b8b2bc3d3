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

import (
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
)

// subtypeCacheSize bounds the memoized subtype answers. The cache is shared
// by all interpretations reading the hierarchy and is itself thread-safe.
const subtypeCacheSize = 16384

// ClassHierarchy stores the known types together with their interface/final
// flags and super-/subtype adjacency, and answers subtype and join queries.
//
// A hierarchy is built once from a closed set of declarations and is
// immutable afterwards; it may be read concurrently by many interpretations.
// The only mutable pieces are the type store (interning of newly observed
// types, guarded by its own lock) and the LRU answer cache.
type ClassHierarchy struct {
	store *TypeStore

	object       *Type
	serializable *Type
	cloneable    *Type
	throwable    *Type

	info  map[int]*typeInfo
	roots []*Type

	cache *lru.Cache
	log   log.Logger
}

type typeInfo struct {
	typ             *Type
	isInterface     bool
	isFinal         bool
	superclass      *Type
	superinterfaces []*Type
	subclasses      []*Type
	subinterfaces   []*Type
	// superUndeclared is set when the declaration referenced a supertype for
	// which no declaration exists; subtype queries walking through this type
	// can then only answer Unknown on a miss.
	superUndeclared bool
}

// New builds a class hierarchy from the given declarations. Contradictory
// declarations are logged and repaired rather than rejected: the hierarchy
// must always be usable, even if imprecise.
func New(store *TypeStore, decls []TypeDeclaration) *ClassHierarchy {
	h := &ClassHierarchy{
		store:        store,
		object:       store.Object(ObjectTypeName),
		serializable: store.Object(SerializableTypeName),
		cloneable:    store.Object(CloneableTypeName),
		throwable:    store.Object(ThrowableTypeName),
		info:         map[int]*typeInfo{},
		log:          log.New("pkg", "hierarchy"),
	}
	h.cache, _ = lru.New(subtypeCacheSize)

	// First pass: intern every declared type and record its flags.
	for _, d := range decls {
		t := store.Object(d.Name)
		if _, dup := h.info[t.id]; dup {
			h.log.Warn("duplicate type declaration", "type", d.Name)
			continue
		}
		h.info[t.id] = &typeInfo{
			typ:         t,
			isInterface: d.Interface,
			isFinal:     d.Final,
		}
	}
	if _, ok := h.info[h.object.id]; !ok {
		h.log.Warn("no declaration for the root type", "type", ObjectTypeName)
		h.info[h.object.id] = &typeInfo{typ: h.object}
	}

	// Second pass: link super/sub adjacency. Only each name's first
	// declaration contributes links; later duplicates were dropped above and
	// must not overwrite the recorded supertypes.
	linked := map[int]bool{}
	for _, d := range decls {
		t := store.Object(d.Name)
		if linked[t.id] {
			continue
		}
		linked[t.id] = true
		ti := h.info[t.id]
		if t != h.object && d.Super != "" {
			super := store.Object(d.Super)
			ti.superclass = super
			if si := h.info[super.id]; si != nil {
				if ti.isInterface {
					si.subinterfaces = append(si.subinterfaces, t)
				} else {
					si.subclasses = append(si.subclasses, t)
				}
			} else {
				ti.superUndeclared = true
			}
		}
		for _, name := range d.Interfaces {
			iface := store.Object(name)
			ti.superinterfaces = append(ti.superinterfaces, iface)
			if si := h.info[iface.id]; si != nil {
				if !si.isInterface {
					h.log.Warn("class used as superinterface", "type", name, "subtype", d.Name)
					si.isInterface = true
				}
				if ti.isInterface {
					si.subinterfaces = append(si.subinterfaces, t)
				} else {
					si.subclasses = append(si.subclasses, t)
				}
			} else {
				ti.superUndeclared = true
			}
		}
	}

	// Repair pass: a final type must not have subtypes.
	for _, ti := range h.info {
		if ti.isFinal && (len(ti.subclasses) > 0 || len(ti.subinterfaces) > 0) {
			h.log.Warn("final type has subtypes, stripping final flag", "type", ti.typ.name)
			ti.isFinal = false
		}
	}

	// Root detection: with complete information Object is the only root.
	for _, ti := range h.info {
		if !ti.isInterface && ti.superclass == nil {
			h.roots = append(h.roots, ti.typ)
		}
	}
	if len(h.roots) > 1 {
		h.log.Warn("multiple root types, supertype information is incomplete", "roots", len(h.roots))
	}

	return h
}

// Store returns the interning table used by this hierarchy.
func (h *ClassHierarchy) Store() *TypeStore {
	return h.store
}

// ObjectType returns the universal root java/lang/Object.
func (h *ClassHierarchy) ObjectType() *Type {
	return h.object
}

func (h *ClassHierarchy) SerializableType() *Type {
	return h.serializable
}

func (h *ClassHierarchy) CloneableType() *Type {
	return h.cloneable
}

func (h *ClassHierarchy) ThrowableType() *Type {
	return h.throwable
}

// TypeNamed interns (or looks up) a class/interface type by name. The type
// need not be known to the hierarchy.
func (h *ClassHierarchy) TypeNamed(name string) *Type {
	return h.store.Object(name)
}

// IsKnown reports whether the hierarchy has a declaration for the type.
// Array types are known when their element type is known or primitive.
func (h *ClassHierarchy) IsKnown(t *Type) bool {
	e := t.ElementType()
	if e.IsBase() {
		return true
	}
	return h.info[e.id] != nil
}

// IsInterface answers whether the type is an interface type.
func (h *ClassHierarchy) IsInterface(t *Type) Answer {
	ti := h.info[t.id]
	if ti == nil {
		return Unknown
	}
	if ti.isInterface {
		return Yes
	}
	return No
}

// IsFinal answers whether the type is final. Array types are effectively
// final when their element type is (or is primitive).
func (h *ClassHierarchy) IsFinal(t *Type) Answer {
	e := t.ElementType()
	if e.IsBase() {
		return Yes
	}
	ti := h.info[e.id]
	if ti == nil {
		return Unknown
	}
	if ti.isFinal {
		return Yes
	}
	return No
}

// Roots returns the types without a recorded superclass. With complete
// information this is exactly {java/lang/Object}.
func (h *ClassHierarchy) Roots() []*Type {
	return h.roots
}

// DirectSubtypes returns the recorded direct subclasses and subinterfaces.
func (h *ClassHierarchy) DirectSubtypes(t *Type) []*Type {
	ti := h.info[t.id]
	if ti == nil {
		return nil
	}
	subs := make([]*Type, 0, len(ti.subclasses)+len(ti.subinterfaces))
	subs = append(subs, ti.subclasses...)
	subs = append(subs, ti.subinterfaces...)
	return subs
}

// IsSubtypeOf answers whether sub is a subtype of sup. It answers Yes or No
// only when the recorded information is conclusive and Unknown whenever
// supertype information for a queried type is incomplete. It never claims
// Yes incorrectly under partial hierarchies.
func (h *ClassHierarchy) IsSubtypeOf(sub, sup *Type) Answer {
	if sub == sup {
		return Yes
	}
	if sup == h.object {
		return Yes
	}
	if sub == h.object {
		// Object has no proper supertypes.
		return No
	}

	if sub.IsBase() || sup.IsBase() {
		// Distinct primitive types are unrelated (identity handled above).
		return No
	}
	if sub.IsArray() {
		return h.arrayIsSubtypeOf(sub, sup)
	}
	if sup.IsArray() {
		// The only subtypes of an array type are array types.
		return No
	}

	key := uint64(uint32(sub.id))<<32 | uint64(uint32(sup.id))
	if a, ok := h.cache.Get(key); ok {
		return a.(Answer)
	}
	a := h.objectIsSubtypeOf(sub, sup)
	h.cache.Add(key, a)
	return a
}

func (h *ClassHierarchy) arrayIsSubtypeOf(sub, sup *Type) Answer {
	if !sup.IsArray() {
		// Arrays only extend Object (handled by the caller) and implement
		// Serializable and Cloneable.
		if sup == h.serializable || sup == h.cloneable {
			return Yes
		}
		return No
	}
	sc, pc := sub.component, sup.component
	if sc.IsBase() || pc.IsBase() {
		// Primitive-component arrays are invariant.
		if sc == pc {
			return Yes
		}
		return No
	}
	// Object arrays are covariant in their component type.
	return h.IsSubtypeOf(sc, pc)
}

func (h *ClassHierarchy) objectIsSubtypeOf(sub, sup *Type) Answer {
	supInfo := h.info[sup.id]

	supers, complete := h.allSupertypes(sub)
	if _, ok := supers[sup]; ok {
		return Yes
	}
	if complete {
		return No
	}
	// Incomplete information. Two sound negative answers remain: a known
	// final supertype has no proper subtypes, and nothing unrelated can slip
	// under it.
	if supInfo != nil && supInfo.isFinal {
		return No
	}
	return Unknown
}

// allSupertypes returns the reflexive transitive supertype closure of t
// restricted to what the hierarchy records, along with a flag indicating
// whether the closure is complete.
func (h *ClassHierarchy) allSupertypes(t *Type) (map[*Type]struct{}, bool) {
	supers := map[*Type]struct{}{}
	complete := true
	work := []*Type{t}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if _, seen := supers[cur]; seen {
			continue
		}
		supers[cur] = struct{}{}
		if cur == h.object {
			continue
		}
		ti := h.info[cur.id]
		if ti == nil {
			complete = false
			continue
		}
		if ti.superUndeclared {
			complete = false
		}
		if ti.superclass != nil {
			work = append(work, ti.superclass)
		} else if ti.isInterface {
			// Interfaces without superinterfaces are below Object.
			work = append(work, h.object)
		} else {
			// A class other than Object without a recorded superclass is an
			// unexpected extra root: its real supertypes are unknown.
			complete = false
		}
		work = append(work, ti.superinterfaces...)
	}
	return supers, complete
}

// IsSubtypeOfBound answers the upper-type-bound subtyping check: every type
// in supBound must be matched by at least one member of subBound being its
// subtype (the sub-bound acts as an intersection type). An empty sub-bound
// represents null and is a subtype of everything.
func (h *ClassHierarchy) IsSubtypeOfBound(subBound, supBound []*Type) Answer {
	if len(subBound) == 0 {
		return Yes
	}
	result := Yes
	for _, sup := range supBound {
		best := No
		for _, sub := range subBound {
			switch h.IsSubtypeOf(sub, sup) {
			case Yes:
				best = Yes
			case Unknown:
				if best == No {
					best = Unknown
				}
			}
			if best == Yes {
				break
			}
		}
		switch best {
		case No:
			return No
		case Unknown:
			result = Unknown
		}
	}
	return result
}
