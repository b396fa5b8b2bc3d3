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

import "sync"

// Kind distinguishes the three shapes a Type can have.
type Kind uint8

const (
	// ObjectKind is a class or interface type.
	ObjectKind Kind = iota
	// ArrayKind is an array type with a component Type.
	ArrayKind
	// BaseKind is a primitive type; it only occurs as an array component.
	BaseKind
)

// Type is an interned type identifier. Types are interned by a TypeStore so
// that pointer equality implies type equality; two types with the same name
// always resolve to the same *Type.
type Type struct {
	id        int
	name      string
	kind      Kind
	component *Type
}

func (t *Type) ID() int {
	return t.id
}

// Name returns the binary name of the type (e.g. "java/lang/Object").
// Array types use the trailing "[]" notation.
func (t *Type) Name() string {
	return t.name
}

func (t *Type) Kind() Kind {
	return t.kind
}

func (t *Type) IsArray() bool {
	return t.kind == ArrayKind
}

func (t *Type) IsBase() bool {
	return t.kind == BaseKind
}

// Component returns the component type of an array type and nil otherwise.
func (t *Type) Component() *Type {
	return t.component
}

// ElementType strips all array dimensions.
func (t *Type) ElementType() *Type {
	e := t
	for e.kind == ArrayKind {
		e = e.component
	}
	return e
}

// Dimensions returns the number of array dimensions (0 for non-arrays).
func (t *Type) Dimensions() int {
	d := 0
	for e := t; e.kind == ArrayKind; e = e.component {
		d++
	}
	return d
}

func (t *Type) String() string {
	return t.name
}

// Names of types the engine itself relies on.
const (
	ObjectTypeName       = "java/lang/Object"
	SerializableTypeName = "java/io/Serializable"
	CloneableTypeName    = "java/lang/Cloneable"
	ThrowableTypeName    = "java/lang/Throwable"
)

// TypeStore is the owned interning table for types. It may keep growing while
// interpretations are running (new types get observed lazily), so all access
// goes through a reader/writer lock; everything else about a Type is
// immutable once interned.
type TypeStore struct {
	mu     sync.RWMutex
	byName map[string]*Type
	byID   []*Type
}

func NewTypeStore() *TypeStore {
	return &TypeStore{byName: map[string]*Type{}}
}

// Object interns a class or interface type by name.
func (s *TypeStore) Object(name string) *Type {
	return s.intern(name, ObjectKind, nil)
}

// Base interns a primitive type by name (e.g. "int").
func (s *TypeStore) Base(name string) *Type {
	return s.intern(name, BaseKind, nil)
}

// ArrayOf interns the array type with the given component type.
func (s *TypeStore) ArrayOf(component *Type) *Type {
	return s.intern(component.name+"[]", ArrayKind, component)
}

// Lookup returns the already-interned type with the given name, if any.
func (s *TypeStore) Lookup(name string) (*Type, bool) {
	s.mu.RLock()
	t, ok := s.byName[name]
	s.mu.RUnlock()
	return t, ok
}

// ByID returns the type with the given id.
func (s *TypeStore) ByID(id int) *Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 0 || len(s.byID) <= id {
		return nil
	}
	return s.byID[id]
}

// Count returns the number of interned types.
func (s *TypeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *TypeStore) intern(name string, kind Kind, component *Type) *Type {
	s.mu.RLock()
	t, ok := s.byName[name]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byName[name]; ok {
		return t
	}
	t = &Type{
		id:        len(s.byID),
		name:      name,
		kind:      kind,
		component: component,
	}
	s.byName[name] = t
	s.byID = append(s.byID, t)
	return t
}
