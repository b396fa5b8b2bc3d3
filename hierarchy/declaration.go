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

// TypeDeclaration is the hierarchy-relevant part of a class file, produced by
// the bytecode-loading collaborator.
type TypeDeclaration struct {
	Name       string
	Interface  bool
	Final      bool
	Super      string
	Interfaces []string
}

// BootstrapDeclarations returns the declarations for the core types the
// engine itself depends on (the universal root, the array supertypes, and the
// exception types raised implicitly by instructions). Callers append their
// observed classes to this set before building a hierarchy.
func BootstrapDeclarations() []TypeDeclaration {
	return []TypeDeclaration{
		{Name: ObjectTypeName},
		{Name: SerializableTypeName, Interface: true},
		{Name: CloneableTypeName, Interface: true},
		{Name: "java/lang/String", Final: true, Super: ObjectTypeName, Interfaces: []string{SerializableTypeName}},
		{Name: ThrowableTypeName, Super: ObjectTypeName, Interfaces: []string{SerializableTypeName}},
		{Name: "java/lang/Error", Super: ThrowableTypeName},
		{Name: "java/lang/Exception", Super: ThrowableTypeName},
		{Name: "java/lang/RuntimeException", Super: "java/lang/Exception"},
		{Name: "java/lang/NullPointerException", Super: "java/lang/RuntimeException"},
		{Name: "java/lang/ArithmeticException", Super: "java/lang/RuntimeException"},
		{Name: "java/lang/ClassCastException", Super: "java/lang/RuntimeException"},
		{Name: "java/lang/IndexOutOfBoundsException", Super: "java/lang/RuntimeException"},
		{Name: "java/lang/ArrayIndexOutOfBoundsException", Super: "java/lang/IndexOutOfBoundsException"},
		{Name: "java/lang/ArrayStoreException", Super: "java/lang/RuntimeException"},
		{Name: "java/lang/NegativeArraySizeException", Super: "java/lang/RuntimeException"},
	}
}
