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

// UpdateType classifies the outcome of merging two states or values and
// decides whether interpretation has to revisit successors.
type UpdateType uint8

const (
	// NoUpdate: the merged value is the existing one, nothing changed.
	NoUpdate UpdateType = iota
	// MetaInformationUpdate: the effective value is unchanged, only
	// bookkeeping (the ref handle) differs.
	MetaInformationUpdate
	// StructuralUpdate: the merged value is materially different.
	StructuralUpdate
)

// Max returns the more severe of the two updates. Merges across multiple
// slots propagate the maximum severity seen.
func (u UpdateType) Max(other UpdateType) UpdateType {
	if other > u {
		return other
	}
	return u
}

func (u UpdateType) String() string {
	switch u {
	case NoUpdate:
		return "no-update"
	case MetaInformationUpdate:
		return "meta-information-update"
	default:
		return "structural-update"
	}
}
