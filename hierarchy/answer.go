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

// Answer is the result of a query against potentially incomplete type
// information. Unknown is a first-class outcome, not a failure.
type Answer uint8

const (
	Unknown Answer = iota
	Yes
	No
)

func (a Answer) IsYes() bool {
	return a == Yes
}

func (a Answer) IsNo() bool {
	return a == No
}

func (a Answer) IsUnknown() bool {
	return a == Unknown
}

// Join combines two answers to the same question obtained from different
// sources: agreeing answers are kept, disagreeing ones become Unknown.
func (a Answer) Join(other Answer) Answer {
	if a == other {
		return a
	}
	return Unknown
}

func (a Answer) String() string {
	switch a {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}
