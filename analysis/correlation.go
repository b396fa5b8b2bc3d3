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

// correlationChanged detects whether the aliasing structure among operand
// and local slots changed during a merge: two slots that held the identical
// value before the join but no longer do afterwards. Domains that track
// constraints per alias class need the target re-interpreted in that case
// even though every per-slot join looked unchanged.
//
// Slots are keyed by the first position that held a value: operands by
// negative position, locals by non-negative position. The walk
// short-circuits on the first detected break.
func correlationChanged(preOps, preLocals, postOps, postLocals []Value) bool {
	firstSlot := map[int]int{}

	at := func(key int) Value {
		if key < 0 {
			return postOps[-key-1]
		}
		return postLocals[key]
	}

	check := func(pre Value, key int) bool {
		if isIllegal(pre) {
			return false
		}
		prev, seen := firstSlot[pre.Ref()]
		if !seen {
			firstSlot[pre.Ref()] = key
			return false
		}
		a, b := at(prev), at(key)
		if isIllegal(a) || isIllegal(b) {
			return false
		}
		return a.Ref() != b.Ref()
	}

	for i, v := range preOps {
		if check(v, -i-1) {
			return true
		}
	}
	for i, v := range preLocals {
		if check(v, i) {
			return true
		}
	}
	return false
}
