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

import "fmt"

// Failure causes for fatal internal errors. These indicate malformed input
// or an analysis bug, never ordinary imprecision.
var (
	UnknownOpcodeFail        = "unknown-opcode"
	MissingInstructionFail   = "missing-instruction"
	MissingStateFail         = "missing-state"
	InvalidStackFail         = "invalid-stack"
	InvalidLocalFail         = "invalid-local"
	MissingReturnAddressFail = "missing-return-address"
	SubroutineStateFail      = "inconsistent-subroutine-state"
)

// InternalError aborts the interpretation of one method. It carries a
// diagnostic dump of the state around the failure so it can be reproduced
// offline; other interpretations are unaffected.
type InternalError struct {
	Cause string
	PC    int
	Dump  string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s at pc %d\n%s", e.Cause, e.PC, e.Dump)
}

func internalError(cause string, pc int, dump string) error {
	return &InternalError{Cause: cause, PC: pc, Dump: dump}
}
