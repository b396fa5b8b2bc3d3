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
)

// dumpState renders the interpreter state around pc for attachment to fatal
// errors.
func (in *Interpreter) dumpState(pc int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state at pc %d:\n", pc)
	if instr := in.code.InstructionAt(pc); instr != nil {
		fmt.Fprintf(&b, "  instruction: %s\n", instr)
	} else {
		b.WriteString("  instruction: <none>\n")
	}
	if pc >= 0 && pc < len(in.operands) {
		fmt.Fprintf(&b, "  stack:  %s\n", formatValueSlice(in.operands[pc]))
		fmt.Fprintf(&b, "  locals: %s\n", formatValueSlice(in.locals[pc]))
	}
	return b.String()
}

func formatValueSlice(vs []Value) string {
	if vs == nil {
		return "<unreachable>"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		if v == nil {
			parts[i] = "·"
		} else {
			parts[i] = v.String()
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Dump renders the full per-pc result as text, one block per reachable
// instruction, for inspection and golden-file style debugging.
func (r *Result) Dump() string {
	var b strings.Builder
	for pc := 0; pc < r.Code.Len(); pc++ {
		instr := r.Code.InstructionAt(pc)
		if instr == nil {
			continue
		}
		if !r.Reached(pc) {
			fmt.Fprintf(&b, "%4d  %-40s  <unreachable>\n", pc, instr)
			continue
		}
		fmt.Fprintf(&b, "%4d  %-40s\n", pc, instr)
		fmt.Fprintf(&b, "      stack:  %s\n", formatValueSlice(r.OperandsAt[pc]))
		fmt.Fprintf(&b, "      locals: %s\n", formatValueSlice(r.LocalsAt[pc]))
		if succs := r.CFG.RegularSuccessors(pc); len(succs) > 0 {
			fmt.Fprintf(&b, "      next:   %v\n", succs)
		}
		if excs := r.CFG.ExceptionalSuccessors(pc); len(excs) > 0 {
			fmt.Fprintf(&b, "      catch:  %v\n", excs)
		}
	}
	if r.Aborted {
		b.WriteString("(aborted)\n")
	}
	return b.String()
}

// DefUseDot exports the def/use relation as a graphviz digraph: one node per
// origin, one edge per use. Requires an attached def/use recorder.
func (r *Result) DefUseDot() string {
	var b strings.Builder
	b.WriteString("digraph defuse {\n")
	if du := r.DefUse; du != nil {
		for i, ok := du.allDefs.NextSet(0); ok; i, ok = du.allDefs.NextSet(i + 1) {
			origin := int(i) - du.bias
			fmt.Fprintf(&b, "  %q;\n", originLabel(origin))
			for _, use := range du.UsedBy(origin) {
				fmt.Fprintf(&b, "  %q -> \"pc %d\";\n", originLabel(origin), use)
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func originLabel(origin int) string {
	switch {
	case origin <= -implicitExceptionOriginOffset:
		return fmt.Sprintf("exception @%d", -origin-implicitExceptionOriginOffset)
	case origin < 0:
		return fmt.Sprintf("param %d", -origin-1)
	default:
		return fmt.Sprintf("pc %d", origin)
	}
}
