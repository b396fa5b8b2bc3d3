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
	"reflect"
	"testing"

	"github.com/practical-formal-methods/crow/bytecode"
	"github.com/practical-formal-methods/crow/hierarchy"
)

func interpretWithDefUse(t *testing.T, h *hierarchy.ClassHierarchy, code *bytecode.Code, params ...Parameter) *DefUse {
	t.Helper()
	in := NewInterpreter(h, code)
	in.AttachDefUse()
	res, err := in.Interpret(params)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if res.DefUse == nil {
		t.Fatalf("no def/use tables computed")
	}
	return res.DefUse
}

func TestDefUseStraightLine(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(1)
	c0 := b.Add(&bytecode.Instruction{Op: bytecode.IConst0})          // 0
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 0})       // 1
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 0})        // 3
	c1 := b.Add(&bytecode.Instruction{Op: bytecode.IConst1})          // 5
	add := b.Add(&bytecode.Instruction{Op: bytecode.IAdd})            // 6
	ret := b.Add(&bytecode.Instruction{Op: bytecode.IReturn})         // 7

	du := interpretWithDefUse(t, h, b.MustBuild())

	// Loads and stores forward origins; the use happens at the consumer.
	if got := du.UsedBy(c0); !reflect.DeepEqual(got, []int{add}) {
		t.Errorf("UsedBy(iconst_0): got %v, want [%d]", got, add)
	}
	if got := du.UsedBy(c1); !reflect.DeepEqual(got, []int{add}) {
		t.Errorf("UsedBy(iconst_1): got %v, want [%d]", got, add)
	}
	if got := du.UsedBy(add); !reflect.DeepEqual(got, []int{ret}) {
		t.Errorf("UsedBy(iadd): got %v, want [%d]", got, ret)
	}
	if got := du.OperandOrigin(ret, 0); !reflect.DeepEqual(got, []int{add}) {
		t.Errorf("OperandOrigin(ireturn, 0): got %v, want [%d]", got, add)
	}
	if got := du.LocalOrigin(3, 0); !reflect.DeepEqual(got, []int{c0}) {
		t.Errorf("LocalOrigin(iload, 0): got %v, want [%d]", got, c0)
	}
	if got := du.Unused(); len(got) != 0 {
		t.Errorf("Unused(): got %v, want none", got)
	}
}

func TestDefUseMergesBranchOrigins(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(2)
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 0})               // 0
	zero := b.Add(&bytecode.Instruction{Op: bytecode.IConst0})               // 2
	branch := b.Add(&bytecode.Instruction{Op: bytecode.IfICmpEq, TargetLabel: "b"}) // 3
	thenDef := b.Add(&bytecode.Instruction{Op: bytecode.IConst1})            // 6
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 1})              // 7
	b.Add(&bytecode.Instruction{Op: bytecode.Goto, TargetLabel: "join"})     // 9
	b.Mark("b")
	elseDef := b.Add(&bytecode.Instruction{Op: bytecode.IConst2}) // 12
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 1})   // 13
	b.Mark("join")
	load := b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 1}) // 15
	ret := b.Add(&bytecode.Instruction{Op: bytecode.IReturn})          // 17

	du := interpretWithDefUse(t, h, b.MustBuild(), PrimParameter(IntKind))

	// Both definitions flow into the merged local.
	if got := du.LocalOrigin(load, 1); !reflect.DeepEqual(got, []int{thenDef, elseDef}) {
		t.Errorf("LocalOrigin(join, 1): got %v, want [%d %d]", got, thenDef, elseDef)
	}
	if got := du.UsedBy(thenDef); !reflect.DeepEqual(got, []int{ret}) {
		t.Errorf("UsedBy(then def): got %v, want [%d]", got, ret)
	}
	if got := du.UsedBy(elseDef); !reflect.DeepEqual(got, []int{ret}) {
		t.Errorf("UsedBy(else def): got %v, want [%d]", got, ret)
	}
	// The parameter is consumed by the comparison.
	if got := du.UsedBy(ParameterOrigin(0)); !reflect.DeepEqual(got, []int{branch}) {
		t.Errorf("UsedBy(param 0): got %v, want [%d]", got, branch)
	}
	if got := du.UsedBy(zero); !reflect.DeepEqual(got, []int{branch}) {
		t.Errorf("UsedBy(iconst_0): got %v, want [%d]", got, branch)
	}
}

func TestDefUseRoundTrip(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(2)
	b.Add(&bytecode.Instruction{Op: bytecode.IConst0})          // 0
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 1}) // 1
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 1})  // 3
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 1})  // 5
	b.Add(&bytecode.Instruction{Op: bytecode.IAdd})             // 7
	ret := b.Add(&bytecode.Instruction{Op: bytecode.IReturn})   // 8
	code := b.MustBuild()

	du := interpretWithDefUse(t, h, code)

	// Every use site of an origin must see that origin among the origins of
	// one of its consumed operands.
	for _, origin := range []int{0, 7} {
		for _, use := range du.UsedBy(origin) {
			found := false
			for idx := 0; idx < 2; idx++ {
				for _, o := range du.OperandOrigin(use, idx) {
					if o == origin {
						found = true
					}
				}
			}
			if !found {
				t.Errorf("origin %d not visible at its use site %d", origin, use)
			}
		}
	}
	if got := du.UsedBy(7); !reflect.DeepEqual(got, []int{ret}) {
		t.Errorf("UsedBy(iadd): got %v, want [%d]", got, ret)
	}
}

func TestDefUseCheckCastIsNotAnOrigin(t *testing.T) {
	h := newTestHierarchy(t)
	a, bType := h.TypeNamed("A"), h.TypeNamed("B")

	b := bytecode.NewBuilder(1)
	b.Add(&bytecode.Instruction{Op: bytecode.ALoad, Index: 0})              // 0
	cast := b.Add(&bytecode.Instruction{Op: bytecode.CheckCast, Type: bType}) // 2
	ret := b.Add(&bytecode.Instruction{Op: bytecode.AReturn})               // 5

	du := interpretWithDefUse(t, h, b.MustBuild(), RefParameter(a, hierarchy.No, false))

	// The checked value keeps its origins: checkcast uses but never defines.
	if got := du.OperandOrigin(ret, 0); !reflect.DeepEqual(got, []int{ParameterOrigin(0)}) {
		t.Errorf("OperandOrigin(areturn, 0): got %v, want the parameter", got)
	}
	uses := du.UsedBy(ParameterOrigin(0))
	if !reflect.DeepEqual(uses, []int{cast, ret}) {
		t.Errorf("UsedBy(param 0): got %v, want [%d %d]", uses, cast, ret)
	}
	if got := du.UsedBy(cast); len(got) != 0 {
		t.Errorf("checkcast must not be an origin, but is used by %v", got)
	}
}

func TestDefUseSubroutine(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(2)
	jsr := b.Add(&bytecode.Instruction{Op: bytecode.JSR, TargetLabel: "sub"}) // 0
	b.Add(&bytecode.Instruction{Op: bytecode.Return})                         // 3
	b.Mark("sub")
	b.Add(&bytecode.Instruction{Op: bytecode.AStore, Index: 1})      // 4
	retInstr := b.Add(&bytecode.Instruction{Op: bytecode.Ret, Index: 1}) // 6

	du := interpretWithDefUse(t, h, b.MustBuild())

	// The return address defined by the jsr is consumed by the ret.
	if got := du.UsedBy(jsr); !reflect.DeepEqual(got, []int{retInstr}) {
		t.Errorf("UsedBy(jsr): got %v, want [%d]", got, retInstr)
	}
	if got := du.LocalOrigin(retInstr, 1); !reflect.DeepEqual(got, []int{jsr}) {
		t.Errorf("LocalOrigin(ret, 1): got %v, want [%d]", got, jsr)
	}
	// The state after the subroutine reaches the instruction after the jsr.
	if got := du.LocalOrigin(3, 1); !reflect.DeepEqual(got, []int{jsr}) {
		t.Errorf("LocalOrigin(after jsr, 1): got %v, want [%d]", got, jsr)
	}
	if got := du.Unused(); len(got) != 0 {
		t.Errorf("Unused(): got %v, want none", got)
	}
}

func TestDefUseUnused(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(1)
	dead := b.Add(&bytecode.Instruction{Op: bytecode.IConst0})  // 0
	b.Add(&bytecode.Instruction{Op: bytecode.Pop})              // 1
	b.Add(&bytecode.Instruction{Op: bytecode.Return})           // 2

	du := interpretWithDefUse(t, h, b.MustBuild())

	// Popping a value does not use it.
	if got := du.Unused(); !reflect.DeepEqual(got, []int{dead}) {
		t.Errorf("Unused(): got %v, want [%d]", got, dead)
	}
	if got := du.UsedBy(dead); len(got) != 0 {
		t.Errorf("UsedBy(dead def): got %v, want none", got)
	}
}

func TestDefUseCaughtExceptionOrigins(t *testing.T) {
	h := newTestHierarchy(t)
	throwable := h.ThrowableType()

	b := bytecode.NewBuilder(2)
	b.Mark("try")
	b.Add(&bytecode.Instruction{Op: bytecode.ALoad, Index: 0})   // 0
	throwPC := b.Add(&bytecode.Instruction{Op: bytecode.AThrow}) // 2
	b.Mark("end")
	b.Add(&bytecode.Instruction{Op: bytecode.Return}) // 3
	b.Mark("catch")
	catchPC := b.Add(&bytecode.Instruction{Op: bytecode.Pop}) // 4
	b.Add(&bytecode.Instruction{Op: bytecode.Return})         // 5
	b.Handler("try", "end", "catch", nil)

	// The thrown value is definitely non-null: the caught value is exactly
	// the thrown one.
	du := interpretWithDefUse(t, h, b.MustBuild(), RefParameter(throwable, hierarchy.No, false))
	if got := du.OperandOrigin(catchPC, 0); !reflect.DeepEqual(got, []int{ParameterOrigin(0)}) {
		t.Errorf("caught origins: got %v, want the thrown parameter", got)
	}
	if got := du.UsedBy(ParameterOrigin(0)); !reflect.DeepEqual(got, []int{throwPC}) {
		t.Errorf("UsedBy(param 0): got %v, want [%d]", got, throwPC)
	}
}

func TestDefUseImplicitExceptionOrigins(t *testing.T) {
	h := newTestHierarchy(t)
	throwable := h.ThrowableType()

	b := bytecode.NewBuilder(2)
	b.Mark("try")
	b.Add(&bytecode.Instruction{Op: bytecode.ALoad, Index: 0})   // 0
	throwPC := b.Add(&bytecode.Instruction{Op: bytecode.AThrow}) // 2
	b.Mark("end")
	b.Add(&bytecode.Instruction{Op: bytecode.Return}) // 3
	b.Mark("catch")
	catchPC := b.Add(&bytecode.Instruction{Op: bytecode.Pop}) // 4
	b.Add(&bytecode.Instruction{Op: bytecode.Return})         // 5
	b.Handler("try", "end", "catch", nil)

	// With possibly-null thrown values the handler may also see the implicit
	// NullPointerException, tracked in its own origin range.
	du := interpretWithDefUse(t, h, b.MustBuild(), RefParameter(throwable, hierarchy.Unknown, false))
	got := du.OperandOrigin(catchPC, 0)
	want := []int{ImplicitExceptionOrigin(throwPC), ParameterOrigin(0)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("caught origins: got %v, want %v", got, want)
	}
}
