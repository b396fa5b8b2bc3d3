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

func mustInterpret(t *testing.T, h *hierarchy.ClassHierarchy, code *bytecode.Code, params ...Parameter) *Result {
	t.Helper()
	in := NewInterpreter(h, code)
	res, err := in.Interpret(params)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	return res
}

func TestStraightLineCode(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(1)
	b.Add(&bytecode.Instruction{Op: bytecode.IConst0})
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 0})
	retPC := b.Add(&bytecode.Instruction{Op: bytecode.Return})
	res := mustInterpret(t, h, b.MustBuild())

	if res.Aborted {
		t.Fatalf("straight-line code aborted")
	}
	if !res.Reached(retPC) {
		t.Fatalf("return not reached")
	}
	v := res.LocalsAt[retPC][0]
	if p, ok := v.(*primitiveValue); !ok || p.kind != IntKind {
		t.Errorf("local 0 at return: got %s, want an int", v)
	}
	if len(res.OperandsAt[retPC]) != 0 {
		t.Errorf("stack at return: got %v, want empty", res.OperandsAt[retPC])
	}
}

// Two control-flow paths put an exact new object and null into the same
// slot; at the merge point the engine must widen to the object's type with
// unknown nullness instead of picking a side.
func TestBranchMergeWidensReference(t *testing.T) {
	h := newTestHierarchy(t)
	obj := h.ObjectType()

	b := bytecode.NewBuilder(2)
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 0})               // 0
	b.Add(&bytecode.Instruction{Op: bytecode.IConst0})                       // 2
	b.Add(&bytecode.Instruction{Op: bytecode.IfICmpEq, TargetLabel: "else"}) // 3
	b.Add(&bytecode.Instruction{Op: bytecode.New, Type: obj})                // 6
	b.Add(&bytecode.Instruction{Op: bytecode.Goto, TargetLabel: "join"})     // 9
	b.Mark("else")
	b.Add(&bytecode.Instruction{Op: bytecode.AConstNull}) // 12
	b.Mark("join")
	joinPC := b.Add(&bytecode.Instruction{Op: bytecode.AStore, Index: 1}) // 13
	retPC := b.Add(&bytecode.Instruction{Op: bytecode.Return})            // 15

	res := mustInterpret(t, h, b.MustBuild(), PrimParameter(IntKind))

	if preds := res.CFG.Predecessors(joinPC); !reflect.DeepEqual(preds, []int{9, 12}) {
		t.Fatalf("predecessors of the merge: got %v, want [9 12]", preds)
	}
	merged := res.OperandsAt[joinPC][0]
	if bound := merged.UpperTypeBound(); len(bound) != 1 || bound[0] != obj {
		t.Errorf("merged bound: got %v, want {Object}", bound)
	}
	if merged.IsNull() != hierarchy.Unknown {
		t.Errorf("merged nullness: got %s, want unknown", merged.IsNull())
	}
	stored := res.LocalsAt[retPC][1]
	if stored.IsNull() != hierarchy.Unknown {
		t.Errorf("stored merge result: got %s, want unknown nullness", stored)
	}
}

func TestLoopReachesFixpoint(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(2)
	b.Add(&bytecode.Instruction{Op: bytecode.IConst0})           // 0
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 1})  // 1
	b.Mark("loop")
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 1})   // 3
	b.Add(&bytecode.Instruction{Op: bytecode.IConst1})           // 5
	b.Add(&bytecode.Instruction{Op: bytecode.IAdd})              // 6
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 1})  // 7
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 1})   // 9
	b.Add(&bytecode.Instruction{Op: bytecode.BIPush, Value: 5})  // 11
	b.Add(&bytecode.Instruction{Op: bytecode.IfICmpNe, TargetLabel: "loop"}) // 13
	retPC := b.Add(&bytecode.Instruction{Op: bytecode.Return})   // 16

	steps := 0
	in := NewInterpreter(h, b.MustBuild())
	in.AddStepListener(func(pc int) { steps++ })
	res, err := in.Interpret(nil)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if res.Aborted {
		t.Fatalf("loop did not reach a fixpoint")
	}
	if !res.Reached(retPC) {
		t.Fatalf("loop exit not reached")
	}
	// Primitive contents are not tracked, so the loop head stabilizes after
	// one full traversal of the body.
	if steps > 30 {
		t.Errorf("fixpoint took %d steps, expected far fewer", steps)
	}
}

func TestInterruptStopsWithinOneStep(t *testing.T) {
	h := newTestHierarchy(t)
	// A loop that never returns: the interrupt arrives from a listener while
	// the fixpoint iteration is still working through the body.
	b := bytecode.NewBuilder(2)
	b.Add(&bytecode.Instruction{Op: bytecode.IConst0})          // 0
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 1}) // 1
	b.Mark("loop")
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 1})           // 3
	b.Add(&bytecode.Instruction{Op: bytecode.IConst1})                   // 5
	b.Add(&bytecode.Instruction{Op: bytecode.IAdd})                      // 6
	b.Add(&bytecode.Instruction{Op: bytecode.IStore, Index: 1})          // 7
	b.Add(&bytecode.Instruction{Op: bytecode.Goto, TargetLabel: "loop"}) // 9

	in := NewInterpreter(h, b.MustBuild())
	in.AttachDefUse()
	steps := 0
	in.AddStepListener(func(pc int) {
		steps++
		if steps == 3 {
			in.Interrupt()
		}
	})
	res, err := in.Interpret(nil)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if !res.Aborted {
		t.Fatalf("interrupt not honored")
	}
	if steps != 3 {
		t.Errorf("interpreter ran %d steps after the interrupt request", steps-3)
	}
	// Aborted runs produce no def/use tables.
	if res.DefUse != nil {
		t.Errorf("aborted run computed def/use tables")
	}
}

// One path stores the same object in two locals, the other stores two
// distinct objects of the same type. The merged state must stop claiming the
// alias, and the merge target must be re-interpreted even though every
// per-slot join saw equal content.
func TestAliasBreakForcesReinterpretation(t *testing.T) {
	h := newTestHierarchy(t)
	a := h.TypeNamed("A")

	b := bytecode.NewBuilder(3)
	b.Add(&bytecode.Instruction{Op: bytecode.ALoad, Index: 0})                  // 0
	b.Add(&bytecode.Instruction{Op: bytecode.IfNull, TargetLabel: "distinct"}) // 2
	b.Add(&bytecode.Instruction{Op: bytecode.New, Type: a})                    // 5
	b.Add(&bytecode.Instruction{Op: bytecode.Dup})                             // 8
	b.Add(&bytecode.Instruction{Op: bytecode.AStore, Index: 1})                // 9
	b.Add(&bytecode.Instruction{Op: bytecode.AStore, Index: 2})                // 11
	b.Mark("join")
	joinPC := b.Add(&bytecode.Instruction{Op: bytecode.Return}) // 13
	b.Mark("distinct")
	b.Add(&bytecode.Instruction{Op: bytecode.New, Type: a})              // 14
	b.Add(&bytecode.Instruction{Op: bytecode.AStore, Index: 1})          // 17
	b.Add(&bytecode.Instruction{Op: bytecode.New, Type: a})              // 19
	b.Add(&bytecode.Instruction{Op: bytecode.AStore, Index: 2})          // 22
	b.Add(&bytecode.Instruction{Op: bytecode.Goto, TargetLabel: "join"}) // 24

	joinSteps := 0
	in := NewInterpreter(h, b.MustBuild())
	in.AddStepListener(func(pc int) {
		if pc == joinPC {
			joinSteps++
		}
	})
	res, err := in.Interpret([]Parameter{RefParameter(a, hierarchy.Unknown, false)})
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}

	locs := res.LocalsAt[joinPC]
	if locs[1].Ref() == locs[2].Ref() {
		t.Errorf("merged state still claims locals 1 and 2 alias: %s / %s", locs[1], locs[2])
	}
	if joinSteps < 2 {
		t.Errorf("merge target interpreted %d times, want a re-interpretation after the alias broke", joinSteps)
	}
}

func TestThrowReachesMatchingHandler(t *testing.T) {
	h := newTestHierarchy(t)
	npe := h.TypeNamed("java/lang/NullPointerException")

	b := bytecode.NewBuilder(1)
	b.Mark("try")
	b.Add(&bytecode.Instruction{Op: bytecode.AConstNull})  // 0
	throwPC := b.Add(&bytecode.Instruction{Op: bytecode.AThrow}) // 1
	b.Mark("end")
	deadPC := b.Add(&bytecode.Instruction{Op: bytecode.Return}) // 2
	b.Mark("catch")
	catchPC := b.Add(&bytecode.Instruction{Op: bytecode.Pop}) // 3
	b.Add(&bytecode.Instruction{Op: bytecode.Return})         // 4
	b.Handler("try", "end", "catch", npe)

	res := mustInterpret(t, h, b.MustBuild())

	// Throwing null raises a NullPointerException instead.
	if succs := res.CFG.ExceptionalSuccessors(throwPC); !reflect.DeepEqual(succs, []int{catchPC}) {
		t.Fatalf("exceptional successors: got %v, want [%d]", succs, catchPC)
	}
	if res.Reached(deadPC) {
		t.Errorf("code after athrow must be unreachable")
	}
	caught := res.OperandsAt[catchPC][0]
	if bound := caught.UpperTypeBound(); len(bound) != 1 || bound[0] != npe {
		t.Errorf("caught value bound: got %v, want {NullPointerException}", bound)
	}
	if caught.IsNull() != hierarchy.No || !caught.IsPrecise() {
		t.Errorf("caught value: got %s, want an exact non-null exception", caught)
	}
}

func TestCalleeExceptionsRouteToHandlers(t *testing.T) {
	h := newTestHierarchy(t)
	npe := h.TypeNamed("java/lang/NullPointerException")
	a := h.TypeNamed("A")

	b := bytecode.NewBuilder(1)
	b.Mark("try")
	b.Add(&bytecode.Instruction{Op: bytecode.ALoad, Index: 0}) // 0
	callPC := b.Add(&bytecode.Instruction{Op: bytecode.InvokeVirtual,
		Method: &bytecode.MethodRef{Name: "m", Pops: 1, Kind: bytecode.VoidResult}}) // 2
	b.Mark("end")
	afterPC := b.Add(&bytecode.Instruction{Op: bytecode.Return}) // 5
	b.Mark("catch")
	catchPC := b.Add(&bytecode.Instruction{Op: bytecode.Pop}) // 6
	b.Add(&bytecode.Instruction{Op: bytecode.Return})         // 7
	b.Handler("try", "end", "catch", npe)

	res := mustInterpret(t, h, b.MustBuild(), RefParameter(a, hierarchy.No, false))

	// A callee may throw anything; the imprecise Throwable must not be
	// conclusively ruled out by a narrower catch type.
	if !res.Reached(catchPC) {
		t.Fatalf("handler not reached for a callee exception")
	}
	if !res.Reached(afterPC) {
		t.Fatalf("regular fallthrough lost")
	}
	if succs := res.CFG.ExceptionalSuccessors(callPC); !reflect.DeepEqual(succs, []int{catchPC}) {
		t.Errorf("exceptional successors: got %v, want [%d]", succs, catchPC)
	}
	// Inside the handler the value is additionally bounded by the catch type.
	caught := res.OperandsAt[catchPC][0]
	if bound := caught.UpperTypeBound(); len(bound) != 1 || bound[0] != npe {
		t.Errorf("caught value bound: got %v, want {NullPointerException}", bound)
	}
}

func TestCheckCastRefinesBound(t *testing.T) {
	h := newTestHierarchy(t)
	a, bType := h.TypeNamed("A"), h.TypeNamed("B")

	b := bytecode.NewBuilder(2)
	b.Add(&bytecode.Instruction{Op: bytecode.ALoad, Index: 0})          // 0
	b.Add(&bytecode.Instruction{Op: bytecode.CheckCast, Type: bType})   // 2
	b.Add(&bytecode.Instruction{Op: bytecode.AStore, Index: 1})         // 5
	retPC := b.Add(&bytecode.Instruction{Op: bytecode.Return})          // 7

	res := mustInterpret(t, h, b.MustBuild(), RefParameter(a, hierarchy.No, false))
	stored := res.LocalsAt[retPC][1]
	if bound := stored.UpperTypeBound(); len(bound) != 1 || bound[0] != bType {
		t.Errorf("bound after checkcast: got %v, want {B}", bound)
	}
}

func TestCheckCastGuaranteedFailure(t *testing.T) {
	h := newTestHierarchy(t)
	a, bType := h.TypeNamed("A"), h.TypeNamed("B")

	b := bytecode.NewBuilder(1)
	b.Add(&bytecode.Instruction{Op: bytecode.ALoad, Index: 0})        // 0
	castPC := b.Add(&bytecode.Instruction{Op: bytecode.CheckCast, Type: bType}) // 2
	afterPC := b.Add(&bytecode.Instruction{Op: bytecode.Return})      // 5

	// An exact A can never be a B: the cast always throws and there is no
	// handler, so nothing follows the cast.
	res := mustInterpret(t, h, b.MustBuild(), RefParameter(a, hierarchy.No, true))
	if !res.Reached(castPC) {
		t.Fatalf("cast not reached")
	}
	if res.Reached(afterPC) {
		t.Errorf("code after a guaranteed ClassCastException must be unreachable")
	}
}

func TestDefiniteNullPrunesBranch(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(1)
	b.Add(&bytecode.Instruction{Op: bytecode.AConstNull})                    // 0
	b.Add(&bytecode.Instruction{Op: bytecode.IfNonNull, TargetLabel: "t"})   // 1
	fallPC := b.Add(&bytecode.Instruction{Op: bytecode.Return})              // 4
	b.Mark("t")
	deadPC := b.Add(&bytecode.Instruction{Op: bytecode.Return}) // 5

	res := mustInterpret(t, h, b.MustBuild())
	if !res.Reached(fallPC) {
		t.Fatalf("fallthrough of an untaken ifnonnull lost")
	}
	if res.Reached(deadPC) {
		t.Errorf("ifnonnull on definite null must prune the branch")
	}
}

func TestCategory2ParameterSeeding(t *testing.T) {
	h := newTestHierarchy(t)
	a := h.TypeNamed("A")
	b := bytecode.NewBuilder(3)
	b.Add(&bytecode.Instruction{Op: bytecode.Return})

	res := mustInterpret(t, h, b.MustBuild(),
		PrimParameter(LongKind), RefParameter(a, hierarchy.Unknown, false))

	locs := res.LocalsAt[0]
	if p, ok := locs[0].(*primitiveValue); !ok || p.kind != LongKind {
		t.Errorf("local 0: got %s, want a long", locs[0])
	}
	// The upper half of a category-2 value is unusable.
	if !isIllegal(locs[1]) {
		t.Errorf("local 1: got %s, want illegal", locs[1])
	}
	if locs[2].Origin() != ParameterOrigin(2) {
		t.Errorf("local 2 origin: got %d, want %d", locs[2].Origin(), ParameterOrigin(2))
	}
}

func TestSubroutineCallAndReturn(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(2)
	b.Add(&bytecode.Instruction{Op: bytecode.JSR, TargetLabel: "sub"}) // 0
	retPC := b.Add(&bytecode.Instruction{Op: bytecode.Return})         // 3
	b.Mark("sub")
	b.Add(&bytecode.Instruction{Op: bytecode.AStore, Index: 1}) // 4
	b.Add(&bytecode.Instruction{Op: bytecode.Ret, Index: 1})    // 6

	res := mustInterpret(t, h, b.MustBuild())
	if !res.Reached(retPC) {
		t.Fatalf("subroutine return target not reached")
	}
	if preds := res.CFG.Predecessors(retPC); !reflect.DeepEqual(preds, []int{6}) {
		t.Errorf("predecessors of the return target: got %v, want [6]", preds)
	}
	// The return address value recorded for the ret is the jsr's successor.
	ra, ok := res.LocalsAt[6][1].(*returnAddressValue)
	if !ok || !reflect.DeepEqual(ra.targets, []int{3}) {
		t.Errorf("return address at ret: got %s, want retaddr{3}", res.LocalsAt[6][1])
	}
}

func TestMissingStateFailsLoudly(t *testing.T) {
	h := newTestHierarchy(t)
	b := bytecode.NewBuilder(1)
	// iload of a local that never holds a value.
	b.Add(&bytecode.Instruction{Op: bytecode.ILoad, Index: 0})
	b.Add(&bytecode.Instruction{Op: bytecode.Return})

	in := NewInterpreter(h, b.MustBuild())
	_, err := in.Interpret(nil)
	ie, ok := err.(*InternalError)
	if !ok {
		t.Fatalf("expected an internal error, got %v", err)
	}
	if ie.Cause != InvalidLocalFail {
		t.Errorf("cause: got %s, want %s", ie.Cause, InvalidLocalFail)
	}
	if ie.Dump == "" {
		t.Errorf("internal errors must carry a state dump")
	}
}
