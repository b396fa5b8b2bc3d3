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

	"github.com/practical-formal-methods/crow/bytecode"
	"github.com/practical-formal-methods/crow/hierarchy"
)

// flowEdge is one control-flow edge produced by a transfer function: the
// successor pc together with the state flowing along the edge.
type flowEdge struct {
	target      int
	ops         []Value
	locs        []Value
	exceptional bool
}

// execEnv is the execution environment of one transfer function
// application. Operand stacks have their top at index 0.
type execEnv struct {
	ctx   *context
	in    *Interpreter
	pc    int
	instr *bytecode.Instruction
	ops   []Value
	locs  []Value
}

// execFn evaluates one instruction's transfer function, producing zero or
// more flow edges. It must not mutate the environment's slices.
type execFn func(env execEnv) ([]flowEdge, error)

func (e execEnv) nextPC() int {
	return e.instr.NextPC(e.pc)
}

// push returns a new operand stack with the values pushed (first argument
// ends up topmost).
func (e execEnv) push(vs ...Value) []Value {
	ops := make([]Value, 0, len(e.ops)+len(vs))
	ops = append(ops, vs...)
	ops = append(ops, e.ops...)
	return ops
}

// popPush drops n entries off the stack and pushes the given values.
func (e execEnv) popPush(n int, vs ...Value) ([]Value, error) {
	if len(e.ops) < n {
		return nil, internalError(InvalidStackFail, e.pc,
			fmt.Sprintf("need %d operands, stack has %d\n%s", n, len(e.ops), e.in.dumpState(e.pc)))
	}
	ops := make([]Value, 0, len(e.ops)-n+len(vs))
	ops = append(ops, vs...)
	ops = append(ops, e.ops[n:]...)
	return ops, nil
}

// fall produces the single fallthrough edge carrying the given stack.
func (e execEnv) fall(ops []Value) []flowEdge {
	return []flowEdge{{target: e.nextPC(), ops: ops, locs: e.locs}}
}

// storeLocal returns a copy of the locals with the value stored at index.
// Category-2 values invalidate the following slot; overwriting the second
// half of a category-2 value invalidates its first half.
func (e execEnv) storeLocal(index int, v Value) ([]Value, error) {
	if index < 0 || index+v.Category() > len(e.locs) {
		return nil, internalError(InvalidLocalFail, e.pc,
			fmt.Sprintf("local %d outside of max_locals %d\n%s", index, len(e.locs), e.in.dumpState(e.pc)))
	}
	locs := append([]Value(nil), e.locs...)
	if index > 0 && locs[index-1].Category() == 2 {
		locs[index-1] = theIllegalValue
	}
	locs[index] = v
	if v.Category() == 2 {
		locs[index+1] = theIllegalValue
	}
	return locs, nil
}

// raise builds the exception edges for an implicitly raised VM exception of
// the given type: the handler's stack holds only the caught value, locals
// flow unchanged. The handler search stops at the first conclusive match.
func (e execEnv) raise(exTypeName string) []flowEdge {
	exType := e.ctx.exceptionType(exTypeName)
	thrown := e.ctx.newObject(e.pc, exType, hierarchy.No, true)
	return e.routeToHandlers(thrown, exType)
}

func (e execEnv) routeToHandlers(thrown Value, static *hierarchy.Type) []flowEdge {
	var edges []flowEdge
	for _, h := range e.in.code.HandlersFor(e.pc) {
		match := hierarchy.Yes
		if h.CatchType != nil {
			match = e.ctx.hier.IsSubtypeOf(static, h.CatchType)
			if match == hierarchy.No && !thrown.IsPrecise() &&
				e.ctx.hier.IsSubtypeOf(h.CatchType, static) != hierarchy.No {
				// The static bound is only an upper bound: the runtime type
				// may still lie below the caught type.
				match = hierarchy.Unknown
			}
		}
		if match == hierarchy.No {
			continue
		}
		caught := thrown
		if h.CatchType != nil && match == hierarchy.Unknown {
			// Inside the handler the value is additionally bounded by the
			// caught type.
			caught = e.ctx.newObject(e.pc, h.CatchType, hierarchy.No, false)
		}
		edges = append(edges, flowEdge{
			target:      h.HandlerPC,
			ops:         []Value{caught},
			locs:        e.locs,
			exceptional: true,
		})
		if match == hierarchy.Yes {
			break
		}
	}
	// Without a conclusive handler the exception (also) leaves the method;
	// abrupt completion has no successor pc.
	return edges
}

// mayRaise reports whether the instruction can raise a VM exception; used
// when precomputing join points.
func mayRaise(i *bytecode.Instruction) bool {
	switch i.Op {
	case bytecode.IALoad, bytecode.AALoad, bytecode.IAStore, bytecode.AAStore,
		bytecode.ArrayLength, bytecode.GetField, bytecode.PutField,
		bytecode.InvokeVirtual, bytecode.InvokeSpecial, bytecode.InvokeStatic,
		bytecode.AThrow, bytecode.CheckCast, bytecode.NewArray, bytecode.ANewArray,
		bytecode.MonitorEnter, bytecode.MonitorExit:
		return true
	}
	return false
}

// transferTable maps each supported opcode to its transfer function.
var transferTable [256]execFn

func init() {
	t := &transferTable

	t[bytecode.Nop] = func(e execEnv) ([]flowEdge, error) {
		return e.fall(e.ops), nil
	}

	t[bytecode.AConstNull] = func(e execEnv) ([]flowEdge, error) {
		return e.fall(e.push(e.ctx.newNull(e.pc))), nil
	}

	pushInt := func(e execEnv) ([]flowEdge, error) {
		return e.fall(e.push(e.ctx.newPrimitive(e.pc, IntKind))), nil
	}
	for _, op := range []bytecode.Opcode{
		bytecode.IConstM1, bytecode.IConst0, bytecode.IConst1, bytecode.IConst2,
		bytecode.IConst3, bytecode.IConst4, bytecode.IConst5, bytecode.BIPush,
	} {
		t[op] = pushInt
	}

	pushLong := func(e execEnv) ([]flowEdge, error) {
		return e.fall(e.push(e.ctx.newPrimitive(e.pc, LongKind))), nil
	}
	t[bytecode.LConst0] = pushLong
	t[bytecode.LConst1] = pushLong

	load := func(e execEnv) ([]flowEdge, error) {
		v, err := e.localAt(e.instr.Index)
		if err != nil {
			return nil, err
		}
		return e.fall(e.push(v)), nil
	}
	t[bytecode.ILoad] = load
	t[bytecode.LLoad] = load
	t[bytecode.ALoad] = load

	store := func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(1)
		if err != nil {
			return nil, err
		}
		locs, err := e.storeLocal(e.instr.Index, e.ops[0])
		if err != nil {
			return nil, err
		}
		return []flowEdge{{target: e.nextPC(), ops: ops, locs: locs}}, nil
	}
	t[bytecode.IStore] = store
	t[bytecode.LStore] = store
	t[bytecode.AStore] = store

	t[bytecode.Pop] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(1)
		if err != nil {
			return nil, err
		}
		return e.fall(ops), nil
	}

	t[bytecode.Dup] = func(e execEnv) ([]flowEdge, error) {
		if len(e.ops) < 1 {
			return nil, internalError(InvalidStackFail, e.pc, e.in.dumpState(e.pc))
		}
		// The duplicate is the identical value: both slots alias.
		return e.fall(e.push(e.ops[0])), nil
	}

	t[bytecode.Swap] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(2, e.ops[1], e.ops[0])
		if err != nil {
			return nil, err
		}
		return e.fall(ops), nil
	}

	binaryInt := func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(2, e.ctx.newPrimitive(e.pc, IntKind))
		if err != nil {
			return nil, err
		}
		return e.fall(ops), nil
	}
	t[bytecode.IAdd] = binaryInt
	t[bytecode.ISub] = binaryInt

	branch2 := func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(2)
		if err != nil {
			return nil, err
		}
		return []flowEdge{
			{target: e.nextPC(), ops: ops, locs: e.locs},
			{target: e.instr.Target, ops: ops, locs: e.locs},
		}, nil
	}
	t[bytecode.IfICmpEq] = branch2
	t[bytecode.IfICmpNe] = branch2

	branchNull := func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(1)
		if err != nil {
			return nil, err
		}
		v := e.ops[0]
		var edges []flowEdge
		// Definite nullness makes one side infeasible.
		takeBranch := v.IsNull() == hierarchy.Yes
		if e.instr.Op == bytecode.IfNonNull {
			takeBranch = v.IsNull() == hierarchy.No
		}
		skipBranch := v.IsNull() == hierarchy.No
		if e.instr.Op == bytecode.IfNonNull {
			skipBranch = v.IsNull() == hierarchy.Yes
		}
		if !takeBranch {
			edges = append(edges, flowEdge{target: e.nextPC(), ops: ops, locs: e.locs})
		}
		if !skipBranch {
			edges = append(edges, flowEdge{target: e.instr.Target, ops: ops, locs: e.locs})
		}
		return edges, nil
	}
	t[bytecode.IfNull] = branchNull
	t[bytecode.IfNonNull] = branchNull

	t[bytecode.Goto] = func(e execEnv) ([]flowEdge, error) {
		return []flowEdge{{target: e.instr.Target, ops: e.ops, locs: e.locs}}, nil
	}

	t[bytecode.LookupSwitch] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(1)
		if err != nil {
			return nil, err
		}
		edges := make([]flowEdge, 0, len(e.instr.Targets)+1)
		edges = append(edges, flowEdge{target: e.instr.Default, ops: ops, locs: e.locs})
		for _, target := range e.instr.Targets {
			edges = append(edges, flowEdge{target: target, ops: ops, locs: e.locs})
		}
		return edges, nil
	}

	ret1 := func(e execEnv) ([]flowEdge, error) {
		if _, err := e.popPush(1); err != nil {
			return nil, err
		}
		return nil, nil
	}
	t[bytecode.IReturn] = ret1
	t[bytecode.AReturn] = ret1
	t[bytecode.Return] = func(e execEnv) ([]flowEdge, error) {
		return nil, nil
	}

	t[bytecode.GetField] = func(e execEnv) ([]flowEdge, error) {
		pushed, err := e.resultValue(e.instr.Field.Kind, e.instr.Field.RefType)
		if err != nil {
			return nil, err
		}
		ops, err := e.popPush(1, pushed...)
		if err != nil {
			return nil, err
		}
		return withNPE(e, e.ops[0], e.fall(ops)), nil
	}

	t[bytecode.PutField] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(2)
		if err != nil {
			return nil, err
		}
		return withNPE(e, e.ops[1], e.fall(ops)), nil
	}

	invoke := func(e execEnv) ([]flowEdge, error) {
		m := e.instr.Method
		pushed, err := e.resultValue(m.Kind, m.RefType)
		if err != nil {
			return nil, err
		}
		ops, err := e.popPush(m.Pops, pushed...)
		if err != nil {
			return nil, err
		}
		edges := e.fall(ops)
		// Any throwable may escape a callee.
		thrown := e.ctx.newObject(e.pc, e.ctx.hier.ThrowableType(), hierarchy.No, false)
		edges = append(edges, e.routeToHandlers(thrown, e.ctx.hier.ThrowableType())...)
		if e.instr.Op != bytecode.InvokeStatic {
			edges = withNPE(e, e.ops[m.Pops-1], edges)
		}
		return edges, nil
	}
	t[bytecode.InvokeVirtual] = invoke
	t[bytecode.InvokeSpecial] = invoke
	t[bytecode.InvokeStatic] = invoke

	t[bytecode.New] = func(e execEnv) ([]flowEdge, error) {
		return e.fall(e.push(e.ctx.newObject(e.pc, e.instr.Type, hierarchy.No, true))), nil
	}

	newArray := func(e execEnv) ([]flowEdge, error) {
		arr := e.ctx.hier.Store().ArrayOf(e.instr.Type)
		ops, err := e.popPush(1, e.ctx.newObject(e.pc, arr, hierarchy.No, true))
		if err != nil {
			return nil, err
		}
		edges := e.fall(ops)
		return append(edges, e.raise(negArrSizeTypeName)...), nil
	}
	t[bytecode.NewArray] = newArray
	t[bytecode.ANewArray] = newArray

	t[bytecode.ArrayLength] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(1, e.ctx.newPrimitive(e.pc, IntKind))
		if err != nil {
			return nil, err
		}
		return withNPE(e, e.ops[0], e.fall(ops)), nil
	}

	t[bytecode.IALoad] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(2, e.ctx.newPrimitive(e.pc, IntKind))
		if err != nil {
			return nil, err
		}
		edges := e.fall(ops)
		edges = append(edges, e.raise(aioobeTypeName)...)
		return withNPE(e, e.ops[1], edges), nil
	}

	t[bytecode.AALoad] = func(e execEnv) ([]flowEdge, error) {
		if len(e.ops) < 2 {
			return nil, internalError(InvalidStackFail, e.pc, e.in.dumpState(e.pc))
		}
		arrayref := e.ops[1]
		var edges []flowEdge
		if arrayref.IsNull() != hierarchy.Yes {
			loaded := e.loadedElement(arrayref)
			ops, err := e.popPush(2, loaded)
			if err != nil {
				return nil, err
			}
			edges = e.fall(ops)
			edges = append(edges, e.raise(aioobeTypeName)...)
		}
		return withNPE(e, arrayref, edges), nil
	}

	t[bytecode.IAStore] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(3)
		if err != nil {
			return nil, err
		}
		edges := e.fall(ops)
		edges = append(edges, e.raise(aioobeTypeName)...)
		return withNPE(e, e.ops[2], edges), nil
	}

	t[bytecode.AAStore] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(3)
		if err != nil {
			return nil, err
		}
		value, arrayref := e.ops[0], e.ops[2]
		edges := e.fall(ops)
		edges = append(edges, e.raise(aioobeTypeName)...)
		if storable := e.storeCompatibility(value, arrayref); storable != hierarchy.Yes {
			edges = append(edges, e.raise(arrayStoreTypeName)...)
		}
		return withNPE(e, arrayref, edges), nil
	}

	t[bytecode.AThrow] = func(e execEnv) ([]flowEdge, error) {
		if len(e.ops) < 1 {
			return nil, internalError(InvalidStackFail, e.pc, e.in.dumpState(e.pc))
		}
		thrown := e.ops[0]
		if thrown.IsNull() == hierarchy.Yes {
			return e.raise(npeTypeName), nil
		}
		var edges []flowEdge
		if thrown.IsNull() == hierarchy.Unknown {
			edges = append(edges, e.raise(npeTypeName)...)
		}
		static := e.ctx.hier.ThrowableType()
		if bound := thrown.UpperTypeBound(); len(bound) == 1 {
			static = bound[0]
		}
		return append(edges, e.routeToHandlers(thrown, static)...), nil
	}

	t[bytecode.CheckCast] = func(e execEnv) ([]flowEdge, error) {
		if len(e.ops) < 1 {
			return nil, internalError(InvalidStackFail, e.pc, e.in.dumpState(e.pc))
		}
		v := e.ops[0]
		var edges []flowEdge
		conforms := v.IsNull() == hierarchy.Yes
		if !conforms {
			switch valueSubtypeOf(e.ctx.hier, v, e.instr.Type) {
			case hierarchy.Yes:
				conforms = true
			case hierarchy.No:
				if v.IsPrecise() {
					// Guaranteed to throw.
					return e.raise(classCastTypeName), nil
				}
			}
		}
		kept := v
		if !conforms {
			// The cast may succeed; past this point the value is bounded by
			// the cast type as well.
			kept = e.ctx.newObject(e.pc, e.instr.Type, v.IsNull(), false)
			edges = append(edges, e.raise(classCastTypeName)...)
		}
		ops, err := e.popPush(1, kept)
		if err != nil {
			return nil, err
		}
		return append(e.fall(ops), edges...), nil
	}

	t[bytecode.InstanceOf] = func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(1, e.ctx.newPrimitive(e.pc, IntKind))
		if err != nil {
			return nil, err
		}
		return e.fall(ops), nil
	}

	monitor := func(e execEnv) ([]flowEdge, error) {
		ops, err := e.popPush(1)
		if err != nil {
			return nil, err
		}
		return withNPE(e, e.ops[0], e.fall(ops)), nil
	}
	t[bytecode.MonitorEnter] = monitor
	t[bytecode.MonitorExit] = monitor

	t[bytecode.JSR] = func(e execEnv) ([]flowEdge, error) {
		retAddr := e.ctx.newReturnAddress(e.pc, e.nextPC())
		return []flowEdge{{target: e.instr.Target, ops: e.push(retAddr), locs: e.locs}}, nil
	}

	t[bytecode.Ret] = func(e execEnv) ([]flowEdge, error) {
		v, err := e.localAt(e.instr.Index)
		if err != nil {
			return nil, err
		}
		ra, ok := v.(*returnAddressValue)
		if !ok {
			return nil, internalError(MissingReturnAddressFail, e.pc, e.in.dumpState(e.pc))
		}
		edges := make([]flowEdge, 0, len(ra.targets))
		for _, target := range ra.targets {
			edges = append(edges, flowEdge{target: target, ops: e.ops, locs: e.locs})
		}
		return edges, nil
	}
}

func (e execEnv) localAt(index int) (Value, error) {
	if index < 0 || index >= len(e.locs) {
		return nil, internalError(InvalidLocalFail, e.pc,
			fmt.Sprintf("local %d outside of max_locals %d\n%s", index, len(e.locs), e.in.dumpState(e.pc)))
	}
	v := e.locs[index]
	if isIllegal(v) {
		return nil, internalError(InvalidLocalFail, e.pc,
			fmt.Sprintf("local %d holds no usable value\n%s", index, e.in.dumpState(e.pc)))
	}
	return v, nil
}

// resultValue models what a field read or method call produces: zero or one
// values, references bounded by the declared type with unknown nullness.
func (e execEnv) resultValue(kind bytecode.ResultKind, refType *hierarchy.Type) ([]Value, error) {
	switch kind {
	case bytecode.VoidResult:
		return nil, nil
	case bytecode.IntResult:
		return []Value{e.ctx.newPrimitive(e.pc, IntKind)}, nil
	case bytecode.LongResult:
		return []Value{e.ctx.newPrimitive(e.pc, LongKind)}, nil
	case bytecode.FloatResult:
		return []Value{e.ctx.newPrimitive(e.pc, FloatKind)}, nil
	case bytecode.DoubleResult:
		return []Value{e.ctx.newPrimitive(e.pc, DoubleKind)}, nil
	case bytecode.RefResult:
		return []Value{e.ctx.newObject(e.pc, refType, hierarchy.Unknown, false)}, nil
	}
	return nil, internalError(UnknownOpcodeFail, e.pc, fmt.Sprintf("bad result kind %d", kind))
}

// loadedElement models the value read from a reference array.
func (e execEnv) loadedElement(arrayref Value) Value {
	if bound := arrayref.UpperTypeBound(); len(bound) == 1 && bound[0].IsArray() {
		comp := bound[0].Component()
		return e.ctx.newObject(e.pc, comp, hierarchy.Unknown, false)
	}
	return e.ctx.newObject(e.pc, e.ctx.hier.ObjectType(), hierarchy.Unknown, false)
}

// storeCompatibility checks an aastore against the array's component type.
func (e execEnv) storeCompatibility(value, arrayref Value) hierarchy.Answer {
	if value.IsNull() == hierarchy.Yes {
		return hierarchy.Yes
	}
	arrBound := arrayref.UpperTypeBound()
	valBound := value.UpperTypeBound()
	if len(arrBound) != 1 || !arrBound[0].IsArray() || len(valBound) != 1 {
		return hierarchy.Unknown
	}
	return e.ctx.hier.CanBeStoredIn(valBound[0], value.IsPrecise(), arrBound[0], arrayref.IsPrecise())
}

// withNPE adds the NullPointerException edges implied by dereferencing the
// given value and drops the regular edges when the dereference cannot
// succeed.
func withNPE(e execEnv, deref Value, edges []flowEdge) []flowEdge {
	switch deref.IsNull() {
	case hierarchy.No:
		return edges
	case hierarchy.Yes:
		var kept []flowEdge
		for _, edge := range edges {
			if edge.exceptional {
				kept = append(kept, edge)
			}
		}
		return append(kept, e.raise(npeTypeName)...)
	}
	return append(edges, e.raise(npeTypeName)...)
}
