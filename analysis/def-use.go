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
	"sort"
	"strings"

	"github.com/willf/bitset"

	"github.com/practical-formal-methods/crow/bytecode"
	"github.com/practical-formal-methods/crow/hierarchy"
)

// implicitExceptionOriginOffset separates the origin range of implicitly
// created exception values from parameter origins.
const implicitExceptionOriginOffset = 512

// ParameterOrigin is the synthetic origin of the parameter stored in the
// given local variable slot. Category-2 parameters consume two slots.
func ParameterOrigin(slot int) int {
	return -slot - 1
}

// ImplicitExceptionOrigin is the synthetic origin of the exception value
// raised implicitly by the instruction at pc.
func ImplicitExceptionOrigin(pc int) int {
	return -implicitExceptionOriginOffset - pc
}

// DefUse maps every value-producing program point to the pcs using the
// value, and every use site back to the origins that may define the used
// value. It is computed as a post-pass over the finished CFG.
type DefUse struct {
	code *bytecode.Code
	bias int

	used      map[int]*bitset.BitSet // origin -> use-site pcs
	defOps    [][]*bitset.BitSet     // per pc: origin set per stack slot, top first
	defLocals [][]*bitset.BitSet     // per pc: origin set per register
	allDefs   *bitset.BitSet         // every origin that defines a value
}

// OperandOrigin returns the origins defining the value at the given operand
// stack index (0 = top) at pc.
func (d *DefUse) OperandOrigin(pc, stackIndex int) []int {
	if pc < 0 || pc >= len(d.defOps) || d.defOps[pc] == nil || stackIndex >= len(d.defOps[pc]) {
		return nil
	}
	return d.setToOrigins(d.defOps[pc][stackIndex])
}

// LocalOrigin returns the origins defining the value in the given register
// at pc.
func (d *DefUse) LocalOrigin(pc, reg int) []int {
	if pc < 0 || pc >= len(d.defLocals) || d.defLocals[pc] == nil || reg >= len(d.defLocals[pc]) {
		return nil
	}
	return d.setToOrigins(d.defLocals[pc][reg])
}

// UsedBy returns the pcs that use the value defined at origin.
func (d *DefUse) UsedBy(origin int) []int {
	set := d.used[origin]
	if set == nil {
		return nil
	}
	return bitsToPCs(set)
}

// Unused returns the origins whose value is never used.
func (d *DefUse) Unused() []int {
	var unused []int
	for i, ok := d.allDefs.NextSet(0); ok; i, ok = d.allDefs.NextSet(i + 1) {
		origin := int(i) - d.bias
		if set := d.used[origin]; set == nil || set.None() {
			unused = append(unused, origin)
		}
	}
	sort.Ints(unused)
	return unused
}

func (d *DefUse) index(origin int) uint {
	return uint(origin + d.bias)
}

func (d *DefUse) singleton(origin int) *bitset.BitSet {
	s := bitset.New(8)
	s.Set(d.index(origin))
	return s
}

func (d *DefUse) setToOrigins(set *bitset.BitSet) []int {
	if set == nil {
		return nil
	}
	origins := make([]int, 0, set.Count())
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		origins = append(origins, int(i)-d.bias)
	}
	return origins
}

// retTarget is one pending subroutine return: the jsr that entered the
// subroutine and the pc execution continues at after the matching ret.
type retTarget struct {
	jsrPC    int
	returnPC int
}

type defUseRecorder struct {
	*DefUse
	res        *Result
	nextPCs    *bitset.BitSet
	retTargets []retTarget // drained in LIFO order
}

// computeDefUse replays the recorded control flow of a finished
// interpretation and computes the def/use tables as a nested fixpoint.
// Parameter definitions are read off the entry state's locals.
func computeDefUse(res *Result) (*DefUse, error) {
	n := res.Code.Len()
	d := &DefUse{
		code:      res.Code,
		bias:      implicitExceptionOriginOffset + n,
		used:      map[int]*bitset.BitSet{},
		defOps:    make([][]*bitset.BitSet, n),
		defLocals: make([][]*bitset.BitSet, n),
		allDefs:   bitset.New(uint(implicitExceptionOriginOffset + 2*n)),
	}
	r := &defUseRecorder{DefUse: d, res: res, nextPCs: bitset.New(uint(n))}

	// Parameters define their slots before the first instruction.
	locals0 := make([]*bitset.BitSet, res.Code.MaxLocals)
	for slot, v := range res.LocalsAt[0] {
		if v != nil && !isIllegal(v) && v.Origin() < 0 {
			locals0[slot] = d.singleton(v.Origin())
			d.allDefs.Set(d.index(v.Origin()))
		}
	}
	d.defOps[0] = []*bitset.BitSet{}
	d.defLocals[0] = locals0
	r.nextPCs.Set(0)

	for {
		for {
			i, ok := r.nextPCs.NextSet(0)
			if !ok {
				break
			}
			r.nextPCs.Clear(i)
			if err := r.process(int(i)); err != nil {
				return nil, err
			}
		}
		if len(r.retTargets) == 0 {
			break
		}
		p := r.retTargets[len(r.retTargets)-1]
		r.retTargets = r.retTargets[:len(r.retTargets)-1]
		if err := r.resolveRetTarget(p); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (r *defUseRecorder) use(set *bitset.BitSet, pc int) {
	if set == nil {
		return
	}
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		origin := int(i) - r.bias
		if r.used[origin] == nil {
			r.used[origin] = bitset.New(8)
		}
		r.used[origin].Set(uint(pc))
	}
}

func (r *defUseRecorder) def(pc int) *bitset.BitSet {
	r.allDefs.Set(r.index(pc))
	return r.singleton(pc)
}

func pushSet(ops []*bitset.BitSet, set *bitset.BitSet) []*bitset.BitSet {
	out := make([]*bitset.BitSet, 0, len(ops)+1)
	out = append(out, set)
	out = append(out, ops...)
	return out
}

// process replays the stack/locals effect of the instruction at pc over
// origin sets, recording uses, and propagates the result to the recorded
// successors.
func (r *defUseRecorder) process(pc int) error {
	instr := r.code.InstructionAt(pc)
	ops := r.defOps[pc]
	locs := r.defLocals[pc]
	if instr == nil || ops == nil || locs == nil {
		return internalError(MissingStateFail, pc, r.dump(pc))
	}

	popUse := func(n int) ([]*bitset.BitSet, error) {
		if len(ops) < n {
			return nil, internalError(InvalidStackFail, pc, r.dump(pc))
		}
		for i := 0; i < n; i++ {
			r.use(ops[i], pc)
		}
		return ops[n:], nil
	}

	nOps := ops
	nLocs := locs
	skipRegular := false
	var err error

	switch instr.Op {
	case bytecode.Nop, bytecode.Goto:

	case bytecode.AConstNull, bytecode.IConstM1, bytecode.IConst0, bytecode.IConst1,
		bytecode.IConst2, bytecode.IConst3, bytecode.IConst4, bytecode.IConst5,
		bytecode.LConst0, bytecode.LConst1, bytecode.BIPush, bytecode.New:
		nOps = pushSet(ops, r.def(pc))

	case bytecode.ILoad, bytecode.LLoad, bytecode.ALoad:
		set := locs[instr.Index]
		if set == nil {
			// Only tolerable while the defining subroutine return is still
			// pending; a genuine miss is an analysis bug.
			return internalError(MissingStateFail, pc, r.dump(pc))
		}
		// Loads forward definition sites; the use is recorded where the
		// value is actually consumed.
		nOps = pushSet(ops, set)

	case bytecode.IStore, bytecode.LStore, bytecode.AStore:
		if len(ops) < 1 {
			return internalError(InvalidStackFail, pc, r.dump(pc))
		}
		nLocs = append([]*bitset.BitSet(nil), locs...)
		nLocs[instr.Index] = ops[0]
		if instr.Op == bytecode.LStore {
			nLocs[instr.Index+1] = nil
		}
		nOps = ops[1:]

	case bytecode.Pop:
		// Discarding a value does not use it.
		if len(ops) < 1 {
			return internalError(InvalidStackFail, pc, r.dump(pc))
		}
		nOps = ops[1:]

	case bytecode.Dup:
		if len(ops) < 1 {
			return internalError(InvalidStackFail, pc, r.dump(pc))
		}
		nOps = pushSet(ops, ops[0])

	case bytecode.Swap:
		if len(ops) < 2 {
			return internalError(InvalidStackFail, pc, r.dump(pc))
		}
		nOps = pushSet(ops[2:], ops[0])
		nOps = pushSet(nOps, ops[1])

	case bytecode.IAdd, bytecode.ISub:
		if nOps, err = popUse(2); err != nil {
			return err
		}
		nOps = pushSet(nOps, r.def(pc))

	case bytecode.IfICmpEq, bytecode.IfICmpNe:
		if nOps, err = popUse(2); err != nil {
			return err
		}

	case bytecode.IfNull, bytecode.IfNonNull, bytecode.LookupSwitch:
		if nOps, err = popUse(1); err != nil {
			return err
		}

	case bytecode.IReturn, bytecode.AReturn:
		if _, err = popUse(1); err != nil {
			return err
		}

	case bytecode.Return:

	case bytecode.GetField:
		if nOps, err = popUse(1); err != nil {
			return err
		}
		nOps = pushSet(nOps, r.def(pc))

	case bytecode.PutField:
		if nOps, err = popUse(2); err != nil {
			return err
		}

	case bytecode.InvokeVirtual, bytecode.InvokeSpecial, bytecode.InvokeStatic:
		if nOps, err = popUse(instr.Method.Pops); err != nil {
			return err
		}
		if instr.Method.Kind != bytecode.VoidResult {
			nOps = pushSet(nOps, r.def(pc))
		}

	case bytecode.NewArray, bytecode.ANewArray, bytecode.ArrayLength, bytecode.InstanceOf:
		if nOps, err = popUse(1); err != nil {
			return err
		}
		nOps = pushSet(nOps, r.def(pc))

	case bytecode.IALoad, bytecode.AALoad:
		if nOps, err = popUse(2); err != nil {
			return err
		}
		nOps = pushSet(nOps, r.def(pc))

	case bytecode.IAStore, bytecode.AAStore:
		if nOps, err = popUse(3); err != nil {
			return err
		}

	case bytecode.AThrow:
		if _, err = popUse(1); err != nil {
			return err
		}

	case bytecode.CheckCast:
		// checkcast uses its operand but never defines a value: the checked
		// value keeps its origins.
		if len(ops) < 1 {
			return internalError(InvalidStackFail, pc, r.dump(pc))
		}
		r.use(ops[0], pc)

	case bytecode.MonitorEnter, bytecode.MonitorExit:
		if nOps, err = popUse(1); err != nil {
			return err
		}

	case bytecode.JSR:
		nOps = pushSet(ops, r.def(pc))
		r.retTargets = append(r.retTargets, retTarget{jsrPC: pc, returnPC: instr.NextPC(pc)})

	case bytecode.Ret:
		// The return-address value is consumed here; actual propagation to
		// the pending return targets happens when the worklist drains.
		r.use(locs[instr.Index], pc)
		skipRegular = true

	default:
		return internalError(UnknownOpcodeFail, pc, r.dump(pc))
	}

	if !skipRegular {
		for _, succ := range r.res.CFG.RegularSuccessors(pc) {
			if err := r.propagate(succ, nOps, nLocs); err != nil {
				return err
			}
		}
	}
	return r.propagateExceptional(pc, instr, ops, locs)
}

func (r *defUseRecorder) propagateExceptional(pc int, instr *bytecode.Instruction, ops []*bitset.BitSet, locs []*bitset.BitSet) error {
	handlers := r.res.CFG.ExceptionalSuccessors(pc)
	if len(handlers) == 0 {
		return nil
	}
	implicit := func() *bitset.BitSet {
		r.allDefs.Set(r.index(ImplicitExceptionOrigin(pc)))
		return r.singleton(ImplicitExceptionOrigin(pc))
	}
	var excSet *bitset.BitSet
	if instr.Op == bytecode.AThrow && len(ops) > 0 {
		thrown := r.res.OperandsAt[pc][0]
		switch thrown.IsNull() {
		case hierarchy.No:
			excSet = ops[0]
		case hierarchy.Yes:
			excSet = implicit()
		default:
			excSet = ops[0].Union(implicit())
		}
	} else {
		excSet = implicit()
	}
	for _, h := range handlers {
		if err := r.propagate(h, []*bitset.BitSet{excSet}, locs); err != nil {
			return err
		}
	}
	return nil
}

// propagate merges origin-set state into a successor and schedules it when
// anything grew.
func (r *defUseRecorder) propagate(succ int, ops []*bitset.BitSet, locs []*bitset.BitSet) error {
	if r.defOps[succ] == nil {
		r.defOps[succ] = ops
		r.defLocals[succ] = locs
		r.nextPCs.Set(uint(succ))
		return nil
	}
	if len(r.defOps[succ]) != len(ops) {
		return internalError(InvalidStackFail, succ, r.dump(succ))
	}
	changed := false
	mergedOps, c1 := mergeSetSlices(r.defOps[succ], ops)
	mergedLocs, c2 := mergeSetSlices(r.defLocals[succ], locs)
	changed = c1 || c2
	if changed {
		r.defOps[succ] = mergedOps
		r.defLocals[succ] = mergedLocs
		r.nextPCs.Set(uint(succ))
	}
	return nil
}

func mergeSetSlices(stored, incoming []*bitset.BitSet) ([]*bitset.BitSet, bool) {
	changed := false
	merged := stored
	copied := false
	for i := range stored {
		a, b := stored[i], incoming[i]
		var m *bitset.BitSet
		switch {
		case b == nil || a == b:
			continue
		case a == nil:
			m = b
		default:
			if b.Difference(a).None() {
				continue
			}
			m = a.Union(b)
		}
		if !copied {
			merged = append([]*bitset.BitSet(nil), stored...)
			copied = true
		}
		merged[i] = m
		changed = true
	}
	return merged, changed
}

// resolveRetTarget drains one pending subroutine return: the unique ret
// dominating the return target is located through the recorded
// predecessors, and its state is propagated to the pc after the jsr.
// Subroutines that never execute a ret (all paths throw or return) are
// discarded without propagation.
func (r *defUseRecorder) resolveRetTarget(p retTarget) error {
	retPC := -1
	for _, pred := range r.res.CFG.Predecessors(p.returnPC) {
		instr := r.code.InstructionAt(pred)
		if instr != nil && instr.Op == bytecode.Ret {
			if retPC >= 0 && retPC != pred {
				return internalError(SubroutineStateFail, p.returnPC, r.dump(p.returnPC))
			}
			retPC = pred
		}
	}
	if retPC < 0 || r.defOps[retPC] == nil {
		// The subroutine never returns normally.
		return nil
	}
	return r.propagate(p.returnPC, r.defOps[retPC], r.defLocals[retPC])
}

// dump renders the recorder state around pc for attachment to fatal errors.
func (r *defUseRecorder) dump(pc int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "def/use state at pc %d:\n", pc)
	if pc >= 0 && pc < len(r.defOps) {
		fmt.Fprintf(&b, "  stack:  %s\n", formatSetSlice(r.DefUse, r.defOps[pc]))
		fmt.Fprintf(&b, "  locals: %s\n", formatSetSlice(r.DefUse, r.defLocals[pc]))
	}
	fmt.Fprintf(&b, "  pending subroutine returns: %v\n", r.retTargets)
	return b.String()
}

func formatSetSlice(d *DefUse, sets []*bitset.BitSet) string {
	if sets == nil {
		return "<none>"
	}
	parts := make([]string, len(sets))
	for i, s := range sets {
		if s == nil {
			parts[i] = "·"
		} else {
			parts[i] = fmt.Sprintf("%v", d.setToOrigins(s))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
