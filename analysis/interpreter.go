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
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/willf/bitset"
	"gopkg.in/karalabe/cookiejar.v2/collections/prque"

	"github.com/practical-formal-methods/crow/bytecode"
	"github.com/practical-formal-methods/crow/hierarchy"
)

// Parameter describes one method parameter for seeding the initial locals.
type Parameter struct {
	Reference bool
	Type      *hierarchy.Type
	Null      hierarchy.Answer
	Precise   bool
	Prim      PrimKind
}

// RefParameter builds a reference parameter descriptor.
func RefParameter(t *hierarchy.Type, null hierarchy.Answer, precise bool) Parameter {
	return Parameter{Reference: true, Type: t, Null: null, Precise: precise}
}

// PrimParameter builds a primitive parameter descriptor.
func PrimParameter(kind PrimKind) Parameter {
	return Parameter{Prim: kind}
}

// StepListener observes the pc of every worklist step. Listeners may set the
// interrupt flag; they must not touch interpreter state.
type StepListener func(pc int)

// Result is what one interpretation produces: the per-pc state snapshots
// (nil marks unreachable pcs), the recorded CFG, whether the run was aborted
// by the interrupt flag, and the def/use tables when a recorder was
// attached.
type Result struct {
	Code       *bytecode.Code
	OperandsAt [][]Value
	LocalsAt   [][]Value
	CFG        *CFG
	Aborted    bool
	DefUse     *DefUse
}

// Reached reports whether interpretation ever reached pc.
func (r *Result) Reached(pc int) bool {
	return pc >= 0 && pc < len(r.OperandsAt) && r.OperandsAt[pc] != nil
}

// Interpreter drives the abstract interpretation of one method to a
// fixpoint. An Interpreter is single-use and must not be shared across
// goroutines, except for Interrupt, which may be called from anywhere.
type Interpreter struct {
	code *bytecode.Code
	ctx  *context

	operands [][]Value
	locals   [][]Value

	worklist  *prque.Prque
	scheduled *bitset.BitSet
	joinPCs   *bitset.BitSet
	cfg       *CFG

	interrupted  int32
	listeners    []StepListener
	recordDefUse bool
	log          log.Logger
}

func NewInterpreter(h *hierarchy.ClassHierarchy, code *bytecode.Code) *Interpreter {
	n := code.Len()
	return &Interpreter{
		code:      code,
		ctx:       newContext(h),
		operands:  make([][]Value, n),
		locals:    make([][]Value, n),
		worklist:  prque.New(),
		scheduled: bitset.New(uint(n)),
		joinPCs:   bitset.New(uint(n)),
		cfg:       newCFG(n),
		log:       log.New("pkg", "analysis"),
	}
}

// AttachDefUse attaches the def/use recorder; its tables are computed as a
// post-pass on normal completion and exposed through the Result.
func (in *Interpreter) AttachDefUse() {
	in.recordDefUse = true
}

// AddStepListener registers a listener invoked at the top of every step.
func (in *Interpreter) AddStepListener(l StepListener) {
	in.listeners = append(in.listeners, l)
}

// Interrupt requests a prompt, cooperative termination. It is safe to call
// from another goroutine; the flag is checked at the top of every step.
func (in *Interpreter) Interrupt() {
	atomic.StoreInt32(&in.interrupted, 1)
}

func (in *Interpreter) isInterrupted() bool {
	return atomic.LoadInt32(&in.interrupted) != 0
}

// Interpret runs the fixpoint loop until the worklist is empty or the
// interrupt flag is set. Fatal internal errors (malformed input) are
// returned as *InternalError; incomplete-information outcomes are not
// errors and end up in the result's values.
func (in *Interpreter) Interpret(params []Parameter) (*Result, error) {
	locs, err := in.parameterLocals(params)
	if err != nil {
		return nil, err
	}
	in.operands[0] = make([]Value, 0)
	in.locals[0] = locs
	in.computeJoinPCs()
	in.schedule(0)

	aborted := false
	for in.worklist.Size() > 0 {
		if in.isInterrupted() {
			aborted = true
			break
		}
		pc := in.worklist.PopItem().(int)
		in.scheduled.Clear(uint(pc))
		for _, l := range in.listeners {
			l(pc)
		}
		if err := in.step(pc); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Code:       in.code,
		OperandsAt: in.operands,
		LocalsAt:   in.locals,
		CFG:        in.cfg,
		Aborted:    aborted,
	}
	if !aborted && in.recordDefUse {
		du, err := computeDefUse(res)
		if err != nil {
			return nil, err
		}
		res.DefUse = du
	}
	return res, nil
}

func (in *Interpreter) step(pc int) error {
	ops, locs := in.operands[pc], in.locals[pc]
	if ops == nil || locs == nil {
		return internalError(MissingStateFail, pc, in.dumpState(pc))
	}
	instr := in.code.InstructionAt(pc)
	if instr == nil {
		return internalError(MissingInstructionFail, pc, in.dumpState(pc))
	}
	exec := transferTable[instr.Op]
	if exec == nil {
		return internalError(UnknownOpcodeFail, pc, in.dumpState(pc))
	}
	// Values minted while interpreting this pc reproduce the handles of the
	// previous pass over it.
	in.ctx.refs.atPC(pc)
	env := execEnv{ctx: in.ctx, in: in, pc: pc, instr: instr, ops: ops, locs: locs}
	edges, err := exec(env)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if _, err := in.propagate(pc, e); err != nil {
			return err
		}
	}
	return nil
}

// propagate merges one outgoing edge's state into its target, decides
// whether the target needs (re)interpretation, and reports the severity of
// the change.
func (in *Interpreter) propagate(from int, e flowEdge) (UpdateType, error) {
	t := e.target
	if t < 0 || t >= in.code.Len() {
		return NoUpdate, internalError(MissingInstructionFail, from,
			fmt.Sprintf("edge target %d outside the method", t))
	}
	in.cfg.addEdge(from, t, e.exceptional)

	if in.operands[t] == nil || !in.joinPCs.Test(uint(t)) {
		in.operands[t] = e.ops
		in.locals[t] = e.locs
		in.schedule(t)
		return StructuralUpdate, nil
	}

	if len(in.operands[t]) != len(e.ops) {
		return NoUpdate, internalError(InvalidStackFail, t, in.dumpState(t))
	}
	mergedOps, uOps := joinValueSlices(in.ctx, t, in.operands[t], e.ops)
	mergedLocs, uLocs := joinValueSlices(in.ctx, t, in.locals[t], e.locs)
	u := uOps.Max(uLocs)
	if u == NoUpdate {
		return u, nil
	}
	if u == MetaInformationUpdate &&
		correlationChanged(in.operands[t], in.locals[t], mergedOps, mergedLocs) {
		// A broken alias pair invalidates per-alias-class constraints even
		// though every slot's own join looked unchanged.
		in.log.Debug("correlation between slots broke, forcing re-interpretation", "pc", t)
		u = StructuralUpdate
	}
	in.operands[t] = mergedOps
	in.locals[t] = mergedLocs
	in.schedule(t)
	return u, nil
}

func (in *Interpreter) schedule(pc int) {
	if in.scheduled.Test(uint(pc)) {
		return
	}
	in.scheduled.Set(uint(pc))
	// Lowest pc first keeps interpretation roughly in code order.
	in.worklist.Push(pc, -float32(pc))
}

// joinValueSlices joins two snapshots slot by slot, reusing the stored slice
// when nothing changed and propagating the maximum update severity.
func joinValueSlices(ctx *context, pc int, stored, incoming []Value) ([]Value, UpdateType) {
	u := NoUpdate
	merged := stored
	copied := false
	for i := range stored {
		v, uv := joinValues(ctx, pc, stored[i], incoming[i])
		if uv == NoUpdate {
			continue
		}
		if !copied {
			merged = append([]Value(nil), stored...)
			copied = true
		}
		merged[i] = v
		u = u.Max(uv)
	}
	return merged, u
}

// computeJoinPCs marks control-flow join points: pcs with two or more static
// predecessors (regular or exceptional) and targets of backward edges.
func (in *Interpreter) computeJoinPCs() {
	n := in.code.Len()
	predCount := make([]int, n)
	mark := func(from, to int) {
		if to < 0 || to >= n {
			return
		}
		predCount[to]++
		if to <= from {
			in.joinPCs.Set(uint(to))
		}
	}
	for pc := 0; pc < n; pc++ {
		instr := in.code.InstructionAt(pc)
		if instr == nil {
			continue
		}
		for _, s := range instr.StaticSuccessors(pc) {
			mark(pc, s)
		}
		if instr.Op == bytecode.JSR {
			// The matching ret eventually continues after the jsr.
			mark(pc, instr.NextPC(pc))
		}
		if instr.Op == bytecode.Ret {
			// Dynamic successors exist; treated conservatively by the jsr
			// marking above.
			continue
		}
		if mayRaise(instr) {
			for _, h := range in.code.HandlersFor(pc) {
				mark(pc, h.HandlerPC)
			}
		}
	}
	for pc, c := range predCount {
		if c >= 2 {
			in.joinPCs.Set(uint(pc))
		}
	}
}

func (in *Interpreter) parameterLocals(params []Parameter) ([]Value, error) {
	locs := make([]Value, in.code.MaxLocals)
	for i := range locs {
		locs[i] = theIllegalValue
	}
	slot := 0
	for _, p := range params {
		var v Value
		if p.Reference {
			v = in.ctx.newObject(ParameterOrigin(slot), p.Type, p.Null, p.Precise)
		} else {
			v = in.ctx.newPrimitive(ParameterOrigin(slot), p.Prim)
		}
		if slot+v.Category() > len(locs) {
			return nil, internalError(InvalidLocalFail, 0,
				fmt.Sprintf("parameters need %d+ slots, max_locals is %d", slot+v.Category(), len(locs)))
		}
		locs[slot] = v
		slot += v.Category()
	}
	return locs, nil
}
