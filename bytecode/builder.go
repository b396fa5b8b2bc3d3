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

package bytecode

import (
	"fmt"

	"github.com/practical-formal-methods/crow/hierarchy"
)

// Builder assembles an instruction list into a Code with a realistic pc
// layout. Branch targets can be given as labels bound with Mark and are
// resolved during Build.
type Builder struct {
	instrs []*Instruction
	pcs    []int
	next   int

	maxLocals int
	labels    map[string]int
	handlers  []pendingHandler
}

type pendingHandler struct {
	start, end, handler string
	catchType           *hierarchy.Type
}

func NewBuilder(maxLocals int) *Builder {
	return &Builder{
		maxLocals: maxLocals,
		labels:    map[string]int{},
	}
}

// Mark binds a label to the pc of the next added instruction.
func (b *Builder) Mark(label string) *Builder {
	b.labels[label] = b.next
	return b
}

// PC returns the pc the next instruction will be placed at.
func (b *Builder) PC() int {
	return b.next
}

// Add appends an instruction and returns its pc.
func (b *Builder) Add(in *Instruction) int {
	pc := b.next
	b.instrs = append(b.instrs, in)
	b.pcs = append(b.pcs, pc)
	b.next += in.Size()
	return pc
}

// Handler registers an exception handler over the label range
// [start, end) with the given handler label and caught type (nil = any).
func (b *Builder) Handler(start, end, handler string, catchType *hierarchy.Type) *Builder {
	b.handlers = append(b.handlers, pendingHandler{start, end, handler, catchType})
	return b
}

// Build resolves labels and produces the Code.
func (b *Builder) Build() (*Code, error) {
	resolve := func(label string) (int, error) {
		pc, ok := b.labels[label]
		if !ok {
			return 0, fmt.Errorf("undefined label %q", label)
		}
		return pc, nil
	}

	code := &Code{
		Instructions: make([]*Instruction, b.next),
		MaxLocals:    b.maxLocals,
	}
	for n, in := range b.instrs {
		if in.TargetLabel != "" {
			pc, err := resolve(in.TargetLabel)
			if err != nil {
				return nil, err
			}
			in.Target = pc
		}
		if len(in.TargetLabels) > 0 {
			in.Targets = make([]int, len(in.TargetLabels))
			for k, l := range in.TargetLabels {
				pc, err := resolve(l)
				if err != nil {
					return nil, err
				}
				in.Targets[k] = pc
			}
		}
		if in.DefaultLabel != "" {
			pc, err := resolve(in.DefaultLabel)
			if err != nil {
				return nil, err
			}
			in.Default = pc
		}
		code.Instructions[b.pcs[n]] = in
	}
	for _, ph := range b.handlers {
		start, err := resolve(ph.start)
		if err != nil {
			return nil, err
		}
		end, err := resolve(ph.end)
		if err != nil {
			return nil, err
		}
		handler, err := resolve(ph.handler)
		if err != nil {
			return nil, err
		}
		code.Handlers = append(code.Handlers, ExceptionHandler{
			StartPC:   start,
			EndPC:     end,
			HandlerPC: handler,
			CatchType: ph.catchType,
		})
	}
	return code, nil
}

// MustBuild is Build for code that is known to be well-formed (tests,
// bootstrap scenarios).
func (b *Builder) MustBuild() *Code {
	code, err := b.Build()
	if err != nil {
		panic(err)
	}
	return code
}
