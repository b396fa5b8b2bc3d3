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

// Crow interprets one method abstractly and prints the per-pc fixpoint
// together with the def/use tables. Scenarios are JSON files holding the
// type declarations, an assembler-style method body, and the parameter
// seeds; see testdata/ for examples.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/practical-formal-methods/crow/analysis"
	"github.com/practical-formal-methods/crow/bytecode"
	"github.com/practical-formal-methods/crow/hierarchy"
)

var (
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=crit .. 5=trace)",
		Value: int(log.LvlWarn),
	}
	dotFlag = cli.BoolFlag{
		Name:  "dot",
		Usage: "emit the def/use relation as a graphviz digraph",
	}
	noDefUseFlag = cli.BoolFlag{
		Name:  "nodefuse",
		Usage: "skip the def/use post-pass",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "crow"
	app.Usage = "abstractly interpret a method scenario to its fixpoint"
	app.ArgsUsage = "<scenario.json>"
	app.Flags = []cli.Flag{verbosityFlag, dotFlag, noDefUseFlag}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log.Root().SetHandler(log.LvlFilterHandler(
		log.Lvl(ctx.Int(verbosityFlag.Name)),
		log.StreamHandler(os.Stderr, log.TerminalFormat(false))))

	if ctx.NArg() != 1 {
		return cli.NewExitError("expected exactly one scenario file", 1)
	}
	sc, err := loadScenario(ctx.Args().First())
	if err != nil {
		return err
	}

	store := hierarchy.NewTypeStore()
	h := hierarchy.New(store, append(hierarchy.BootstrapDeclarations(), sc.declarations()...))

	code, err := sc.Method.assemble(store)
	if err != nil {
		return fmt.Errorf("assembling method: %v", err)
	}
	params, err := sc.Method.parameters(store)
	if err != nil {
		return err
	}

	in := analysis.NewInterpreter(h, code)
	if !ctx.Bool(noDefUseFlag.Name) {
		in.AttachDefUse()
	}
	res, err := in.Interpret(params)
	if err != nil {
		return fmt.Errorf("interpretation failed: %v", err)
	}

	if ctx.Bool(dotFlag.Name) {
		fmt.Print(res.DefUseDot())
		return nil
	}
	fmt.Print(res.Dump())
	return nil
}

// scenario is the JSON input format.
type scenario struct {
	Types  []typeDecl `json:"types"`
	Method method     `json:"method"`
}

type typeDecl struct {
	Name       string   `json:"name"`
	Interface  bool     `json:"interface"`
	Final      bool     `json:"final"`
	Super      string   `json:"super"`
	Interfaces []string `json:"interfaces"`
}

type method struct {
	MaxLocals    int           `json:"maxLocals"`
	Params       []param       `json:"params"`
	Instructions []instruction `json:"instructions"`
	Handlers     []handler     `json:"handlers"`
}

type param struct {
	Ref     string `json:"ref"`  // reference parameter: upper-bound type name
	Null    string `json:"null"` // yes / no / unknown (default unknown)
	Precise bool   `json:"precise"`
	Prim    string `json:"prim"` // primitive parameter: int / float / long / double
}

type instruction struct {
	Label   string   `json:"label"` // optional mark placed before the instruction
	Op      string   `json:"op"`
	Index   int      `json:"index"`
	Value   int32    `json:"value"`
	Target  string   `json:"target"`
	Targets []string `json:"targets"`
	Default string   `json:"default"`
	Type    string   `json:"type"`
	Method  *struct {
		Name string `json:"name"`
		Pops int    `json:"pops"`
		Kind string `json:"kind"`
		Ref  string `json:"ref"`
	} `json:"method"`
	Field *struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
		Ref  string `json:"ref"`
	} `json:"field"`
}

type handler struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Handler string `json:"handler"`
	Catch   string `json:"catch"` // empty = catch-all
}

func loadScenario(path string) (*scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sc scenario
	if err := json.NewDecoder(f).Decode(&sc); err != nil {
		return nil, fmt.Errorf("decoding %s: %v", path, err)
	}
	return &sc, nil
}

func (sc *scenario) declarations() []hierarchy.TypeDeclaration {
	decls := make([]hierarchy.TypeDeclaration, len(sc.Types))
	for i, d := range sc.Types {
		super := d.Super
		if super == "" && !d.Interface {
			super = hierarchy.ObjectTypeName
		}
		decls[i] = hierarchy.TypeDeclaration{
			Name:       d.Name,
			Interface:  d.Interface,
			Final:      d.Final,
			Super:      super,
			Interfaces: d.Interfaces,
		}
	}
	return decls
}

func (m *method) assemble(store *hierarchy.TypeStore) (*bytecode.Code, error) {
	b := bytecode.NewBuilder(m.MaxLocals)
	for i, raw := range m.Instructions {
		if raw.Label != "" {
			b.Mark(raw.Label)
		}
		op, ok := bytecode.ByMnemonic(raw.Op)
		if !ok {
			return nil, fmt.Errorf("instruction %d: unknown mnemonic %q", i, raw.Op)
		}
		in := &bytecode.Instruction{
			Op:           op,
			Index:        raw.Index,
			Value:        raw.Value,
			TargetLabel:  raw.Target,
			TargetLabels: raw.Targets,
			DefaultLabel: raw.Default,
		}
		if raw.Type != "" {
			in.Type = typeNamed(store, raw.Type)
		}
		if raw.Method != nil {
			kind, err := resultKind(raw.Method.Kind)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %v", i, err)
			}
			in.Method = &bytecode.MethodRef{
				Name:    raw.Method.Name,
				Pops:    raw.Method.Pops,
				Kind:    kind,
				RefType: refTypeFor(store, kind, raw.Method.Ref),
			}
		}
		if raw.Field != nil {
			kind, err := resultKind(raw.Field.Kind)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %v", i, err)
			}
			in.Field = &bytecode.FieldRef{
				Name:    raw.Field.Name,
				Kind:    kind,
				RefType: refTypeFor(store, kind, raw.Field.Ref),
			}
		}
		b.Add(in)
	}
	for _, h := range m.Handlers {
		var catch *hierarchy.Type
		if h.Catch != "" {
			catch = store.Object(h.Catch)
		}
		b.Handler(h.Start, h.End, h.Handler, catch)
	}
	return b.Build()
}

func (m *method) parameters(store *hierarchy.TypeStore) ([]analysis.Parameter, error) {
	params := make([]analysis.Parameter, len(m.Params))
	for i, p := range m.Params {
		switch {
		case p.Ref != "" && p.Prim != "":
			return nil, fmt.Errorf("parameter %d: both ref and prim given", i)
		case p.Ref != "":
			null, err := answerNamed(p.Null)
			if err != nil {
				return nil, fmt.Errorf("parameter %d: %v", i, err)
			}
			params[i] = analysis.RefParameter(typeNamed(store, p.Ref), null, p.Precise)
		case p.Prim != "":
			kind, err := primKind(p.Prim)
			if err != nil {
				return nil, fmt.Errorf("parameter %d: %v", i, err)
			}
			params[i] = analysis.PrimParameter(kind)
		default:
			return nil, fmt.Errorf("parameter %d: neither ref nor prim given", i)
		}
	}
	return params, nil
}

// typeNamed resolves "T[]" suffixes and the primitive names to interned
// types; anything else is a class/interface name.
func typeNamed(store *hierarchy.TypeStore, name string) *hierarchy.Type {
	if n := len(name); n > 2 && name[n-2:] == "[]" {
		return store.ArrayOf(typeNamed(store, name[:n-2]))
	}
	switch name {
	case "int", "float", "long", "double", "byte", "char", "short", "boolean":
		return store.Base(name)
	}
	return store.Object(name)
}

func resultKind(name string) (bytecode.ResultKind, error) {
	switch name {
	case "", "void":
		return bytecode.VoidResult, nil
	case "int":
		return bytecode.IntResult, nil
	case "long":
		return bytecode.LongResult, nil
	case "float":
		return bytecode.FloatResult, nil
	case "double":
		return bytecode.DoubleResult, nil
	case "ref":
		return bytecode.RefResult, nil
	}
	return 0, fmt.Errorf("unknown result kind %q", name)
}

func refTypeFor(store *hierarchy.TypeStore, kind bytecode.ResultKind, name string) *hierarchy.Type {
	if kind != bytecode.RefResult {
		return nil
	}
	if name == "" {
		return store.Object(hierarchy.ObjectTypeName)
	}
	return typeNamed(store, name)
}

func answerNamed(name string) (hierarchy.Answer, error) {
	switch name {
	case "yes":
		return hierarchy.Yes, nil
	case "no":
		return hierarchy.No, nil
	case "", "unknown":
		return hierarchy.Unknown, nil
	}
	return hierarchy.Unknown, fmt.Errorf("unknown answer %q", name)
}

func primKind(name string) (analysis.PrimKind, error) {
	switch name {
	case "int", "byte", "char", "short", "boolean":
		return analysis.IntKind, nil
	case "float":
		return analysis.FloatKind, nil
	case "long":
		return analysis.LongKind, nil
	case "double":
		return analysis.DoubleKind, nil
	}
	return analysis.IntKind, fmt.Errorf("unknown primitive kind %q", name)
}
