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

// Opcode identifies an instruction kind, using the standard JVM numbering.
type Opcode uint8

const (
	Nop        Opcode = 0
	AConstNull Opcode = 1
	IConstM1   Opcode = 2
	IConst0    Opcode = 3
	IConst1    Opcode = 4
	IConst2    Opcode = 5
	IConst3    Opcode = 6
	IConst4    Opcode = 7
	IConst5    Opcode = 8
	LConst0    Opcode = 9
	LConst1    Opcode = 10
	BIPush     Opcode = 16

	ILoad Opcode = 21
	LLoad Opcode = 22
	ALoad Opcode = 25

	IALoad Opcode = 46
	AALoad Opcode = 50

	IStore Opcode = 54
	LStore Opcode = 55
	AStore Opcode = 58

	IAStore Opcode = 79
	AAStore Opcode = 83

	Pop  Opcode = 87
	Dup  Opcode = 89
	Swap Opcode = 95

	IAdd Opcode = 96
	ISub Opcode = 100

	IfICmpEq Opcode = 159
	IfICmpNe Opcode = 160
	Goto     Opcode = 167
	JSR      Opcode = 168
	Ret      Opcode = 169

	LookupSwitch Opcode = 171

	IReturn Opcode = 172
	AReturn Opcode = 176
	Return  Opcode = 177

	GetField Opcode = 180
	PutField Opcode = 181

	InvokeVirtual Opcode = 182
	InvokeSpecial Opcode = 183
	InvokeStatic  Opcode = 184

	New         Opcode = 187
	NewArray    Opcode = 188
	ANewArray   Opcode = 189
	ArrayLength Opcode = 190
	AThrow      Opcode = 191
	CheckCast   Opcode = 192
	InstanceOf  Opcode = 193

	MonitorEnter Opcode = 194
	MonitorExit  Opcode = 195

	IfNull    Opcode = 198
	IfNonNull Opcode = 199
)

// opInfo is the static per-opcode metadata: mnemonic and encoded size in
// bytes (the pc of the next instruction is pc + size). Variable-size
// instructions (lookupswitch) report size 0 here and are computed per
// instruction.
type opInfo struct {
	mnemonic string
	size     int
}

var opTable = map[Opcode]opInfo{
	Nop:          {"nop", 1},
	AConstNull:   {"aconst_null", 1},
	IConstM1:     {"iconst_m1", 1},
	IConst0:      {"iconst_0", 1},
	IConst1:      {"iconst_1", 1},
	IConst2:      {"iconst_2", 1},
	IConst3:      {"iconst_3", 1},
	IConst4:      {"iconst_4", 1},
	IConst5:      {"iconst_5", 1},
	LConst0:      {"lconst_0", 1},
	LConst1:      {"lconst_1", 1},
	BIPush:       {"bipush", 2},
	ILoad:        {"iload", 2},
	LLoad:        {"lload", 2},
	ALoad:        {"aload", 2},
	IALoad:       {"iaload", 1},
	AALoad:       {"aaload", 1},
	IStore:       {"istore", 2},
	LStore:       {"lstore", 2},
	AStore:       {"astore", 2},
	IAStore:      {"iastore", 1},
	AAStore:      {"aastore", 1},
	Pop:          {"pop", 1},
	Dup:          {"dup", 1},
	Swap:         {"swap", 1},
	IAdd:         {"iadd", 1},
	ISub:         {"isub", 1},
	IfICmpEq:     {"if_icmpeq", 3},
	IfICmpNe:     {"if_icmpne", 3},
	Goto:         {"goto", 3},
	JSR:          {"jsr", 3},
	Ret:          {"ret", 2},
	LookupSwitch: {"lookupswitch", 0},
	IReturn:      {"ireturn", 1},
	AReturn:      {"areturn", 1},
	Return:       {"return", 1},
	GetField:     {"getfield", 3},
	PutField:     {"putfield", 3},
	InvokeVirtual: {"invokevirtual", 3},
	InvokeSpecial: {"invokespecial", 3},
	InvokeStatic:  {"invokestatic", 3},
	New:          {"new", 3},
	NewArray:     {"newarray", 2},
	ANewArray:    {"anewarray", 3},
	ArrayLength:  {"arraylength", 1},
	AThrow:       {"athrow", 1},
	CheckCast:    {"checkcast", 3},
	InstanceOf:   {"instanceof", 3},
	MonitorEnter: {"monitorenter", 1},
	MonitorExit:  {"monitorexit", 1},
	IfNull:       {"ifnull", 3},
	IfNonNull:    {"ifnonnull", 3},
}

// Known reports whether the opcode is part of the supported instruction set.
func (op Opcode) Known() bool {
	_, ok := opTable[op]
	return ok
}

// Mnemonic returns the JVM assembler name of the opcode.
func (op Opcode) Mnemonic() string {
	if info, ok := opTable[op]; ok {
		return info.mnemonic
	}
	return "unknown"
}

// ByMnemonic resolves an assembler name back to its opcode.
func ByMnemonic(name string) (Opcode, bool) {
	for op, info := range opTable {
		if info.mnemonic == name {
			return op, true
		}
	}
	return 0, false
}
