package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Ensure every defined opcode has metadata
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
		if info.MinOperands() < 0 {
			t.Errorf("%s: more optional slots than slots", info.Name)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpPush, "PUSH"},
		{OpLoad, "LOAD"},
		{OpStore, "STORE"},
		{OpDiv, "DIV"},
		{OpJz, "JZ"},
		{OpBind, "BIND"},
		{OpFlush, "FLUSH"},
		{OpLog, "LOG"},
		{OpErr, "ERR"},
		{OpHalt, "HALT"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE) // Not defined
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.Known() {
		t.Error("0xEE should not be known")
	}
}

func TestLookup(t *testing.T) {
	for _, op := range AllOpcodes() {
		got, ok := Lookup(strings.ToLower(op.String()))
		if !ok || got != op {
			t.Errorf("Lookup(%q) = %v, %v", strings.ToLower(op.String()), got, ok)
		}
	}
	if _, ok := Lookup("FROB"); ok {
		t.Error("Lookup(FROB) should fail")
	}
}

func TestOpcodeCategories(t *testing.T) {
	for _, op := range []Opcode{OpAdd, OpSub, OpMul, OpDiv} {
		if !op.IsArithmetic() {
			t.Errorf("%s should be arithmetic", op)
		}
	}
	for _, op := range []Opcode{OpJmp, OpJz, OpCall} {
		if !op.IsJump() {
			t.Errorf("%s should be a jump", op)
		}
	}
	if OpRet.IsJump() || OpLoad.IsArithmetic() {
		t.Error("RET is not a jump and LOAD is not arithmetic")
	}
}

func TestAllOpcodesSorted(t *testing.T) {
	ops := AllOpcodes()
	if len(ops) != OpcodeCount() {
		t.Fatalf("AllOpcodes() has %d entries, OpcodeCount() = %d", len(ops), OpcodeCount())
	}
	for i := 1; i < len(ops); i++ {
		if ops[i-1] >= ops[i] {
			t.Errorf("opcodes out of order at %d: %s >= %s", i, ops[i-1], ops[i])
		}
	}
}
