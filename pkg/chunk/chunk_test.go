package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragonvm/dragon/pkg/value"
)

func TestWriteULEB128RoundTrips(t *testing.T) {
	for _, v := range []uint{0, 1, 127, 128, 300, 1 << 20} {
		c := NewChunk()
		c.WriteULEB128(v, 1)
		got, n := ReadULEB128(c.Code, 0)
		assert.Equal(t, v, got)
		assert.Equal(t, len(c.Code), n)
	}
}

func TestLineForRunLength(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpTrue, 1)
	c.WriteOp(OpTrue, 1)
	c.WriteOp(OpFalse, 2)
	assert.Equal(t, 1, c.LineFor(0))
	assert.Equal(t, 1, c.LineFor(1))
	assert.Equal(t, 2, c.LineFor(2))
}

func TestPatchU16BackpatchesForwardJump(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpJump, 1)
	at := len(c.Code)
	c.WriteU16(0xFFFF, 1)
	c.PatchU16(at, 42)
	assert.Equal(t, byte(0), c.Code[at])
	assert.Equal(t, byte(42), c.Code[at+1])
}

func TestTruncateToDiscardsTrailingCodeAndLines(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpTrue, 1)
	mark := len(c.Code)
	c.WriteOp(OpFalse, 2)
	c.TruncateTo(mark)
	assert.Equal(t, mark, len(c.Code))
	assert.Equal(t, 1, c.LineFor(0))
}

func TestAppendRawCopiesBytesVerbatim(t *testing.T) {
	src := NewChunk()
	src.WriteOp(OpTrue, 1)
	src.WriteOp(OpFalse, 1)
	captured := append([]byte(nil), src.Code...)

	dst := NewChunk()
	dst.WriteOp(OpNull, 1)
	start := dst.AppendRaw(captured, 5)
	assert.Equal(t, captured, dst.Code[start:])
	assert.Equal(t, 5, dst.LineFor(start))
}

// TestDisassembleULEBOperandOpcodesDoNotDesync builds a tiny chunk for
// every opcode that carries a ULEB128 name/constant operand and confirms
// the disassembler decodes it as exactly one instruction, rather than
// drifting from decoding the wrong number of operand bytes.
func TestDisassembleULEBOperandOpcodesDoNotDesync(t *testing.T) {
	ulebOps := []Op{
		OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpClass, OpMethod, OpGetProperty, OpSetProperty,
		OpSetPropertyKV, OpGetSuper, OpImport, OpExport,
	}
	for _, op := range ulebOps {
		c := NewChunk()
		c.WriteOp(op, 1)
		c.WriteULEB128(0, 1)
		c.AddConstant(value.Obj_(&value.String{Bytes: "name"}))

		dis := c.Disassemble("test")
		require.Contains(t, dis, op.String(), "opcode %s should appear in its own disassembly", op)
		require.NotContains(t, dis, "UNKNOWN")
		require.Equal(t, 2, strings.Count(dis, "\n"), "%s should decode as exactly one instruction", op)
	}
}

func TestDisassembleSingleByteOperandOpcodes(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpGetLocal, 1)
	c.WriteByte(3, 1)
	c.WriteOp(OpCall, 1)
	c.WriteByte(2, 1)

	dis := c.Disassemble("test")
	assert.Contains(t, dis, "GET_LOCAL")
	assert.Contains(t, dis, "CALL")
}

func TestDisassembleJumpShowsTarget(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpJump, 1)
	c.WriteU16(2, 1)
	c.WriteOp(OpTrue, 1)

	dis := c.Disassemble("test")
	assert.Contains(t, dis, "JUMP")
	assert.Contains(t, dis, "-> 5")
}

func TestOpStringUnknownForOutOfRange(t *testing.T) {
	assert.Equal(t, "UNKNOWN", Op(255).String())
}
