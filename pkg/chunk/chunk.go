package chunk

import (
	"fmt"
	"strings"

	"github.com/dragonvm/dragon/pkg/value"
)

// Chunk is a function's compiled body: a byte-packed instruction
// stream, a constant pool, and a run-length line table.
//
// Constant references in the instruction stream are ULEB128-encoded;
// jump offsets are big-endian 16-bit; local/upvalue slot indices and
// argument counts are single bytes. See Write* helpers below.
type Chunk struct {
	Code      []byte
	Constants []value.Value
	lines     []linePair
}

type linePair struct {
	firstOffset int
	line        int
}

// NewChunk returns an empty chunk.
func NewChunk() *Chunk {
	return &Chunk{}
}

// WriteByte appends a raw byte at the given source line, updating the
// run-length line table only when the line differs from the last
// recorded one.
func (c *Chunk) WriteByte(b byte, line int) int {
	offset := len(c.Code)
	c.Code = append(c.Code, b)
	if len(c.lines) == 0 || c.lines[len(c.lines)-1].line != line {
		c.lines = append(c.lines, linePair{firstOffset: offset, line: line})
	}
	return offset
}

// WriteOp appends an opcode byte.
func (c *Chunk) WriteOp(op Op, line int) int {
	return c.WriteByte(byte(op), line)
}

// WriteU16 appends a big-endian 16-bit operand (jump offsets).
func (c *Chunk) WriteU16(v uint16, line int) {
	c.WriteByte(byte(v>>8), line)
	c.WriteByte(byte(v), line)
}

// WriteULEB128 appends a ULEB128-encoded operand (constant indices).
func (c *Chunk) WriteULEB128(v uint, line int) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		c.WriteByte(b, line)
		if v == 0 {
			return
		}
	}
}

// ReadULEB128 decodes a ULEB128 value starting at offset, returning the
// value and the number of bytes consumed.
func ReadULEB128(code []byte, offset int) (uint, int) {
	var result uint
	var shift uint
	n := 0
	for {
		b := code[offset+n]
		n++
		result |= uint(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, n
}

// AppendRaw copies a previously-emitted byte range verbatim onto the
// end of the chunk, recording every copied byte at line. Internal jump
// offsets inside the range stay correct because they are relative, not
// absolute — this is how the compiler duplicates a finally block's
// bytecode for both its normal and exceptional exit paths without
// re-parsing its source tokens.
func (c *Chunk) AppendRaw(code []byte, line int) int {
	start := len(c.Code)
	for _, b := range code {
		c.WriteByte(b, line)
	}
	return start
}

// TruncateTo discards every byte (and line-table entry) recorded at or
// past offset. Used to pull a just-compiled block's bytecode back out
// of the stream after capturing a copy of it, so it can be replayed at
// the several exit points that need it instead of left behind once.
func (c *Chunk) TruncateTo(offset int) {
	c.Code = c.Code[:offset]
	for i, p := range c.lines {
		if p.firstOffset >= offset {
			c.lines = c.lines[:i]
			break
		}
	}
}

// AddConstant appends value to the constant pool and returns its index.
func (c *Chunk) AddConstant(v value.Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// LineFor returns the source line responsible for the instruction at
// offset, linear-scanning the run-length pairs as spec.md §4.2
// describes.
func (c *Chunk) LineFor(offset int) int {
	if len(c.lines) == 0 {
		return 0
	}
	result := c.lines[0].line
	for _, p := range c.lines {
		if p.firstOffset > offset {
			break
		}
		result = p.line
	}
	return result
}

// PatchU16 overwrites the 16-bit operand at offset (used to back-patch
// a forward jump once its target is known).
func (c *Chunk) PatchU16(offset int, v uint16) {
	c.Code[offset] = byte(v >> 8)
	c.Code[offset+1] = byte(v)
}

// Disassemble renders a full human-readable listing of the chunk,
// implementing the value.Chunk interface so *Function can carry a
// Chunk without pkg/value importing this package.
func (c *Chunk) Disassemble(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)
	offset := 0
	for offset < len(c.Code) {
		offset = c.disassembleInstruction(&b, offset)
	}
	return b.String()
}

func (c *Chunk) disassembleInstruction(b *strings.Builder, offset int) int {
	op := Op(c.Code[offset])
	line := c.LineFor(offset)
	fmt.Fprintf(b, "%04d %4d %-16s", offset, line, op)
	next := offset + 1
	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal, OpClass, OpMethod,
		OpGetProperty, OpSetProperty, OpSetPropertyKV, OpGetSuper, OpImport, OpExport:
		idx, n := ReadULEB128(c.Code, next)
		fmt.Fprintf(b, " %d (%#v)", idx, c.Constants[idx])
		next += n
	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall, OpList:
		fmt.Fprintf(b, " %d", c.Code[next])
		next++
	case OpJump, OpLoop, OpJumpIfFalse, OpJumpIfFalseSC, OpTryBegin:
		off := uint16(c.Code[next])<<8 | uint16(c.Code[next+1])
		fmt.Fprintf(b, " -> %d", int(offset)+3+int(off)*sign(op))
		next += 2
	case OpInvoke, OpSuperInvoke:
		idx, n := ReadULEB128(c.Code, next)
		next += n
		argc := c.Code[next]
		next++
		fmt.Fprintf(b, " %v (%d args)", c.Constants[idx], argc)
	case OpClosure:
		idx, n := ReadULEB128(c.Code, next)
		next += n
		fmt.Fprintf(b, " %v", c.Constants[idx])
		if fn, ok := c.Constants[idx].Obj.(*value.Function); ok {
			next += 2 * fn.UpvalueCnt
		}
	}
	fmt.Fprintln(b)
	return next
}

func sign(op Op) int {
	if op == OpLoop {
		return -1
	}
	return 1
}
