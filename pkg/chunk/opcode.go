// Package chunk defines a compiled function's bytecode body: the
// instruction stream, its constant pool, and the run-length line table
// used to map an instruction offset back to a source line for stack
// traces.
//
// Dragon's compiler (pkg/compiler) is a single-pass Pratt parser that
// emits directly into a Chunk — there is no intermediate AST. The
// execution engine (pkg/vm) only ever sees a Chunk's raw bytes.
package chunk

// Op is a single bytecode instruction opcode. Opcodes are one byte so
// they decode with a simple array index.
type Op byte

// Canonical opcode set, matching spec.md §4.5 exactly.
const (
	// Constants/literals
	OpConstant Op = iota
	OpNull
	OpTrue
	OpFalse
	OpObject
	OpList
	OpRange

	// Variables
	OpGetGlobal
	OpDefineGlobal
	OpSetGlobal
	OpGetLocal
	OpSetLocal
	OpGetUpvalue
	OpSetUpvalue
	OpCloseUpvalue

	// Objects/properties
	OpGetProperty
	OpSetProperty
	OpSetPropertyKV
	OpGetIndex
	OpSetIndex
	OpGetSuper

	// Stack
	OpDup
	OpDupX2
	OpSwap
	OpPop

	// Arithmetic/bitwise
	OpNot
	OpNegate
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitNot
	OpAnd
	OpOr
	OpXor
	OpLsh
	OpAsh
	OpRsh

	// Comparison
	OpEqual
	OpNotEqual
	OpIs
	OpGreater
	OpGreaterEq
	OpLess
	OpLessEq
	OpIn
	OpInstanceof
	OpTypeof

	// Control
	OpJump
	OpLoop
	OpJumpIfFalse
	OpJumpIfFalseSC

	// Calls
	OpCall
	OpClosure
	OpClass
	OpInherit
	OpMethod
	OpInvoke
	OpSuperInvoke
	OpReturn

	// Exceptions/modules
	OpThrow
	OpTryBegin
	OpTryEnd
	OpImport
	OpExport
)

var opNames = [...]string{
	OpConstant:      "CONSTANT",
	OpNull:          "NULL",
	OpTrue:          "TRUE",
	OpFalse:         "FALSE",
	OpObject:        "OBJECT",
	OpList:          "LIST",
	OpRange:         "RANGE",
	OpGetGlobal:     "GET_GLOBAL",
	OpDefineGlobal:  "DEFINE_GLOBAL",
	OpSetGlobal:     "SET_GLOBAL",
	OpGetLocal:      "GET_LOCAL",
	OpSetLocal:      "SET_LOCAL",
	OpGetUpvalue:    "GET_UPVALUE",
	OpSetUpvalue:    "SET_UPVALUE",
	OpCloseUpvalue:  "CLOSE_UPVALUE",
	OpGetProperty:   "GET_PROPERTY",
	OpSetProperty:   "SET_PROPERTY",
	OpSetPropertyKV: "SET_PROPERTY_KV",
	OpGetIndex:      "GET_INDEX",
	OpSetIndex:      "SET_INDEX",
	OpGetSuper:      "GET_SUPER",
	OpDup:           "DUP",
	OpDupX2:         "DUP_X2",
	OpSwap:          "SWAP",
	OpPop:           "POP",
	OpNot:           "NOT",
	OpNegate:        "NEGATE",
	OpAdd:           "ADD",
	OpSub:           "SUB",
	OpMul:           "MUL",
	OpDiv:           "DIV",
	OpMod:           "MOD",
	OpBitNot:        "BIT_NOT",
	OpAnd:           "AND",
	OpOr:            "OR",
	OpXor:           "XOR",
	OpLsh:           "LSH",
	OpAsh:           "ASH",
	OpRsh:           "RSH",
	OpEqual:         "EQUAL",
	OpNotEqual:      "NOT_EQUAL",
	OpIs:            "IS",
	OpGreater:       "GREATER",
	OpGreaterEq:     "GREATER_EQ",
	OpLess:          "LESS",
	OpLessEq:        "LESS_EQ",
	OpIn:            "IN",
	OpInstanceof:    "INSTANCEOF",
	OpTypeof:        "TYPEOF",
	OpJump:          "JUMP",
	OpLoop:          "LOOP",
	OpJumpIfFalse:   "JUMP_IF_FALSE",
	OpJumpIfFalseSC: "JUMP_IF_FALSE_SC",
	OpCall:          "CALL",
	OpClosure:       "CLOSURE",
	OpClass:         "CLASS",
	OpInherit:       "INHERIT",
	OpMethod:        "METHOD",
	OpInvoke:        "INVOKE",
	OpSuperInvoke:   "SUPER_INVOKE",
	OpReturn:        "RETURN",
	OpThrow:         "THROW",
	OpTryBegin:      "TRY_BEGIN",
	OpTryEnd:        "TRY_END",
	OpImport:        "IMPORT",
	OpExport:        "EXPORT",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "UNKNOWN"
}
