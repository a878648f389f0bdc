package vm

import (
	"math"

	"github.com/dragonvm/dragon/pkg/chunk"
	"github.com/dragonvm/dragon/pkg/value"
)

// arith implements the binary arithmetic and bitwise opcodes. Numeric
// ops require both operands to be numbers; ADD additionally accepts a
// pair of strings (concatenation) or a pair of lists (concatenation),
// mirroring spec.md §4.5's overloads. Bitwise ops truncate through
// int64 the way the reference implementation does.
func (m *Machine) arith(op chunk.Op) bool {
	b := m.pop()
	a := m.pop()

	if op == chunk.OpAdd {
		if as, ok := a.Obj.(*value.String); ok && a.Kind == value.KindObject {
			bs, ok := b.Obj.(*value.String)
			if !ok {
				return m.typeError("cannot add %s and %s", value.TypeName(a), value.TypeName(b))
			}
			m.push(value.Obj_(m.intern(as.Bytes + bs.Bytes)))
			return true
		}
		if al, ok := a.Obj.(*value.List); ok && a.Kind == value.KindObject {
			bl, ok := b.Obj.(*value.List)
			if !ok {
				return m.typeError("cannot add %s and %s", value.TypeName(a), value.TypeName(b))
			}
			items := append(append([]value.Value(nil), al.Items...), bl.Items...)
			lst := &value.List{Items: items}
			m.track(lst)
			m.push(value.Obj_(lst))
			return true
		}
	}

	if a.Kind != value.KindNumber || b.Kind != value.KindNumber {
		return m.typeError("operands must be numbers")
	}

	switch op {
	case chunk.OpAdd:
		m.push(value.Number(a.Num + b.Num))
	case chunk.OpSub:
		m.push(value.Number(a.Num - b.Num))
	case chunk.OpMul:
		m.push(value.Number(a.Num * b.Num))
	case chunk.OpDiv:
		m.push(value.Number(a.Num / b.Num))
	case chunk.OpMod:
		m.push(value.Number(math.Mod(a.Num, b.Num)))
	case chunk.OpBitNot:
		m.push(value.Number(float64(^int64(a.Num))))
	case chunk.OpAnd:
		m.push(value.Number(float64(int64(a.Num) & int64(b.Num))))
	case chunk.OpOr:
		m.push(value.Number(float64(int64(a.Num) | int64(b.Num))))
	case chunk.OpXor:
		m.push(value.Number(float64(int64(a.Num) ^ int64(b.Num))))
	case chunk.OpLsh:
		m.push(value.Number(float64(int64(a.Num) << uint64(int64(b.Num)))))
	case chunk.OpAsh:
		m.push(value.Number(float64(int64(a.Num) >> uint64(int64(b.Num)))))
	case chunk.OpRsh:
		m.push(value.Number(float64(uint64(int64(a.Num)) >> uint64(int64(b.Num)))))
	}
	return true
}

func (m *Machine) compare(op chunk.Op) bool {
	b := m.pop()
	a := m.pop()

	if a.Kind == value.KindNumber && b.Kind == value.KindNumber {
		var result bool
		switch op {
		case chunk.OpGreater:
			result = a.Num > b.Num
		case chunk.OpGreaterEq:
			result = a.Num >= b.Num
		case chunk.OpLess:
			result = a.Num < b.Num
		case chunk.OpLessEq:
			result = a.Num <= b.Num
		}
		m.push(value.Bool_(result))
		return true
	}

	as, aok := a.Obj.(*value.String)
	bs, bok := b.Obj.(*value.String)
	if a.Kind == value.KindObject && b.Kind == value.KindObject && aok && bok {
		var result bool
		switch op {
		case chunk.OpGreater:
			result = as.Bytes > bs.Bytes
		case chunk.OpGreaterEq:
			result = as.Bytes >= bs.Bytes
		case chunk.OpLess:
			result = as.Bytes < bs.Bytes
		case chunk.OpLessEq:
			result = as.Bytes <= bs.Bytes
		}
		m.push(value.Bool_(result))
		return true
	}

	return m.typeError("operands must be two numbers or two strings")
}

// inOp implements the `in` operator: list membership (by Equal) or
// string substring containment.
func (m *Machine) inOp() bool {
	container := m.pop()
	needle := m.pop()

	switch c := container.Obj.(type) {
	case *value.List:
		for _, item := range c.Items {
			if value.Equal(item, needle) {
				m.push(value.True)
				return true
			}
		}
		m.push(value.False)
		return true
	case *value.String:
		ns, ok := needle.Obj.(*value.String)
		if !ok {
			return m.typeError("'in' on a string requires a string operand")
		}
		m.push(value.Bool_(containsSubstring(c.Bytes, ns.Bytes)))
		return true
	default:
		return m.typeError("'in' requires a list or string on the right")
	}
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func (m *Machine) instanceOf(a, target value.Value) bool {
	cls, ok := target.Obj.(*value.Class)
	if !ok {
		return false
	}
	inst, ok := a.Obj.(*value.Instance)
	if !ok {
		return false
	}
	return inst.Class.IsOrInherits(cls)
}

// indexGet implements GET_INDEX for lists (numeric index, negative
// counts from the end) and strings (single-rune indexing) and instances
// (string key naming a field, which covers import results).
func (m *Machine) indexGet(recv, idx value.Value) (value.Value, error) {
	switch r := recv.Obj.(type) {
	case *value.List:
		i, err := m.indexOf(idx, len(r.Items))
		if err != nil {
			return value.Null, err
		}
		return r.Items[i], nil
	case *value.String:
		runes := []rune(r.Bytes)
		i, err := m.indexOf(idx, len(runes))
		if err != nil {
			return value.Null, err
		}
		return value.Obj_(m.intern(string(runes[i]))), nil
	case *value.Instance:
		if idx.Kind != value.KindObject {
			return value.Null, m.classifyf(m.exceptions().typeException, "index must be a string for instance field access")
		}
		key, ok := idx.Obj.(*value.String)
		if !ok {
			return value.Null, m.classifyf(m.exceptions().typeException, "index must be a string for instance field access")
		}
		v, ok := r.Fields[key.Bytes]
		if !ok {
			return value.Null, m.classifyf(m.exceptions().propertyException, "undefined property '%s'", key.Bytes)
		}
		return v, nil
	default:
		return value.Null, m.classifyf(m.exceptions().typeException, "only lists, strings, and instances can be indexed")
	}
}

func (m *Machine) indexSet(recv, idx, v value.Value) error {
	switch r := recv.Obj.(type) {
	case *value.List:
		i, err := m.indexOf(idx, len(r.Items))
		if err != nil {
			return err
		}
		r.Items[i] = v
		return nil
	case *value.Instance:
		key, ok := idx.Obj.(*value.String)
		if !ok {
			return m.classifyf(m.exceptions().typeException, "index must be a string for instance field access")
		}
		r.Fields[key.Bytes] = v
		return nil
	default:
		return m.classifyf(m.exceptions().typeException, "only lists and instances support indexed assignment")
	}
}

// indexOf normalizes idx (allowing negative indices to count from the
// end) against length, classifying a non-number as a TypeException and
// an out-of-bounds index as an IndexException per spec.md §7.
func (m *Machine) indexOf(idx value.Value, length int) (int, error) {
	if idx.Kind != value.KindNumber {
		return 0, m.classifyf(m.exceptions().typeException, "index must be a number")
	}
	i := int(idx.Num)
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, m.classifyf(m.exceptions().indexException, "index %d out of range", int(idx.Num))
	}
	return i, nil
}

// buildRange materializes a .. range expression as a list of numbers,
// matching the "ranges are lists" supplemented semantics described in
// SPEC_FULL.md (the original's list-backed iteration support).
func (m *Machine) buildRange(lo, hi value.Value) (*value.List, error) {
	if lo.Kind != value.KindNumber || hi.Kind != value.KindNumber {
		return nil, m.classifyf(m.exceptions().typeException, "range bounds must be numbers")
	}
	var items []value.Value
	if lo.Num <= hi.Num {
		for n := lo.Num; n <= hi.Num; n++ {
			items = append(items, value.Number(n))
		}
	} else {
		for n := lo.Num; n >= hi.Num; n-- {
			items = append(items, value.Number(n))
		}
	}
	return &value.List{Items: items}, nil
}
