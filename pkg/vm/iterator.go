package vm

import "github.com/dragonvm/dragon/pkg/value"

// iteratorClass lazily builds the synthetic class backing foreach's
// iterator protocol: an instance with "data"/"index" fields and
// native more()/next() methods, grounded on iterator.c's constructor
// plus next/more pair (generalized here to cover both lists and
// strings with one implementation instead of two).
func (m *Machine) iteratorClass() *value.Class {
	if m.iterClass != nil {
		return m.iterClass
	}
	cls := &value.Class{Name: m.intern("Iterator"), Methods: make(map[string]value.Value), Super: m.baseClass}

	more := &value.Native{Name: m.intern("more"), Arity: 0, Fn: func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
		inst := recv.Obj.(*value.Instance)
		length, ok := m.iterableLength(inst.Fields["data"])
		if !ok {
			return value.Null, m.newTypeException("iterator's 'data' must be a string or a list")
		}
		idx := int(inst.Fields["index"].Num)
		return value.Bool_(idx < length), nil
	}}
	m.track(more)

	next := &value.Native{Name: m.intern("next"), Arity: 0, Fn: func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
		inst := recv.Obj.(*value.Instance)
		data := inst.Fields["data"]
		idx := int(inst.Fields["index"].Num)
		v, err := m.indexGet(data, value.Number(float64(idx)))
		if err != nil {
			return value.Null, m.classifiedToInstance(err)
		}
		inst.Fields["index"] = value.Number(float64(idx + 1))
		return v, nil
	}}
	m.track(next)

	selfIter := &value.Native{Name: m.intern("iterator"), Arity: 0, Fn: func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
		return recv, nil
	}}
	m.track(selfIter)

	cls.Methods["more"] = value.Obj_(more)
	cls.Methods["next"] = value.Obj_(next)
	cls.Methods["iterator"] = value.Obj_(selfIter)
	m.track(cls)
	m.iterClass = cls
	return cls
}

func (m *Machine) iterableLength(data value.Value) (int, bool) {
	switch d := data.Obj.(type) {
	case *value.List:
		return len(d.Items), true
	case *value.String:
		return len([]rune(d.Bytes)), true
	}
	return 0, false
}

// newIterator builds an Iterator instance wrapping data (a list or a
// string), the Value a `.iterator()` call returns.
func (m *Machine) newIterator(data value.Value) value.Value {
	inst := &value.Instance{
		Class:  m.iteratorClass(),
		Fields: map[string]value.Value{"data": data, "index": value.Number(0)},
	}
	m.track(inst)
	return value.Obj_(inst)
}

func (m *Machine) newListIterator(l *value.List) value.Value {
	return m.newIterator(value.Obj_(l))
}
