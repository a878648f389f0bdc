package vm

import (
	"fmt"

	"github.com/dragonvm/dragon/pkg/value"
)

// runtimeErrorf builds a *RuntimeError carrying the current call stack,
// for a fault the VM itself detects (as opposed to a user `throw`).
func (m *Machine) runtimeErrorf(format string, args ...interface{}) *RuntimeError {
	return newRuntimeError(fmt.Sprintf(format, args...), m.captureStackTrace())
}

func (m *Machine) captureStackTrace() []StackFrame {
	frames := make([]StackFrame, 0, len(m.frames))
	for i := len(m.frames) - 1; i >= 0; i-- {
		fr := m.frames[i]
		name := "<script>"
		if fr.closure.Fn.Name != nil {
			name = fr.closure.Fn.Name.Bytes
		}
		frames = append(frames, StackFrame{
			Name:       name,
			SourceLine: m.lineFor(&fr),
		})
	}
	return frames
}

func (m *Machine) lineFor(f *callFrame) int {
	ch := m.curChunk(f)
	ip := f.ip - 1
	if ip < 0 {
		ip = 0
	}
	return ch.LineFor(ip)
}

// throwErr converts a Go error (almost always a *RuntimeError this VM
// itself produced) into a thrown Dragon value and unwinds to the
// nearest handler. Returns true if a handler caught it, false if it
// escaped the outermost frame — in which case m.lastErr holds the
// final error to return from run().
func (m *Machine) throwErr(err error) bool {
	thrown := m.errorToThrown(err)
	return m.unwind(thrown)
}

// errorToThrown wraps a Go error as a Dragon instance of the base
// Exception class so user `catch` blocks can inspect a `.message`
// field, matching the exception.c convention that every thrown value
// is an object with a message. Used only for faults that don't fit one
// of the taxonomy subclasses (see pkg/vm/exception.go for those).
func (m *Machine) errorToThrown(err error) value.Value {
	return value.Obj_(m.newException(m.exceptions().base, "%s", err.Error()))
}

// unwind pops frames and the try-handler stack looking for a handler
// whose owning frame is still active, restoring the value stack to
// that handler's recorded depth and pushing the thrown value for the
// catch clause to consume. Returns false if no handler remains,
// meaning the exception escaped the outermost call.
//
// Per spec.md §4.6 step 4, the reversed trace accumulated while
// unwinding is stored as the `stackTrace` field on the thrown instance
// itself before control resumes at the handler, so a catch block can
// inspect `e.stackTrace` directly.
func (m *Machine) unwind(thrown value.Value) bool {
	trace := m.captureStackTrace()
	if inst, ok := thrown.Obj.(*value.Instance); ok {
		if _, ok := inst.Fields["message"]; !ok {
			inst.Fields["message"] = value.Null
		}
		inst.Fields["stackTrace"] = value.Obj_(m.traceToList(trace))
	}

	for len(m.tries) > 0 {
		h := m.tries[len(m.tries)-1]
		m.tries = m.tries[:len(m.tries)-1]

		if h.frameDepth > len(m.frames) {
			continue // handler belonged to a frame already popped
		}
		m.frames = m.frames[:h.frameDepth]
		m.stack = m.stack[:h.stackLen]
		m.push(thrown)
		m.frame().ip = h.target
		m.lastErr = nil
		return true
	}
	m.lastErr = m.thrownToError(thrown)
	return false
}

// traceToList renders a captured stack trace as a Dragon list of
// formatted "[{line}] in {function}" strings, reversed to outermost-
// first order, for the stackTrace field unwind attaches to the thrown
// instance.
func (m *Machine) traceToList(frames []StackFrame) *value.List {
	items := make([]value.Value, len(frames))
	for i, f := range frames {
		items[len(frames)-1-i] = value.Obj_(m.intern(frameLine(f)))
	}
	lst := &value.List{Items: items}
	m.track(lst)
	return lst
}

// thrownToError converts an uncaught thrown value into the Go error
// Interpret/run return, preserving the stack trace captured at the
// throw site when available.
func (m *Machine) thrownToError(thrown value.Value) error {
	trace := m.captureStackTrace()
	if inst, ok := thrown.Obj.(*value.Instance); ok {
		if msg, ok := inst.Fields["message"]; ok {
			if s, ok := msg.Obj.(*value.String); ok {
				return newRuntimeError(s.Bytes, trace)
			}
		}
		return newRuntimeError(fmt.Sprintf("uncaught %s", inst.Class.Name.Bytes), trace)
	}
	return newRuntimeError(fmt.Sprintf("uncaught %s", value.TypeName(thrown)), trace)
}
