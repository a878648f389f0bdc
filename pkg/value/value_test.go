package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFalsey(t *testing.T) {
	assert.True(t, Null.IsFalsey())
	assert.True(t, False.IsFalsey())
	assert.False(t, True.IsFalsey())
	assert.False(t, Number(0).IsFalsey())
	assert.False(t, Obj_(&String{Bytes: ""}).IsFalsey())
}

func TestIsPointerEqualityForObjects(t *testing.T) {
	a := &String{Bytes: "hi"}
	b := &String{Bytes: "hi"}
	assert.True(t, Is(Obj_(a), Obj_(a)))
	assert.False(t, Is(Obj_(a), Obj_(b)), "Is must be identity, not structural, for non-list objects")
}

func TestEqualStructuralForLists(t *testing.T) {
	a := &List{Items: []Value{Number(1), Number(2)}}
	b := &List{Items: []Value{Number(1), Number(2)}}
	assert.True(t, Equal(Obj_(a), Obj_(b)))

	c := &List{Items: []Value{Number(1), Number(3)}}
	assert.False(t, Equal(Obj_(a), Obj_(c)))
}

func TestEqualPrimitives(t *testing.T) {
	assert.True(t, Equal(Number(1), Number(1)))
	assert.False(t, Equal(Number(1), Number(2)))
	assert.True(t, Equal(Null, Null))
	assert.False(t, Equal(Number(1), True))
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "null", TypeName(Null))
	assert.Equal(t, "boolean", TypeName(True))
	assert.Equal(t, "number", TypeName(Number(1)))
	assert.Equal(t, "string", TypeName(Obj_(&String{Bytes: "x"})))
	assert.Equal(t, "list", TypeName(Obj_(&List{})))
	assert.Equal(t, "instance", TypeName(Obj_(&Instance{})))
	assert.Equal(t, "class", TypeName(Obj_(&Class{})))
	assert.Equal(t, "function", TypeName(Obj_(&Closure{})))
}

func TestFormatNumberSpecialValues(t *testing.T) {
	assert.Equal(t, "NaN", FormatNumber(math.NaN()))
	assert.Equal(t, "Infinity", FormatNumber(math.Inf(1)))
	assert.Equal(t, "-Infinity", FormatNumber(math.Inf(-1)))
	assert.Equal(t, "1.5", FormatNumber(1.5))
	assert.Equal(t, "3", FormatNumber(3))
}
