package value

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableSetGetDelete(t *testing.T) {
	tbl := NewTable()

	isNew := tbl.Set("a", Number(1))
	assert.True(t, isNew)

	v, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, Number(1), v)

	isNew = tbl.Set("a", Number(2))
	assert.False(t, isNew, "overwriting an existing key is not a new insertion")
	v, _ = tbl.Get("a")
	assert.Equal(t, Number(2), v)

	assert.True(t, tbl.Delete("a"))
	_, ok = tbl.Get("a")
	assert.False(t, ok)
	assert.False(t, tbl.Delete("a"), "deleting a missing key reports false")
}

func TestTableMissingKey(t *testing.T) {
	tbl := NewTable()
	_, ok := tbl.Get("nope")
	assert.False(t, ok)
}

func TestTableCountExcludesTombstones(t *testing.T) {
	tbl := NewTable()
	tbl.Set("a", Number(1))
	tbl.Set("b", Number(2))
	assert.Equal(t, 2, tbl.Count())

	tbl.Delete("a")
	assert.Equal(t, 1, tbl.Count())
}

func TestTableGrowPreservesEntriesAndDropsTombstones(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 20; i++ {
		tbl.Set(fmt.Sprintf("key%d", i), Number(float64(i)))
	}
	for i := 0; i < 10; i++ {
		tbl.Delete(fmt.Sprintf("key%d", i))
	}
	assert.Equal(t, 10, tbl.Count())
	for i := 10; i < 20; i++ {
		v, ok := tbl.Get(fmt.Sprintf("key%d", i))
		require.True(t, ok)
		assert.Equal(t, Number(float64(i)), v)
	}
	for i := 0; i < 10; i++ {
		_, ok := tbl.Get(fmt.Sprintf("key%d", i))
		assert.False(t, ok)
	}
}

func TestTableEachVisitsOnlyLiveEntries(t *testing.T) {
	tbl := NewTable()
	tbl.Set("a", Number(1))
	tbl.Set("b", Number(2))
	tbl.Delete("a")

	seen := map[string]Value{}
	tbl.Each(func(key string, val Value) { seen[key] = val })
	assert.Len(t, seen, 1)
	assert.Equal(t, Number(2), seen["b"])
}

func TestTableReinsertAfterDeleteReusesTombstone(t *testing.T) {
	tbl := NewTable()
	tbl.Set("a", Number(1))
	tbl.Delete("a")
	isNew := tbl.Set("a", Number(9))
	assert.True(t, isNew)
	v, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, Number(9), v)
	assert.Equal(t, 1, tbl.Count())
}

func TestHashStringDeterministic(t *testing.T) {
	assert.Equal(t, HashString("abc"), HashString("abc"))
	assert.NotEqual(t, HashString("abc"), HashString("abd"))
}
