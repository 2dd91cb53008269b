package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueSlice(t *testing.T) {
	assert.Equal(t, []int{1}, UniqueSlice([]int{1}))
	assert.Equal(t, []int{1}, UniqueSlice([]int{1, 1, 1}))
	assert.Equal(t, []int{1, 2}, UniqueSlice([]int{1, 1, 2}))
	assert.Equal(t, []int{1, 2, 3}, UniqueSlice([]int{1, 2, 2, 3, 3}))
	assert.Equal(t, []string{"d2", "d1"}, UniqueSlice([]string{"d2", "d1", "d2"}))
	assert.Empty(t, UniqueSlice([]int{}))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]bool{"c": true, "a": true, "b": false}))
	assert.Empty(t, SortedKeys(map[string]int(nil)))
}

func TestCloneMap(t *testing.T) {
	assert.Nil(t, CloneMap(map[string]string(nil)))

	m := map[string]string{"zone": "a"}
	clone := CloneMap(m)
	clone["zone"] = "b"
	assert.Equal(t, "a", m["zone"])
}

func TestSerialize(t *testing.T) {
	b, err := Serialize(map[string]int{"minions": 3})
	assert.NoError(t, err)

	var decoded map[string]int
	assert.NoError(t, Unserialize(b, &decoded))
	assert.Equal(t, 3, decoded["minions"])
}
