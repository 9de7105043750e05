package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID    string
	Value int
}

func (i item) Key() string { return i.ID }

func ids[T Entity](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key()
	}
	return out
}

func TestAppendFirstSeenWins(t *testing.T) {
	c := New[item]()
	c.Append(item{ID: "a", Value: 1})
	c.Append(item{ID: "b", Value: 2})
	c.Append(item{ID: "a", Value: 99})

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.Value, "duplicate insert must not overwrite")
	assert.Equal(t, []string{"a", "b"}, ids(c.Items()))
}

func TestReplaceAllAndAppendPage(t *testing.T) {
	c := New[item]()
	c.ReplaceAll([]item{{ID: "a"}, {ID: "b"}})
	assert.Equal(t, []string{"a", "b"}, ids(c.Items()))

	// First page replaces, later pages append minus overlap.
	c.ReplaceAll([]item{{ID: "c"}, {ID: "d"}})
	c.AppendPage([]item{{ID: "d"}, {ID: "e"}})
	assert.Equal(t, []string{"c", "d", "e"}, ids(c.Items()))
}

func TestPrependDeduplicates(t *testing.T) {
	c := New[item]()
	c.ReplaceAll([]item{{ID: "a"}, {ID: "b"}})

	c.Prepend(item{ID: "new"})
	assert.Equal(t, []string{"new", "a", "b"}, ids(c.Items()))

	c.Prepend(item{ID: "b"})
	assert.Equal(t, []string{"new", "a", "b"}, ids(c.Items()))
}

func TestUpdateOverwritesInPlace(t *testing.T) {
	c := New[item]()
	c.ReplaceAll([]item{{ID: "a", Value: 1}, {ID: "b", Value: 2}})

	c.Update(item{ID: "b", Value: 20})
	got, _ := c.Get("b")
	assert.Equal(t, 20, got.Value)
	assert.Equal(t, []string{"a", "b"}, ids(c.Items()), "update keeps position")

	// An update for an unknown entity inserts it at the front.
	c.Update(item{ID: "c", Value: 3})
	assert.Equal(t, []string{"c", "a", "b"}, ids(c.Items()))
}

func TestRemoveReindexes(t *testing.T) {
	c := New[item]()
	c.ReplaceAll([]item{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	c.Remove("b")
	assert.Equal(t, []string{"a", "c"}, ids(c.Items()))

	got, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, "c", got.ID)

	c.Remove("missing")
	assert.Equal(t, 2, c.Len())
}

func TestMutate(t *testing.T) {
	c := New[item]()
	c.ReplaceAll([]item{{ID: "a", Value: 1}})

	ok := c.Mutate("a", func(i *item) { i.Value++ })
	assert.True(t, ok)
	got, _ := c.Get("a")
	assert.Equal(t, 2, got.Value)

	assert.False(t, c.Mutate("missing", func(i *item) { i.Value++ }))
}

func TestHydrateDescending(t *testing.T) {
	c := New[item]()
	// Rows arrive oldest first; presentation is newest first.
	c.HydrateDescending([]item{{ID: "old"}, {ID: "mid"}, {ID: "new"}})
	assert.Equal(t, []string{"new", "mid", "old"}, ids(c.Items()))
}
