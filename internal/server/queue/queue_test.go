package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueReplacesPriorEntryForSameClient(t *testing.T) {
	q := New(t.TempDir())

	require.NoError(t, q.Enqueue(Item{Identity: "abc", LineageName: "a.test"}))
	require.NoError(t, q.Enqueue(Item{Identity: "abc", LineageName: "a.test-v2"}))

	n, err := q.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	items, err := q.Drain()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a.test-v2", items[0].LineageName)
}

func TestDrainEmptiesQueueInIdentityOrder(t *testing.T) {
	q := New(t.TempDir())

	require.NoError(t, q.Enqueue(Item{Identity: "b", LineageName: "b.test"}))
	require.NoError(t, q.Enqueue(Item{Identity: "a", LineageName: "a.test"}))

	items, err := q.Drain()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.test", items[0].LineageName)
	assert.Equal(t, "b.test", items[1].LineageName)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	items, err = q.Drain()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEnqueuePersistsAcrossNewQueueInstances(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	require.NoError(t, first.Enqueue(Item{Identity: "c", LineagePath: "/lineages/c.test", LineageName: "c.test"}))

	second := New(dir)
	items, err := second.Drain()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/lineages/c.test", items[0].LineagePath)
}
