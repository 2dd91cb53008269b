package factory

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/loadflow/store"
	"github.com/warriorguo/loadflow/store/mem"
)

func TestMinionAssignmentKeeper_Assign(t *testing.T) {
	ctx := context.Background()
	s := mem.NewMemStore()
	a := NewMinionAssignmentKeeper(s, "node-a")
	b := NewMinionAssignmentKeeper(s, "node-b")

	factoryDags := map[string][]string{
		"node-a": {"d1", "d2"},
		"node-b": {"d1"},
	}
	require.NoError(t, a.RegisterFactoryDags(ctx, "c-1", "s1", factoryDags))
	require.NoError(t, b.RegisterFactoryDags(ctx, "c-1", "s1", factoryDags))
	require.NoError(t, a.RegisterMinions(ctx, "c-1", "s1", &MinionsDeclared{
		Load:          []string{"m-0", "m-1", "m-2", "m-3", "m-4"},
		UnderLoadDags: []string{"d1"},
		Lonely:        map[string]string{"d2": "m-lonely"},
	}))

	assigned, err := a.Assign(ctx, "c-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []MinionAssignment{
		{MinionID: "m-0", DagNames: []string{"d1"}},
		{MinionID: "m-2", DagNames: []string{"d1"}},
		{MinionID: "m-4", DagNames: []string{"d1"}},
		{MinionID: "m-lonely", DagNames: []string{"d2"}, Singleton: true},
	}, assigned)

	assigned, err = b.Assign(ctx, "c-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []MinionAssignment{
		{MinionID: "m-1", DagNames: []string{"d1"}},
		{MinionID: "m-3", DagNames: []string{"d1"}},
	}, assigned)

	require.NoError(t, b.Forget(ctx, "c-1", []string{"s1"}))
	_, err = a.Assign(ctx, "c-1", "s1")
	assert.True(t, errors.IsNotFound(err))
	nodes, err := store.Keys(ctx, s, factoryDagsPrefix("c-1", "s1"))
	assert.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestMinionAssignmentKeeper_SeveralDagsUnderLoad(t *testing.T) {
	ctx := context.Background()
	s := mem.NewMemStore()
	a := NewMinionAssignmentKeeper(s, "node-a")
	b := NewMinionAssignmentKeeper(s, "node-b")

	require.NoError(t, a.RegisterFactoryDags(ctx, "c-1", "s1", map[string][]string{
		"node-a": {"d1", "d2"},
		"node-b": {"d2"},
	}))
	require.NoError(t, a.RegisterMinions(ctx, "c-1", "s1", &MinionsDeclared{
		Load:          []string{"m-0", "m-1"},
		UnderLoadDags: []string{"d1", "d2"},
	}))

	// Each minion executes d1 on node-a, d2 alternatively on both nodes.
	assigned, err := a.Assign(ctx, "c-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []MinionAssignment{
		{MinionID: "m-0", DagNames: []string{"d1", "d2"}},
		{MinionID: "m-1", DagNames: []string{"d1"}},
	}, assigned)

	assigned, err = b.Assign(ctx, "c-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []MinionAssignment{
		{MinionID: "m-1", DagNames: []string{"d2"}},
	}, assigned)
}

func TestMinionAssignmentKeeper_NotDeclared(t *testing.T) {
	a := NewMinionAssignmentKeeper(mem.NewMemStore(), "node-a")
	_, err := a.Declared(context.Background(), "c-1", "s1")
	assert.True(t, errors.IsNotFound(err))
}
