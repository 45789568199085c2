package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
)

func TestServiceConnectorAssociation(t *testing.T) {
	ctx := context.Background()
	svc1 := NewService("svc1")
	svc2 := NewService("svc2")
	eng := newFakeEngine("eng", nil, nil)
	require.NoError(t, svc1.SetContainer(ctx, eng))

	c := newFakeConnector("conn", nil, nil)
	require.NoError(t, svc1.AddConnector(ctx, c))
	assert.Same(t, svc1, c.Service())
	assert.Equal(t, Engine(eng), c.Engine())

	require.NoError(t, svc1.AddConnector(ctx, c), "same connector twice is a no-op")
	assert.Len(t, svc1.FindConnectors(), 1)

	err := svc2.AddConnector(ctx, c)
	assert.ErrorIs(t, err, lifecycle.ErrDuplicateAssociation)
	assert.Empty(t, svc2.FindConnectors())

	require.NoError(t, svc1.RemoveConnector(ctx, c))
	assert.Nil(t, c.Service())
	assert.Nil(t, c.Engine())
	assert.Empty(t, svc1.FindConnectors())

	require.NoError(t, svc2.AddConnector(ctx, c))
	assert.Same(t, svc2, c.Service())
	assert.Nil(t, c.Engine(), "svc2 has no engine yet")
}

func TestServiceConnectorWhileStarted(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	svc := buildService(j, serviceSpec{name: "svc", suffix: "1"})
	require.NoError(t, svc.Start(ctx))

	late := newFakeConnector("late", j, nil)
	require.NoError(t, svc.AddConnector(ctx, late))
	assert.Equal(t, lifecycle.StateStarted, late.State())
	assert.Same(t, svc.Container(), late.Engine())

	require.NoError(t, svc.RemoveConnector(ctx, late))
	assert.Equal(t, lifecycle.StateStopped, late.State())
	assert.Nil(t, late.Engine())

	j.reset()
	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, []string{"stop:conn1", "stop:eng1", "stop:ex1"}, j.list())
}

func TestServiceSetContainer(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	svc := buildService(j, serviceSpec{name: "svc", suffix: "1"})
	require.NoError(t, svc.Start(ctx))

	old := svc.Container()
	conns := svc.FindConnectors()
	require.Len(t, conns, 1)
	assert.Same(t, old, conns[0].Engine())

	j.reset()
	next := newFakeEngine("eng2", j, nil)
	require.NoError(t, svc.SetContainer(ctx, next))

	assert.Same(t, Engine(next), svc.Container())
	assert.Same(t, Engine(next), conns[0].Engine())
	assert.Same(t, svc, next.Service())
	assert.Nil(t, old.Service())
	assert.Equal(t, lifecycle.StateStarted, next.State())
	assert.Equal(t, lifecycle.StateStopped, old.State())
	assert.Equal(t, []string{"start:eng2", "stop:eng1"}, j.list(), "new engine is up before the old one stops")
	assert.Equal(t, "eng2", svc.Domain())
	assert.NotNil(t, svc.Mapper())

	assert.ErrorIs(t, svc.SetContainer(ctx, nil), lifecycle.ErrConfiguration)
}

func TestServiceSetContainerStartFailure(t *testing.T) {
	ctx := context.Background()
	svc := buildService(nil, serviceSpec{name: "svc", suffix: "1"})
	require.NoError(t, svc.Start(ctx))
	old := svc.Container()

	boom := errors.New("boom")
	bad := newFakeEngine("bad", nil, fail{"start": boom})
	err := svc.SetContainer(ctx, bad)
	assert.ErrorIs(t, err, boom)
	assert.Same(t, old, svc.Container(), "engine unchanged on failure")
	assert.Same(t, old, svc.FindConnectors()[0].Engine())
	assert.Nil(t, bad.Service())
}

func TestServiceWithoutEngine(t *testing.T) {
	svc := NewService("svc")
	assert.Nil(t, svc.Mapper())
	assert.Equal(t, "svc", svc.Domain())

	err := svc.Start(context.Background())
	assert.ErrorIs(t, err, lifecycle.ErrConfiguration)
	assert.Equal(t, lifecycle.StateFailed, svc.State())
}

func TestServiceExecutors(t *testing.T) {
	ctx := context.Background()
	svc := buildService(nil, serviceSpec{name: "svc", suffix: "1"})

	err := svc.AddExecutor(ctx, newFakeExecutor("ex1", nil, nil))
	assert.ErrorIs(t, err, lifecycle.ErrDuplicateName)
	assert.Len(t, svc.FindExecutors(), 1)

	ex, ok := svc.GetExecutor("ex1")
	require.True(t, ok)
	ran := false
	require.NoError(t, ex.Submit(func() { ran = true }))
	assert.True(t, ran)

	require.NoError(t, svc.Start(ctx))
	late := newFakeExecutor("late", nil, nil)
	require.NoError(t, svc.AddExecutor(ctx, late))
	assert.Equal(t, lifecycle.StateStarted, late.State())

	require.NoError(t, svc.RemoveExecutor(ctx, newFakeExecutor("late", nil, nil)), "other instance with same name")
	assert.Len(t, svc.FindExecutors(), 2)

	require.NoError(t, svc.RemoveExecutor(ctx, late))
	assert.Equal(t, lifecycle.StateStopped, late.State())
	_, ok = svc.GetExecutor("late")
	assert.False(t, ok)
}

func TestServiceDestroyWithoutStart(t *testing.T) {
	ctx := context.Background()
	svc := buildService(nil, serviceSpec{name: "svc", suffix: "1"})
	require.NoError(t, svc.Init(ctx))
	require.NoError(t, svc.Destroy(ctx))
	assert.Equal(t, lifecycle.StateDestroyed, svc.State())
	assert.Equal(t, lifecycle.StateDestroyed, svc.Container().State())
}
