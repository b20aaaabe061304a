package util_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxelcore/server/internal/util"
)

func TestScopeGuardFiresAllOnceCountReachesZero(t *testing.T) {
	var eachCount, allCount int
	g := util.NewScopeGuard(func() { eachCount++ }, func() { allCount++ })

	g.Acquire()
	g.Acquire()
	require.EqualValues(t, 3, g.Count())

	require.False(t, g.Release())
	require.False(t, g.Release())
	require.True(t, g.Release())

	require.Equal(t, 3, eachCount)
	require.Equal(t, 1, allCount)
	require.Zero(t, g.Count())
}

func TestScopeGuardPanicsOnOverRelease(t *testing.T) {
	g := util.NewScopeGuard(nil, nil)
	require.True(t, g.Release())
	require.Panics(t, func() { g.Release() })
}
