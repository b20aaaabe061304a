package module_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxelcore/server/internal/module"
)

func TestInstallAllRunsInAscendingPriorityOrder(t *testing.T) {
	var order []string
	mods := []*module.Module{
		{Name: "c", Priority: 30, Install: func() error { order = append(order, "c"); return nil }},
		{Name: "a", Priority: 10, Install: func() error { order = append(order, "a"); return nil }},
		{Name: "b", Priority: 20, Install: func() error { order = append(order, "b"); return nil }},
	}

	r := module.NewRegistry()
	require.NoError(t, r.InstallAll(mods))
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestUninstallAllRunsInDescendingPriorityOrder(t *testing.T) {
	var order []string
	mods := []*module.Module{
		{Name: "a", Priority: 10, Install: func() error { return nil }, Uninstall: func() error { order = append(order, "a"); return nil }},
		{Name: "b", Priority: 20, Install: func() error { return nil }, Uninstall: func() error { order = append(order, "b"); return nil }},
	}

	r := module.NewRegistry()
	require.NoError(t, r.InstallAll(mods))
	require.NoError(t, r.UninstallAll())
	require.Equal(t, []string{"b", "a"}, order)
}

func TestInstallAllStopsOnFirstError(t *testing.T) {
	installed := 0
	mods := []*module.Module{
		{Name: "ok", Priority: 1, Install: func() error { installed++; return nil }},
		{Name: "bad", Priority: 2, Install: func() error { return errors.New("boom") }},
		{Name: "never", Priority: 3, Install: func() error { installed++; return nil }},
	}

	r := module.NewRegistry()
	err := r.InstallAll(mods)
	require.Error(t, err)
	require.Equal(t, 1, installed)
}

func TestEventFireAndFoldsAcrossSubscribers(t *testing.T) {
	e := module.NewEvent[func(int) bool](false)
	var calls []int
	e.Subscribe(func(n int) bool { calls = append(calls, n); return n > 0 })
	e.Subscribe(func(n int) bool { calls = append(calls, n); return n > 10 })

	ok := module.FireAnd(e, 5)
	require.False(t, ok)
	require.Equal(t, []int{5, 5}, calls)
}

func TestEventFireCollectReturnsPerSubscriberResults(t *testing.T) {
	e := module.NewEvent[func(string) int](false)
	e.Subscribe(func(s string) int { return len(s) })
	e.Subscribe(func(s string) int { return len(s) * 2 })

	results := module.FireCollect(e, "hi")
	require.Equal(t, []int{2, 4}, results)
}

func TestEventSwallowsExceptionsWhenConfigured(t *testing.T) {
	e := module.NewEvent[func(int)](true)
	var secondRan bool
	e.Subscribe(func(int) { panic("boom") })
	e.Subscribe(func(int) { secondRan = true })

	require.NotPanics(t, func() { module.FireNone(e, 1) })
	require.True(t, secondRan)
}
