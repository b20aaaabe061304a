package worldlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxelcore/server/internal/coderr"
	"github.com/voxelcore/server/internal/worldlock"
)

func TestAcquireNonContendingGrantsImmediately(t *testing.T) {
	l := worldlock.New()
	ctx := context.Background()

	r1 := worldlock.NewRequest().WithWrite(worldlock.ColumnCoord{X: 0, Z: 0})
	h1, err := l.Acquire(ctx, r1)
	require.NoError(t, err)
	require.NotNil(t, h1)

	r2 := worldlock.NewRequest().WithWrite(worldlock.ColumnCoord{X: 1, Z: 1})
	h2, err := l.TryAcquire(r2)
	require.NoError(t, err)
	require.NotNil(t, h2)
}

func TestTryAcquireReturnsContentionOnOverlap(t *testing.T) {
	l := worldlock.New()
	coord := worldlock.ColumnCoord{X: 5, Z: 5}

	h1, err := l.TryAcquire(worldlock.NewRequest().WithWrite(coord))
	require.NoError(t, err)
	require.NotNil(t, h1)

	_, err = l.TryAcquire(worldlock.NewRequest().WithRead(coord))
	require.Error(t, err)
	require.True(t, coderr.OfKind(err, coderr.Contention))
}

func TestReleasePromotesPendingInFIFOOrder(t *testing.T) {
	l := worldlock.New()
	coord := worldlock.ColumnCoord{X: 2, Z: 2}

	h1, err := l.TryAcquire(worldlock.NewRequest().WithWrite(coord))
	require.NoError(t, err)

	grantedOrder := make(chan int, 2)
	go func() {
		_, err := l.Acquire(context.Background(), worldlock.NewRequest().WithWrite(coord))
		require.NoError(t, err)
		grantedOrder <- 1
	}()
	time.Sleep(10 * time.Millisecond) // ensure request 1 is queued first
	go func() {
		_, err := l.Acquire(context.Background(), worldlock.NewRequest().WithWrite(coord))
		require.NoError(t, err)
		grantedOrder <- 2
	}()
	time.Sleep(10 * time.Millisecond)

	l.Release(h1)

	first := <-grantedOrder
	require.Equal(t, 1, first)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	l := worldlock.New()
	coord := worldlock.ColumnCoord{X: 9, Z: 9}

	_, err := l.TryAcquire(worldlock.NewRequest().WithWrite(coord))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, worldlock.NewRequest().WithWrite(coord))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpgradeGrantsImmediatelyWhenStillCompatible(t *testing.T) {
	l := worldlock.New()
	h, err := l.TryAcquire(worldlock.NewRequest().WithRead(worldlock.ColumnCoord{X: 0, Z: 0}))
	require.NoError(t, err)

	err = l.Upgrade(context.Background(), h, worldlock.NewRequest().WithWrite(worldlock.ColumnCoord{X: 0, Z: 0}))
	require.NoError(t, err)
	require.Contains(t, h.Request().Writes, worldlock.ColumnCoord{X: 0, Z: 0})
}

func TestUpgradeRequeuesAtFrontOfPendingWhenContending(t *testing.T) {
	l := worldlock.New()
	coordA := worldlock.ColumnCoord{X: 1, Z: 1}
	coordB := worldlock.ColumnCoord{X: 2, Z: 2}

	h, err := l.TryAcquire(worldlock.NewRequest().WithRead(coordA))
	require.NoError(t, err)

	blocker, err := l.TryAcquire(worldlock.NewRequest().WithWrite(coordB))
	require.NoError(t, err)

	// A third, unrelated request queues behind the upgrade attempt.
	thirdGranted := make(chan struct{})
	go func() {
		_, err := l.Acquire(context.Background(), worldlock.NewRequest().WithWrite(coordB))
		require.NoError(t, err)
		close(thirdGranted)
	}()
	time.Sleep(10 * time.Millisecond)

	upgradeGranted := make(chan struct{})
	go func() {
		err := l.Upgrade(context.Background(), h, worldlock.NewRequest().WithWrite(coordB))
		require.NoError(t, err)
		close(upgradeGranted)
	}()
	time.Sleep(10 * time.Millisecond)

	l.Release(blocker)

	select {
	case <-upgradeGranted:
	case <-time.After(time.Second):
		t.Fatal("upgrade was not granted ahead of the later-queued request")
	}
	select {
	case <-thirdGranted:
		t.Fatal("the unrelated later request should not have been granted before the upgrade")
	case <-time.After(20 * time.Millisecond):
	}
}
