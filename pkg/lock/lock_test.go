package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker) {
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "accrual")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "accrual")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	other, ok, err := l.TryAcquire(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok, "independent names do not contend")
	other()

	release()
	release()

	again, ok, err := l.TryAcquire(ctx, "accrual")
	require.NoError(t, err)
	assert.True(t, ok, "lease is free after release")
	again()
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal())
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	exerciseLocker(t, NewRedis(rdb, time.Minute))
}

func TestRedis_ExpiredLeaseIsNotReleasedByOldOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	l := NewRedis(rdb, time.Second)
	ctx := context.Background()

	stale, ok, err := l.TryAcquire(ctx, "accrual")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	fresh, ok, err := l.TryAcquire(ctx, "accrual")
	require.NoError(t, err)
	require.True(t, ok, "expired lease can be taken over")

	stale()
	_, ok, err = l.TryAcquire(ctx, "accrual")
	require.NoError(t, err)
	assert.False(t, ok, "old owner must not release the new lease")
	fresh()
}
