//go:build integration

package locker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pglocker "github.com/alanyang/task-mesh/internal/adapter/postgres/locker"
	"github.com/alanyang/task-mesh/internal/testutil"
)

func TestLocker_SecondHolderRejected(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	l := pglocker.New(pool)
	ctx := context.Background()
	key := pglocker.MasterLockKey + 1

	err := l.WithLock(ctx, key, func(ctx context.Context) error {
		inner := l.TryWithLock(ctx, key, func(context.Context) error { return nil })
		assert.True(t, errors.Is(inner, pglocker.ErrLockHeld), "got %v", inner)
		return nil
	})
	require.NoError(t, err)

	ran := false
	require.NoError(t, l.TryWithLock(ctx, key, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran, "lock released after the first holder returned")
}
