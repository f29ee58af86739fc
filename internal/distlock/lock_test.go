package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilLockerRunsUnguarded(t *testing.T) {
	locker := NewLocker(nil, zap.NewNop())
	require.Nil(t, locker)

	calls := 0
	ran, err := locker.Do(context.Background(), "reminder_sweep", time.Minute, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = locker.Do(context.Background(), "reminder_sweep", time.Minute, func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestNilLockerRejectsDirectLocking(t *testing.T) {
	var locker *Locker
	_, ok, err := locker.TryLock(context.Background(), "reminder_sweep", time.Minute)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, ok)
	require.NoError(t, locker.Release(context.Background(), "reminder_sweep", "token"))
}
