package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := NewRedisClient(mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, 5*time.Second), mr
}

func TestWithLockRunsCriticalSection(t *testing.T) {
	locker, _ := newTestLocker(t)

	ran := false
	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithLockReleasesAfterwards(t *testing.T) {
	locker, mr := newTestLocker(t)

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:test"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:test"))

	// The key is reusable immediately.
	err = locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWithLockContention(t *testing.T) {
	locker, _ := newTestLocker(t)

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		// The holder is still inside: a second acquisition must fail fast.
		inner := locker.WithLock(ctx, "lock:test", func(ctx context.Context) error {
			t.Fatal("critical section entered while locked")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithLockDifferentKeysDoNotContend(t *testing.T) {
	locker, _ := newTestLocker(t)

	err := locker.WithLock(context.Background(), "lock:a", func(ctx context.Context) error {
		return locker.WithLock(ctx, "lock:b", func(ctx context.Context) error { return nil })
	})
	assert.NoError(t, err)
}

func TestWithLockReleasedOnSectionError(t *testing.T) {
	locker, mr := newTestLocker(t)

	sectionErr := assert.AnError
	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		return sectionErr
	})
	assert.ErrorIs(t, err, sectionErr)
	assert.False(t, mr.Exists("lock:test"))
}

func TestWithLockDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		// Simulate TTL expiry plus takeover by another holder mid-section.
		require.NoError(t, mr.Set("lock:test", "someone-else"))
		return nil
	})
	require.NoError(t, err)

	// The deferred release must leave the new holder's lock alone.
	val, err := mr.Get("lock:test")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestLockKeys(t *testing.T) {
	doctorID := uuid.MustParse("7b0f7d3c-0000-4000-8000-000000000001")
	apptID := uuid.MustParse("7b0f7d3c-0000-4000-8000-000000000002")

	assert.Equal(t,
		"lock:slot:7b0f7d3c-0000-4000-8000-000000000001:10_06_2025:09:00",
		SlotKey(doctorID, "10_06_2025", "09:00"))
	assert.Equal(t,
		"lock:appt:7b0f7d3c-0000-4000-8000-000000000002",
		AppointmentKey(apptID))
}
