package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carbon-ledger-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocker_AcquireRelease(t *testing.T) {
	l := NewKeyedLocker(time.Second)

	release, err := l.Acquire(context.Background(), AccountKey(2), AccountKey(1), AccountKey(2))
	require.NoError(t, err)
	assert.Equal(t, 2, l.Size())

	release()
	release()
	assert.Equal(t, 0, l.Size())
}

func TestKeyedLocker_TimeoutReturnsBusy(t *testing.T) {
	l := NewKeyedLocker(50 * time.Millisecond)

	release, err := l.Acquire(context.Background(), AccountKey(1))
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), AccountKey(3), AccountKey(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBusy))
	assert.True(t, domain.IsRetryable(err))

	// the partially acquired key must have been released again
	r2, err := l.Acquire(context.Background(), AccountKey(3))
	require.NoError(t, err)
	r2()
}

func TestKeyedLocker_ContextCancelled(t *testing.T) {
	l := NewKeyedLocker(time.Minute)
	release, err := l.Acquire(context.Background(), ListingKey(9))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, ListingKey(9))
	assert.True(t, errors.Is(err, domain.ErrBusy))
}

func TestKeyedLocker_OppositeOrderNoDeadlock(t *testing.T) {
	l := NewKeyedLocker(5 * time.Second)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{AccountKey(1), AccountKey(2)}
			if i%2 == 1 {
				keys = []string{AccountKey(2), AccountKey(1)}
			}
			release, err := l.Acquire(context.Background(), keys...)
			if !assert.NoError(t, err) {
				return
			}
			counter++
			release()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, counter)
	assert.Equal(t, 0, l.Size())
}
