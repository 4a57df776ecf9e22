package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdentityLocks_SerializeAndCleanUp(t *testing.T) {
	locks := newIdentityLocks()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "alice")
	require.NoError(t, err)

	// Other identities do not contend.
	releaseBob, err := locks.acquire(ctx, "bob")
	require.NoError(t, err)
	releaseBob()

	acquired := make(chan struct{})
	go func() {
		r, err := locks.acquire(ctx, "alice")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	require.Eventually(t, func() bool { return locks.len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestIdentityLocks_CancelledWait(t *testing.T) {
	locks := newIdentityLocks()
	release, err := locks.acquire(context.Background(), "alice")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "alice")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, locks.len())
}
