package s3fs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeBlocksNewOperations(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "f", []byte("x"), "")
	fs := newTestFS(t, fake, Options{})

	info, err := fs.GetFileInfo(context.Background(), "bucket/f")
	require.NoError(t, err)
	assert.Equal(t, FileTypeFile, info.Type)

	Finalize()
	assert.True(t, IsFinalized())

	_, err = fs.GetFileInfo(context.Background(), "bucket/f")
	assert.True(t, errors.Is(err, ErrFinalized))

	err = fs.CreateDir(context.Background(), "bucket/d", true)
	assert.True(t, errors.Is(err, ErrFinalized))

	_, err = fs.OpenInputFile(context.Background(), "bucket/f")
	assert.True(t, errors.Is(err, ErrFinalized))
}

func TestFinalizeWaitsForOutstandingLocks(t *testing.T) {
	resetFinalizerForTesting()

	holder, err := newClientHolder(newFakeS3())
	require.NoError(t, err)
	defer holder.Close()

	lock, err := holder.Lock()
	require.NoError(t, err)

	var finalized atomic.Bool
	done := make(chan struct{})
	go func() {
		Finalize()
		finalized.Store(true)
		close(done)
	}()

	// Finalize must not complete while the lock is held.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, finalized.Load())

	lock.Unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Finalize did not return after the lock was released")
	}
}

func TestLockAfterHolderClose(t *testing.T) {
	resetFinalizerForTesting()

	holder, err := newClientHolder(newFakeS3())
	require.NoError(t, err)
	holder.Close()

	_, err = holder.Lock()
	assert.True(t, errors.Is(err, ErrFinalized))

	// Close is safe to repeat.
	holder.Close()
}

func TestLockUnlockIdempotent(t *testing.T) {
	resetFinalizerForTesting()

	holder, err := newClientHolder(newFakeS3())
	require.NoError(t, err)
	defer holder.Close()

	lock, err := holder.Lock()
	require.NoError(t, err)
	lock.Unlock()
	lock.Unlock()
}

func TestNewHolderAfterFinalize(t *testing.T) {
	resetFinalizerForTesting()
	Finalize()

	_, err := newClientHolder(newFakeS3())
	assert.True(t, errors.Is(err, ErrFinalized))
}

func TestConcurrentLockersAgainstFinalize(t *testing.T) {
	resetFinalizerForTesting()

	holder, err := newClientHolder(newFakeS3())
	require.NoError(t, err)
	defer holder.Close()

	var inFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				lock, err := holder.Lock()
				if err != nil {
					return
				}
				inFlight.Add(1)
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				lock.Unlock()
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	Finalize()
	assert.Zero(t, inFlight.Load(), "finalize returned with calls in flight")
	wg.Wait()
}
