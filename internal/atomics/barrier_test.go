package atomics

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBarrier_ReleasesAllPartiesTogether(t *testing.T) {
	const parties = 8
	b, err := NewBarrier(parties)
	require.NoError(t, err)

	var arrived atomic.Int32
	var releasedBeforeLast atomic.Bool

	var wg sync.WaitGroup
	wg.Add(parties)
	for i := 0; i < parties; i++ {
		go func() {
			defer wg.Done()
			arrived.Add(1)
			b.Wait()
			if arrived.Load() != parties {
				releasedBeforeLast.Store(true)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("barrier did not release all parties")
	}
	require.False(t, releasedBeforeLast.Load())
}

func TestBarrier_ReusableAcrossGenerations(t *testing.T) {
	const parties = 4
	const cycles = 50
	b, err := NewBarrier(parties)
	require.NoError(t, err)

	for c := 0; c < cycles; c++ {
		var wg sync.WaitGroup
		wg.Add(parties)
		for i := 0; i < parties; i++ {
			go func() {
				defer wg.Done()
				b.Wait()
			}()
		}
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("cycle %d did not complete", c)
		}
	}
}

func TestNewBarrier_RejectsNonPositiveParties(t *testing.T) {
	_, err := NewBarrier(0)
	require.Error(t, err)
	_, err = NewBarrier(-1)
	require.Error(t, err)
}
