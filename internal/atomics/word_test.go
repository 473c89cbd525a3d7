package atomics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWord_CompareAndSwap_ExactlyOneWinner(t *testing.T) {
	w := NewWord(0)

	const racers = 64
	var wg sync.WaitGroup
	wins := make([]bool, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		i := i
		go func() {
			defer wg.Done()
			wins[i] = w.CompareAndSwap(0, 1)
		}()
	}
	wg.Wait()

	winCount := 0
	for _, ok := range wins {
		if ok {
			winCount++
		}
	}
	require.Equal(t, 1, winCount, "exactly one racer must win the CAS")
	require.Equal(t, int32(1), w.Load())
}

func TestWord_StoreLoad_RoundTrip(t *testing.T) {
	w := NewWord(5)
	require.Equal(t, int32(5), w.Load())
	w.Store(9)
	require.Equal(t, int32(9), w.Load())
}
