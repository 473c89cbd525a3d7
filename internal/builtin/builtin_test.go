package builtin

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLogAggregator_BodyDrainsQueueInOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	agg := NewLogAggregator(logger)

	agg.Enqueue(zerolog.InfoLevel, "first", nil)
	agg.Enqueue(zerolog.WarnLevel, "second", map[string]any{"n": 1})

	require.NoError(t, agg.Body(context.Background()))
	out := buf.String()
	require.Contains(t, out, "first")
	require.Contains(t, out, "second")
	require.Less(t, strings.Index(out, "first"), strings.Index(out, "second"))

	buf.Reset()
	require.NoError(t, agg.Body(context.Background()))
	require.Empty(t, buf.String(), "a second drain with nothing queued must emit nothing")
}

type fakeCacheSorter struct {
	calls int
	err   error
}

func (f *fakeCacheSorter) SortWorkUnits(rebuildCache bool) error {
	if !rebuildCache {
		return errors.New("sorter must always request a full rebuild")
	}
	f.calls++
	return f.err
}

func TestSorter_OnlyRebuildsEveryNthFrame(t *testing.T) {
	sched := &fakeCacheSorter{}
	s := NewSorter(sched, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Body(context.Background()))
	}
	require.Equal(t, 1, sched.calls, "frames 1,2 skip; frame 3 rebuilds; 4,5 skip again")
}

func TestSorter_ClampsNonPositiveInterval(t *testing.T) {
	sched := &fakeCacheSorter{}
	s := NewSorter(sched, 0)
	require.NoError(t, s.Body(context.Background()))
	require.Equal(t, 1, sched.calls)
}

func TestAsyncFileLoader_LoadAllThenBodyPublishesViaDoubleBuffer(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(pathA, []byte("alpha"), 0o600))
	require.NoError(t, os.WriteFile(pathB, []byte("beta"), 0o600))

	l := NewAsyncFileLoader()
	require.True(t, l.LoadAll(context.Background(), []string{pathA, pathB}))

	require.Eventually(t, func() bool {
		return l.Body(context.Background()) == nil && len(l.Output().Current().Files) == 2
	}, time.Second, time.Millisecond)

	require.Equal(t, []byte("alpha"), l.Output().Current().Files[pathA])
	require.Equal(t, []byte("beta"), l.Output().Current().Files[pathB])
}
