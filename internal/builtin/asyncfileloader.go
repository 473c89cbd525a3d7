package builtin

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"frameforge/internal/asyncunit"
	"frameforge/internal/dbuf"
)

// FileLoadResult is the payload AsyncFileLoader publishes: every requested
// path's bytes, keyed by path.
type FileLoadResult struct {
	Files map[string][]byte
}

// AsyncFileLoader is a Kind=Async built-in work unit: LoadAll kicks off a
// background read of every requested path concurrently (via errgroup), and
// Body non-blockingly polls for the result, publishing it into a
// double-buffered resource other work units read through Previous() on the
// next frame.
type AsyncFileLoader struct {
	async *asyncunit.AsyncWorkUnit[FileLoadResult]
	out   *dbuf.Resource[FileLoadResult]
}

// NewAsyncFileLoader constructs an idle loader with an empty published
// result.
func NewAsyncFileLoader() *AsyncFileLoader {
	return &AsyncFileLoader{
		async: asyncunit.New[FileLoadResult](),
		out:   dbuf.New(FileLoadResult{Files: map[string][]byte{}}),
	}
}

// Output returns the double-buffered resource Body publishes into. Register
// it with the scheduler via RegisterResource so its parity flips every
// frame.
func (l *AsyncFileLoader) Output() *dbuf.Resource[FileLoadResult] {
	return l.out
}

// LoadAll launches a background fetch of every path in paths, concurrently.
// Returns false without starting anything if a previous load is still in
// flight.
func (l *AsyncFileLoader) LoadAll(ctx context.Context, paths []string) bool {
	return l.async.Launch(ctx, func(ctx context.Context) (FileLoadResult, error) {
		var mu sync.Mutex
		files := make(map[string][]byte, len(paths))

		g, gctx := errgroup.WithContext(ctx)
		for _, p := range paths {
			p := p
			g.Go(func() error {
				b, err := readFile(gctx, p)
				if err != nil {
					return err
				}
				mu.Lock()
				files[p] = b
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return FileLoadResult{}, err
		}
		return FileLoadResult{Files: files}, nil
	})
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Body is installed on a Kind=Async work unit. It never blocks: if the
// background load hasn't finished this frame, it is a no-op.
func (l *AsyncFileLoader) Body(ctx context.Context) error {
	result, done, err := l.async.Poll()
	if !done {
		return nil
	}
	if err != nil {
		return err
	}
	*l.out.Current() = result
	return nil
}
