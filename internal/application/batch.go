package application

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Chunk splits items into consecutive slices of at most size elements, preserving order.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ForEachChunk partitions items into vendor-sized batches and runs fn for each batch,
// at most concurrency at a time. Results are returned in batch order. The first
// failure cancels batches that have not started and is returned with its batch index.
func ForEachChunk[T any, R any](ctx context.Context, items []T, size, concurrency int, fn func(ctx context.Context, batch []T) (R, error)) ([]R, error) {
	chunks := Chunk(items, size)
	results := make([]R, len(chunks))
	if len(chunks) == 0 {
		return results, nil
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, batch := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := fn(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch %d of %d: %w", i+1, len(chunks), err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PollFunc checks a job once and reports whether it reached a terminal state.
type PollFunc func(ctx context.Context) (done bool, err error)

// Poll calls fn every interval until it reports done, fails, or ctx ends.
func Poll(ctx context.Context, interval time.Duration, fn PollFunc) error {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
