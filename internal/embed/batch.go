package embed

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// batchEmbed partitions texts into contiguous sub-batches of at most
// maxBatchSize and dispatches them all concurrently — throttling is the
// rate limiter's job, not a semaphore's. Sub-batches carry their index so
// concatenation preserves the original order exactly.
func batchEmbed(ctx context.Context, texts []string, maxBatchSize int, fn func(ctx context.Context, sub []string) ([][]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 32
	}
	if len(texts) <= maxBatchSize {
		return fn(ctx, texts)
	}

	type subBatch struct {
		index int
		texts []string
	}
	var subs []subBatch
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		subs = append(subs, subBatch{index: start, texts: texts[start:end]})
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			vectors, err := fn(gctx, sub.texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(sub.texts) {
				return newError(ErrTransient, "provider returned wrong embedding count", nil)
			}
			copy(out[sub.index:], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
