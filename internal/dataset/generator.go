package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// GeneratorOptions configures the training-batch generator.
type GeneratorOptions struct {
	Params     Params
	Seed       int64
	NumWorkers int
}

// StartGenerator launches a pool that renders fresh training batches until
// ctx is cancelled. Batch seeds are drawn from Seed in job order and the
// output is re-ordered by job, so the stream does not depend on NumWorkers.
func StartGenerator(parent context.Context, opts GeneratorOptions) (<-chan *VideoBatch, <-chan error, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, nil, fmt.Errorf("generator: %w", err)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan batchJob, opts.NumWorkers)
	results := make(chan batchResult, opts.NumWorkers)
	out := make(chan *VideoBatch, opts.NumWorkers)
	errCh := make(chan error, 1)

	go produceBatchJobs(ctx, jobs, rand.New(rand.NewSource(opts.Seed)))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			renderWorker(ctx, opts.Params, jobs, results)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		reorder(ctx, results, out, errCh)
	}()

	return out, errCh, nil
}

type batchJob struct {
	id   int64
	seed int64
}

type batchResult struct {
	id    int64
	batch *VideoBatch
	err   error
}

func produceBatchJobs(ctx context.Context, jobs chan<- batchJob, rng *rand.Rand) {
	defer close(jobs)
	for id := int64(0); ; id++ {
		job := batchJob{id: id, seed: rng.Int63()}
		select {
		case <-ctx.Done():
			return
		case jobs <- job:
		}
	}
}

func renderWorker(ctx context.Context, p Params, jobs <-chan batchJob, results chan<- batchResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			b, err := MakeVideoBatch(p, job.seed)
			select {
			case <-ctx.Done():
				return
			case results <- batchResult{id: job.id, batch: b, err: err}:
			}
		}
	}
}

// reorder emits batches strictly in job order.
func reorder(ctx context.Context, results <-chan batchResult, out chan<- *VideoBatch, errCh chan<- error) {
	pending := make(map[int64]batchResult)
	var nextID int64
	for {
		res, ok := pending[nextID]
		if !ok {
			select {
			case <-ctx.Done():
				return
			case r, open := <-results:
				if !open {
					return
				}
				pending[r.id] = r
			}
			continue
		}
		delete(pending, nextID)
		nextID++
		if res.err != nil {
			errCh <- fmt.Errorf("generate batch %d: %w", res.id, res.err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case out <- res.batch:
		}
	}
}
