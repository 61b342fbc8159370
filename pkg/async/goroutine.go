package async

import (
	"context"
	"sync"
	"time"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// Batch runs fn for every item on at most workers goroutines and returns one
// error per item, aligned with items. Each call gets its own timeout derived
// from ctx. A panicking call is logged and reported as that item's error;
// the remaining items still run.
//
// Example:
//
//	errs := async.Batch(ctx, logger, emails, 4, "class invite", 10*time.Second,
//	    func(ctx context.Context, addr string) error {
//	        return mailer.Send(ctx, messageFor(addr))
//	    })
func Batch[T any](ctx context.Context, logger *observability.Logger, items []T, workers int, taskName string,
	timeout time.Duration, fn func(context.Context, T) error) []error {

	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				errs[i] = run(ctx, logger, taskName, timeout, func(ctx context.Context) error {
					return fn(ctx, items[i])
				})
			}
		}()
	}

feed:
	for i := range items {
		select {
		case indexes <- i:
		case <-ctx.Done():
			for j := i; j < len(items); j++ {
				errs[j] = ctx.Err()
			}
			break feed
		}
	}
	close(indexes)
	wg.Wait()
	return errs
}

func run(parent context.Context, logger *observability.Logger, taskName string, timeout time.Duration,
	fn func(context.Context) error) (err error) {

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	defer func() {
		if perr := observability.PanicError(logger, taskName, recover()); perr != nil {
			err = perr
		}
	}()
	return fn(ctx)
}
