// Package async runs short fan-out work with bounded concurrency.
//
// Batch sends each item through a fixed number of workers, gives every call
// its own timeout and recovers panics, so one bad item cannot take the
// request down with it:
//
//	errs := async.Batch(ctx, logger, addrs, 4, "class invite", 10*time.Second, send)
//	for i, err := range errs {
//		if err != nil {
//			failed = append(failed, addrs[i])
//		}
//	}
//
// Results are aligned with the input, so callers can report failures in the
// order the items were given.
package async
