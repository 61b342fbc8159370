package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, nil)
}

func TestBatch(t *testing.T) {
	var processed atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6, 7}

	errs := Batch(context.Background(), testLogger(), items, 3, "test", time.Second, func(ctx context.Context, n int) error {
		processed.Add(1)
		return nil
	})

	require.Len(t, errs, len(items))
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(len(items)), processed.Load())
}

func TestBatch_ErrorsAlignWithItems(t *testing.T) {
	items := []string{"ok", "bad", "ok", "bad"}

	errs := Batch(context.Background(), testLogger(), items, 2, "test", time.Second, func(ctx context.Context, s string) error {
		if s == "bad" {
			return errors.New("rejected")
		}
		return nil
	})

	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.NoError(t, errs[2])
	assert.Error(t, errs[3])
}

func TestBatch_PanicBecomesError(t *testing.T) {
	errs := Batch(context.Background(), testLogger(), []int{0, 1}, 2, "test", time.Second, func(ctx context.Context, n int) error {
		if n == 1 {
			panic("boom")
		}
		return nil
	})

	assert.NoError(t, errs[0])
	require.Error(t, errs[1])
	assert.Contains(t, errs[1].Error(), "boom")
}

func TestBatch_PerItemTimeout(t *testing.T) {
	errs := Batch(context.Background(), testLogger(), []int{1}, 1, "test", 20*time.Millisecond, func(ctx context.Context, n int) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, errs[0], context.DeadlineExceeded)
}

func TestBatch_BoundedWorkers(t *testing.T) {
	var running, peak atomic.Int32
	items := make([]int, 12)

	Batch(context.Background(), testLogger(), items, 3, "test", time.Second, func(ctx context.Context, n int) error {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errs := Batch(ctx, testLogger(), []int{1, 2, 3}, 1, "test", time.Second, func(ctx context.Context, n int) error {
		return ctx.Err()
	})

	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestBatch_Empty(t *testing.T) {
	errs := Batch(context.Background(), testLogger(), []int(nil), 4, "test", time.Second, func(context.Context, int) error {
		t.Fatal("must not be called")
		return nil
	})
	assert.Empty(t, errs)
}
