package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/missingtext/internal/common"
)

func TestQueueRunsEveryJob(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	q := NewProcessorQueue(func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.Path] = true
		mu.Unlock()
		return nil
	}, nil, WithWorkers(3), WithQueueSize(2))

	paths := []string{"a.pdf", "b.png", "c.txt", "d.pdf", "e.pdf"}
	for _, p := range paths {
		if err := q.Enqueue(context.Background(), NewJob(p)); err != nil {
			t.Fatalf("Enqueue(%s): %v", p, err)
		}
	}
	q.Shutdown(context.Background())

	for _, p := range paths {
		if !seen[p] {
			t.Errorf("%s was not processed", p)
		}
	}
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(func(context.Context, Job) error { return nil }, nil)
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())
	if err := q.Enqueue(context.Background(), NewJob("late.pdf")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestQueueSurvivesFailingAndPanickingJobs(t *testing.T) {
	var done atomic.Int32
	q := NewProcessorQueue(func(_ context.Context, job Job) error {
		defer done.Add(1)
		switch job.Path {
		case "boom":
			panic("decoder exploded")
		case "fail":
			return errors.New("unsupported")
		}
		return nil
	}, nil, WithWorkers(1))

	for _, p := range []string{"boom", "fail", "ok"} {
		_ = q.Enqueue(context.Background(), NewJob(p))
	}
	q.Shutdown(context.Background())
	if done.Load() != 3 {
		t.Fatalf("handled %d jobs, want 3", done.Load())
	}
}

func TestQueuePassesTimeoutAndRequestID(t *testing.T) {
	got := make(chan context.Context, 1)
	q := NewProcessorQueue(func(ctx context.Context, _ Job) error {
		got <- ctx
		return nil
	}, nil, WithProcessTimeout(time.Second))

	job := NewJob("x.pdf")
	job.RequestID = "req-1"
	_ = q.Enqueue(context.Background(), job)
	ctx := <-got
	q.Shutdown(context.Background())

	if _, ok := ctx.Deadline(); !ok {
		t.Error("job context has no deadline")
	}
	if common.RequestIDFromContext(ctx) != "req-1" {
		t.Error("request id not propagated")
	}
}

func TestEnqueueHonoursContextWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewProcessorQueue(func(context.Context, Job) error {
		<-release
		return nil
	}, nil, WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(release)
		q.Shutdown(context.Background())
	}()

	_ = q.Enqueue(context.Background(), NewJob("busy"))
	// one job in the worker, one buffered; the worker may not have picked
	// up the first yet, so fill until a send would block
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = q.Enqueue(ctx, NewJob("more"))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}
