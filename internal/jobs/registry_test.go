package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRegistry_IDsMonotonic(t *testing.T) {
	r := NewRegistry()
	if r.Counter() != 0 {
		t.Fatalf("Counter = %d, want 0", r.Counter())
	}

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.NextID()
			if _, dup := seen.LoadOrStore(id, true); dup {
				t.Errorf("duplicate id %d", id)
			}
		}()
	}
	wg.Wait()
	if r.Counter() != 50 {
		t.Errorf("Counter = %d, want 50", r.Counter())
	}
}

func TestRegistry_StartAndStatus(t *testing.T) {
	r := NewRegistry()
	j := r.Start(context.Background(), "upload", func(_ context.Context, m *Monitor) error {
		m.Report("file %d of %d", 1, 2)
		m.Report("file %d of %d", 2, 2)
		return nil
	})
	if err := j.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	st := j.Status()
	if st.State != StateDone {
		t.Errorf("State = %q, want done", st.State)
	}
	if !strings.Contains(st.Log, "file 2 of 2") {
		t.Errorf("Log = %q", st.Log)
	}
	if got, ok := r.Get(j.ID); !ok || got != j {
		t.Errorf("Get(%d) = %v, %v", j.ID, got, ok)
	}
}

func TestRegistry_FailureAndPanic(t *testing.T) {
	r := NewRegistry()
	failed := r.Start(context.Background(), "fail", func(context.Context, *Monitor) error {
		return errors.New("nope")
	})
	panicked := r.Start(context.Background(), "panic", func(context.Context, *Monitor) error {
		panic("boom")
	})

	if err := failed.Wait(); err == nil || err.Error() != "nope" {
		t.Errorf("failed.Wait = %v", err)
	}
	if err := panicked.Wait(); err == nil {
		t.Error("panicked.Wait = nil, want error")
	}
	for _, st := range r.List() {
		if st.State != StateFailed {
			t.Errorf("job %d state = %q, want failed", st.ID, st.State)
		}
	}
}

func TestRegistry_JobOutlivesCallerContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	j := r.Start(ctx, "long", func(jobCtx context.Context, _ *Monitor) error {
		<-release
		return jobCtx.Err()
	})
	cancel()
	close(release)
	if err := j.Wait(); err != nil {
		t.Errorf("job saw cancellation: %v", err)
	}
}

func TestRegistry_Prune(t *testing.T) {
	r := NewRegistry()
	j := r.Start(context.Background(), "quick", func(context.Context, *Monitor) error { return nil })
	_ = j.Wait()

	if n := r.Prune(time.Hour); n != 0 {
		t.Errorf("Prune(1h) = %d, want 0", n)
	}
	if n := r.Prune(-time.Second); n != 1 {
		t.Errorf("Prune(-1s) = %d, want 1", n)
	}
	if _, ok := r.Get(j.ID); ok {
		t.Error("job still registered after prune")
	}
}
