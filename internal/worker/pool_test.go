package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/zknotes/zknotes-bridge/pkg/util"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDoReturnsResult(t *testing.T) {
	p := New(2, 4)
	defer p.Close()

	want := errors.New("collaborator failed")
	if err := p.Do(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Do = %v, want %v", err, want)
	}
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("Do = %v, want nil", err)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	p := New(1, 1)
	defer p.Close()

	err := p.Do(context.Background(), func(context.Context) error { panic("kaboom") })
	var pe *util.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Do = %v, want *util.PanicError", err)
	}
	// 池在 panic 后仍可用
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("Do after panic = %v", err)
	}
}

func TestDoBoundsConcurrency(t *testing.T) {
	p := New(3, 10)
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestInFlightTaskNotCancelled(t *testing.T) {
	p := New(1, 0)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var sawCancel atomic.Bool

	errc := make(chan error, 1)
	go func() {
		errc <- p.Do(ctx, func(taskCtx context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			sawCancel.Store(taskCtx.Err() != nil)
			return nil
		})
	}()
	<-started
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Do = %v, want nil", err)
	}
	if sawCancel.Load() {
		t.Error("in-flight task observed caller cancellation")
	}
}

func TestEnqueueWaitHonoursContext(t *testing.T) {
	p := New(1, 0)
	defer p.Close()

	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	// 等待唯一的槽位被占用
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do = %v, want DeadlineExceeded", err)
	}
	close(release)
}

func TestCloseRejectsNewWork(t *testing.T) {
	p := New(2, 2)
	p.Close()
	p.Close()
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after Close = %v, want ErrClosed", err)
	}
}
