// Package jobs 后台长任务注册表。
//
// 每个任务 = 一个 goroutine + 一个 Monitor (进度环形缓冲)。
// 生命周期: Start → (Report...) → Done/Failed → Prune。
// 任务 id 由单调递增计数器分配, 从 1 开始。
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zknotes/zknotes-bridge/pkg/logger"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

// monitorLines 每个任务保留的进度行数。
const monitorLines = 200

// State 任务状态。
type State string

const (
	// StateRunning 任务运行中。
	StateRunning State = "running"
	// StateDone 任务成功完成。
	StateDone State = "done"
	// StateFailed 任务失败 (含 panic)。
	StateFailed State = "failed"
)

// Status 任务状态快照 (线程安全复制)。
type Status struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	State    State     `json:"state"`
	Error    string    `json:"error,omitempty"`
	Log      string    `json:"log"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitzero"`
}

// Monitor 任务进度输出。
type Monitor struct {
	buf *RingBuffer
}

// Report 追加一行进度。
func (m *Monitor) Report(format string, args ...any) {
	m.buf.Add(fmt.Sprintf(format, args...))
}

// Job 单个后台任务。
type Job struct {
	ID      int64
	Name    string
	monitor *Monitor
	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	state    State
	err      error
	finished time.Time
}

// Wait 阻塞直到任务结束, 返回任务错误。
func (j *Job) Wait() error {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done 任务结束时关闭的通道。
func (j *Job) Done() <-chan struct{} { return j.done }

// Status 返回状态快照。
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{
		ID:       j.ID,
		Name:     j.Name,
		State:    j.state,
		Log:      j.monitor.buf.String(),
		Started:  j.started,
		Finished: j.finished,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	return st
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	j.finished = time.Now()
	if err != nil {
		j.state = StateFailed
	} else {
		j.state = StateDone
	}
	j.mu.Unlock()
	close(j.done)
}

// Registry 任务注册表。并发安全。
type Registry struct {
	counter atomic.Int64
	mu      sync.RWMutex
	jobs    map[int64]*Job
}

// NewRegistry 创建空注册表, 计数器从 0 开始。
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[int64]*Job)}
}

// NextID 分配新的任务 id。
func (r *Registry) NextID() int64 {
	return r.counter.Add(1)
}

// Counter 返回已分配的最大 id。
func (r *Registry) Counter() int64 {
	return r.counter.Load()
}

// Start 启动任务。fn 中的 panic 被恢复并记为失败。
func (r *Registry) Start(ctx context.Context, name string, fn func(ctx context.Context, m *Monitor) error) *Job {
	j := &Job{
		ID:      r.NextID(),
		Name:    name,
		monitor: &Monitor{buf: NewRingBuffer(monitorLines)},
		started: time.Now(),
		done:    make(chan struct{}),
		state:   StateRunning,
	}

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	// 任务不随调用方 ctx 取消
	jobCtx := context.WithoutCancel(ctx)
	go func() {
		err := util.CallSafely(func() error { return fn(jobCtx, j.monitor) })
		if err != nil {
			logger.Warn("job failed", logger.FieldJobID, j.ID, logger.FieldName, j.Name, logger.FieldError, err)
		} else {
			logger.Debug("job done", logger.FieldJobID, j.ID, logger.FieldName, j.Name)
		}
		j.finish(err)
	}()
	return j
}

// Get 按 id 查找任务。
func (r *Registry) Get(id int64) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// List 返回所有任务状态, 按 id 升序。
func (r *Registry) List() []Status {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Status())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Prune 删除结束时间早于 maxAge 之前的已结束任务, 返回删除数量。
func (r *Registry) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		st := j.Status()
		if st.State != StateRunning && st.Finished.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}
