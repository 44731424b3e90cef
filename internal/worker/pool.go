// Package worker 固定大小的 worker 池, 驱动协作方调用至完成。
//
// 调用方同步等待结果 (Do 阻塞到任务结束); ctx 只约束入队等待,
// 已开始执行的任务不会被取消, 一定运行到完成或自身出错。
package worker

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/zknotes/zknotes-bridge/pkg/logger"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

// ErrClosed 池已关闭。
var ErrClosed = errors.New("worker pool closed")

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Pool 有界任务队列 + 固定 worker。
type Pool struct {
	queue    chan task
	inflight *semaphore.Weighted
	size     int

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

// New 创建 size 个 worker、队列容量 queueSize 的池。
func New(size, queueSize int) *Pool {
	size = max(size, 1)
	queueSize = max(queueSize, 0)
	p := &Pool{
		queue:    make(chan task, queueSize),
		inflight: semaphore.NewWeighted(int64(size + queueSize)),
		size:     size,
		closing:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	logger.Debug("worker pool started", logger.FieldSize, size, logger.FieldCount, queueSize)
	return p
}

// Size worker 数量。
func (p *Pool) Size() int { return p.size }

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.queue {
		err := util.CallSafely(func() error { return t.fn(t.ctx) })
		p.inflight.Release(1)
		t.done <- err
	}
}

// Do 提交任务并阻塞直到其完成, 返回任务错误 (panic 转为 *util.PanicError)。
// ctx 取消只影响排队阶段; 任务以 context.WithoutCancel(ctx) 运行。
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-p.closing:
		return ErrClosed
	default:
	}

	if err := p.inflight.Acquire(ctx, 1); err != nil {
		return err
	}

	t := task{ctx: context.WithoutCancel(ctx), fn: fn, done: make(chan error, 1)}
	select {
	case <-p.closing:
		p.inflight.Release(1)
		return ErrClosed
	default:
	}

	// 信号量保证队列有空位, 此处不会阻塞
	p.queue <- t
	return <-t.done
}

// Close 停止接收新任务, 等待已入队任务执行完毕后退出所有 worker。
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		// 占满信号量: 等待所有在途任务结束, 并阻止新的入队
		total := int64(cap(p.queue) + p.size)
		_ = p.inflight.Acquire(context.Background(), total)
		close(p.queue)
		// 释放给仍在排队的 Do, 它们随后看到 closing 并返回 ErrClosed
		p.inflight.Release(total)
	})
	p.wg.Wait()
}
