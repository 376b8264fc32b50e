package scheduler

import (
	"context"
	"sync"
	"time"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[string]context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel, timers: make(map[string]context.CancelFunc)}
}

func (s *Scheduler) Stop() { s.cancel() }

func (s *Scheduler) Every(d time.Duration, job Job) { go s.loopEvery(d, job) }

func (s *Scheduler) OnceAfter(d time.Duration, job Job) { go s.onceAfter(s.ctx, d, job) }

// OnceAfterKeyed 注册带键的一次性定时任务，可在触发前用 CancelKey 取消。
// 同键重复注册会取消前一个。用于每个警报的宽限期定时器。
func (s *Scheduler) OnceAfterKeyed(key string, d time.Duration, job Job) {
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	if prev, ok := s.timers[key]; ok {
		prev()
	}
	s.timers[key] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.timers, key)
			s.mu.Unlock()
		}()
		s.onceAfter(ctx, d, job)
	}()
}

// CancelKey 取消带键的定时任务，键不存在时为空操作
func (s *Scheduler) CancelKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.timers[key]; ok {
		cancel()
		delete(s.timers, key)
	}
}

func (s *Scheduler) loopEvery(d time.Duration, job Job) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			job.Run(s.ctx)
		}
	}
}

func (s *Scheduler) onceAfter(ctx context.Context, d time.Duration, job Job) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(d):
		job.Run(ctx)
	}
}
