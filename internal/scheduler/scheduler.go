// Package scheduler wraps cron-based and one-shot task scheduling behind a
// small lifecycle so the rest of the service never touches timers directly.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a unit of scheduled work. The context is cancelled when the
// scheduler stops.
type Task func(ctx context.Context)

// Scheduler runs recurring cron jobs and delayed one-shot jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	timers  map[int]*time.Timer
	nextID  int
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
		timers: make(map[int]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Cron registers task under a standard five-field cron expression. It must be
// called before Start.
func (s *Scheduler) Cron(spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.wg.Add(1)
		defer s.wg.Done()
		task(s.ctx)
	})
	if err != nil {
		return err
	}
	s.logger.Info("cron job registered", zap.String("spec", spec))
	return nil
}

// Once runs task a single time after delay. Pending one-shots are dropped
// when the scheduler stops.
func (s *Scheduler) Once(delay time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	id := s.nextID
	s.nextID++
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		if s.ctx.Err() != nil {
			return
		}
		task(s.ctx)
	})
	s.logger.Info("one-shot job scheduled", zap.Duration("delay", delay))
}

// Start begins firing cron jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop cancels running tasks, drops pending one-shots and waits for in-flight
// work to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.mu.Lock()
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
