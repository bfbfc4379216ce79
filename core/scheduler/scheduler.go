package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"stem-splitter/core/models"

	"go.uber.org/zap"
)

// ErrStopped is returned when enqueueing after Stop
var ErrStopped = errors.New("scheduler stopped")

// Scheduler runs queued jobs on a fixed pool of background workers,
// decoupled from the request that submitted them
type Scheduler struct {
	queue   *JobQueue
	workers int
	logger  *zap.Logger

	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(workers int, logger *zap.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		queue:    NewJobQueue(),
		workers:  workers,
		logger:   logger,
		wake:     make(chan struct{}, workers),
		stopChan: make(chan struct{}),
	}
}

// Start launches the workers; jobs run with ctx
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("scheduler started", zap.Int("workers", s.workers))
}

// Stop refuses new jobs, lets workers drain the queue, and waits for them
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Enqueue adds a job to the queue
func (s *Scheduler) Enqueue(job *models.Job, run RunFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}

	s.queue.Enqueue(job, run)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of jobs waiting for a worker
func (s *Scheduler) Pending() int {
	return s.queue.Pending()
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		if item := s.queue.PopJob(); item != nil {
			s.execute(ctx, id, item)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			if s.queue.Pending() == 0 {
				return
			}
		case <-s.wake:
		}
	}
}

// execute runs one job; a panic is logged and never takes the worker down
func (s *Scheduler) execute(ctx context.Context, workerID int, item *QueuedJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked",
				zap.String("job_id", item.Job.ID),
				zap.Int("worker", workerID),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	s.logger.Debug("job picked up",
		zap.String("job_id", item.Job.ID),
		zap.Int("worker", workerID),
	)
	item.Run(ctx)
}
