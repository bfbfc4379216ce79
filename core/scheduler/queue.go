package scheduler

import (
	"container/heap"
	"context"
	"sync"

	"stem-splitter/core/models"
)

// RunFunc executes one queued job in the scheduler's context
type RunFunc func(ctx context.Context)

// JobQueue is a priority queue for jobs, oldest first
type JobQueue struct {
	jobs []*QueuedJob
	seq  int64
	mu   sync.Mutex
}

// QueuedJob wraps a job with priority information
type QueuedJob struct {
	Job      *models.Job
	Run      RunFunc
	Priority int64 // Lower is higher priority
	Index    int   // For heap.Interface
	seq      int64
}

// NewJobQueue creates a new job queue
func NewJobQueue() *JobQueue {
	jq := &JobQueue{
		jobs: make([]*QueuedJob, 0),
	}
	heap.Init(jq)
	return jq
}

// Enqueue adds a job to the queue
func (jq *JobQueue) Enqueue(job *models.Job, run RunFunc) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	jq.seq++
	heap.Push(jq, &QueuedJob{
		Job:      job,
		Run:      run,
		Priority: job.CreatedAt.UnixNano(),
		seq:      jq.seq,
	})
}

// PopJob removes and returns the highest priority job, or nil when empty
func (jq *JobQueue) PopJob() *QueuedJob {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.Len() == 0 {
		return nil
	}

	return heap.Pop(jq).(*QueuedJob)
}

// Pending returns the number of queued jobs
func (jq *JobQueue) Pending() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return jq.Len()
}

// Len returns the number of jobs in the queue
func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}

// Less orders by receipt time, then by enqueue order
func (jq *JobQueue) Less(i, j int) bool {
	if jq.jobs[i].Priority != jq.jobs[j].Priority {
		return jq.jobs[i].Priority < jq.jobs[j].Priority
	}
	return jq.jobs[i].seq < jq.jobs[j].seq
}

// Swap swaps two jobs
func (jq *JobQueue) Swap(i, j int) {
	jq.jobs[i], jq.jobs[j] = jq.jobs[j], jq.jobs[i]
	jq.jobs[i].Index = i
	jq.jobs[j].Index = j
}

// Push implements heap.Interface
func (jq *JobQueue) Push(x interface{}) {
	n := len(jq.jobs)
	item := x.(*QueuedJob)
	item.Index = n
	jq.jobs = append(jq.jobs, item)
}

// Pop implements heap.Interface
func (jq *JobQueue) Pop() interface{} {
	old := jq.jobs
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	jq.jobs = old[0 : n-1]
	return item
}
