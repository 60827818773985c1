package procmon

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RespawnQueue schedules a dead process's next respawn attempt, delayed by
// backoff, and hands back whichever scheduled process is ready first.
type RespawnQueue interface {
	// ScheduleRespawn arranges for id to become ready after delay. A repeat
	// call for an id already scheduled only brings its readiness forward,
	// never pushes it back, so a tightening backoff decision always wins.
	ScheduleRespawn(id ProcessID, delay time.Duration)

	// NextReady removes and returns the earliest process whose delay has
	// elapsed. Returns ("", false) if none is ready yet.
	NextReady() (ProcessID, bool)

	// Len returns the number of processes currently scheduled.
	Len() int

	// Wait returns a channel that receives whenever scheduling state
	// changes, for a caller's reconciliation loop to wake up on.
	Wait() <-chan struct{}
}

// respawnQueue implements RespawnQueue with a priority queue (min-heap) on
// readiness time.
type respawnQueue struct {
	mu       sync.Mutex
	tasks    *respawnHeap
	notifyCh chan struct{}
}

// respawnTask is one process awaiting its next respawn attempt.
type respawnTask struct {
	id      ProcessID
	readyAt time.Time
	index   int // position in the heap, maintained by container/heap
}

// respawnHeap implements heap.Interface over respawnTask, ordered by readyAt.
type respawnHeap []*respawnTask

func (h respawnHeap) Len() int { return len(h) }

func (h respawnHeap) Less(i, j int) bool {
	return h[i].readyAt.Before(h[j].readyAt)
}

func (h respawnHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *respawnHeap) Push(x interface{}) {
	task := x.(*respawnTask)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *respawnHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// NewRespawnQueue returns an empty RespawnQueue.
func NewRespawnQueue() RespawnQueue {
	tasks := &respawnHeap{}
	heap.Init(tasks)

	return &respawnQueue{
		tasks:    tasks,
		notifyCh: make(chan struct{}, 1),
	}
}

func (q *respawnQueue) ScheduleRespawn(id ProcessID, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	readyAt := time.Now().Add(delay)

	for _, task := range *q.tasks {
		if task.id == id {
			if readyAt.Before(task.readyAt) {
				task.readyAt = readyAt
				heap.Fix(q.tasks, task.index)
			}
			q.notify()
			return
		}
	}

	heap.Push(q.tasks, &respawnTask{id: id, readyAt: readyAt})
	q.notify()
}

func (q *respawnQueue) NextReady() (ProcessID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.tasks.Len() == 0 {
		return "", false
	}

	next := (*q.tasks)[0]
	if time.Now().Before(next.readyAt) {
		return "", false
	}

	heap.Pop(q.tasks)
	return next.id, true
}

func (q *respawnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

func (q *respawnQueue) Wait() <-chan struct{} {
	return q.notifyCh
}

func (q *respawnQueue) notify() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

// Jitter randomizes duration by up to jitterFraction (0.0 = none, 1.0 = up
// to 100%) so a burst of processes dying together doesn't retry in lockstep.
func Jitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	jitter := r.Float64() * jitterFraction

	multiplier := 1.0 + (jitter * 2.0) - jitterFraction
	return time.Duration(float64(duration) * multiplier)
}

// ExponentialBackoff computes the respawn delay for the attempt'th
// (0-indexed) consecutive failure, doubling from baseDelay up to maxDelay,
// with ±25% jitter applied; the jittered result is still capped at maxDelay.
func ExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(baseDelay) * multiplier)

	if delay > maxDelay {
		delay = maxDelay
	}

	delay = Jitter(delay, 0.25)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
