package lanchain

// scheduler.go models the forwarding engine of a router as a set of cores
// serving per-packet route lookups first-come first-serve.  A packet handed
// to the scheduler is served by the core that frees up first, and the
// completion handler is scheduled on the event manager for the moment its
// service ends.

import (
	"container/heap"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// DefaultRouteDelay is the per-packet processing time of a router, in seconds
const DefaultRouteDelay = 10e-5

// coreFreeHeap is a min-heap of the times at which cores become idle
type coreFreeHeap []float64

func (h coreFreeHeap) Len() int           { return len(h) }
func (h coreFreeHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h coreFreeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *coreFreeHeap) Push(x any) {
	*h = append(*h, x.(float64))
}

func (h *coreFreeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// TaskScheduler serves tasks on a fixed number of cores
type TaskScheduler struct {
	cores    int
	freeAt   coreFreeHeap
	served   int
	maxQueue float64 // longest wait seen, seconds
}

// CreateTaskScheduler is a constructor
func CreateTaskScheduler(cores int) *TaskScheduler {
	if cores < 1 {
		cores = 1
	}
	ts := new(TaskScheduler)
	ts.cores = cores
	ts.freeAt = make(coreFreeHeap, 0, cores)
	for idx := 0; idx < cores; idx++ {
		ts.freeAt = append(ts.freeAt, 0.0)
	}
	heap.Init(&ts.freeAt)
	return ts
}

// Schedule serves a task needing req seconds of service.  When the task
// completes, complete is called with the given context and data.  The return
// is the simulation time at which service completes.
func (ts *TaskScheduler) Schedule(evtMgr *evtm.EventManager, req float64,
	context any, data any, complete evtm.EventHandlerFunction) float64 {

	now := evtMgr.CurrentSeconds()

	// the core that frees up first takes the task
	free := heap.Pop(&ts.freeAt).(float64)
	start := free
	if start < now {
		start = now
	}
	finish := roundFloat(start+req, rdigits)
	heap.Push(&ts.freeAt, finish)

	if wait := start - now; wait > ts.maxQueue {
		ts.maxQueue = wait
	}
	ts.served += 1

	evtMgr.Schedule(context, data, complete, vrtime.SecondsToTime(finish-now))
	return finish
}

// Served returns the number of tasks handed to the scheduler
func (ts *TaskScheduler) Served() int {
	return ts.served
}

// MaxWait returns the longest time a task waited for a free core, in seconds
func (ts *TaskScheduler) MaxWait() float64 {
	return ts.maxQueue
}
