package engine

import (
	"container/heap"
	"sync"
	"time"
)

const (
	INIT_DELY        = 30
	MAX_TICK_SECONDS = 30 * time.Second
)

// TimeQueue delivers events at (or after) their TimeStamp. It is used to resume
// work that was paused on purpose, such as a throttled response.
type TimeQueue struct {
	sync.RWMutex
	Timer *time.Timer
	Tq    *TaskQueue
}

type Task struct {
	Index     int
	TimeStamp int64
	Event     Event
}

type TaskQueue []*Task

func (tq TaskQueue) Len() int {
	return len(tq)
}

func (tq TaskQueue) Less(i, j int) bool {
	return tq[i].TimeStamp < tq[j].TimeStamp
}

func (tq TaskQueue) Swap(i, j int) {
	tq[i], tq[j] = tq[j], tq[i]
	tq[i].Index = i
	tq[j].Index = j
}

func (tq *TaskQueue) Push(x any) {
	n := len(*tq)
	task := x.(*Task)
	task.Index = n
	*tq = append(*tq, task)
}

func (tq *TaskQueue) Pop() any {
	old := *tq
	n := len(old)
	task := old[n-1]
	old[n-1] = nil  // avoid memory leak
	task.Index = -1 // for safety
	*tq = old[0 : n-1]
	return task
}

func NewTimeQueue() *TimeQueue {
	q := make(TaskQueue, 0)
	heap.Init(&q)
	return &TimeQueue{
		Tq:    &q,
		Timer: time.NewTimer(INIT_DELY * time.Second),
	}
}

func (q *TimeQueue) PushTask(task *Task) {
	q.Lock()
	defer q.Unlock()
	heap.Push(q.Tq, task)
}

// PushTaskAndTick queues the task and pulls the timer in so that the
// earliest task fires on time.
func (q *TimeQueue) PushTaskAndTick(task *Task) {
	q.Lock()
	defer q.Unlock()
	heap.Push(q.Tq, task)
	q.resetLocked()
}

// resetLocked points the timer at the earliest task, or MAX_TICK_SECONDS out
// when the queue is empty. Callers hold q's write lock.
func (q *TimeQueue) resetLocked() {
	duration := MAX_TICK_SECONDS
	if len(*q.Tq) != 0 {
		duration = time.Duration((*q.Tq)[0].TimeStamp - time.Now().UnixNano())
		if duration <= 0 {
			duration = 1
		} else if duration > MAX_TICK_SECONDS {
			duration = MAX_TICK_SECONDS
		}
	}
	q.Timer.Reset(duration)
}

func (q *TimeQueue) PopTask() *Task {
	q.Lock()
	defer q.Unlock()
	if q.Tq.Len() == 0 {
		return nil
	}
	return heap.Pop(q.Tq).(*Task)
}

func (q *TimeQueue) Peek() *Task {
	q.RLock()
	defer q.RUnlock()
	if len(*q.Tq) != 0 {
		return (*q.Tq)[0]
	}
	return nil
}

func (q *TimeQueue) Len() int {
	q.RLock()
	defer q.RUnlock()
	return q.Tq.Len()
}

// PopDue removes every task whose TimeStamp is not after now.
func (q *TimeQueue) PopDue(now int64) []Event {
	q.Lock()
	defer q.Unlock()
	var due []Event
	for q.Tq.Len() > 0 && (*q.Tq)[0].TimeStamp <= now {
		due = append(due, heap.Pop(q.Tq).(*Task).Event)
	}
	return due
}

// Ticking forwards due events to notify until stop is closed.
func (q *TimeQueue) Ticking(notify chan Event, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			q.Timer.Stop()
			return
		case <-q.Timer.C:
		}
		for _, ev := range q.PopDue(time.Now().UnixNano()) {
			select {
			case notify <- ev:
			case <-stop:
				return
			}
		}
		q.Lock()
		q.resetLocked()
		q.Unlock()
	}
}
