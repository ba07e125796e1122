package httpd

import (
	"container/list"
	"errors"
	"sync"

	"github.com/vincentwuo/evhttpd/pkg/util"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

var ErrInvalidPoolSize = errors.New("worker count and queue capacity must be positive")

// Task is a unit of work run by the pool. A task must not be appended again
// before its Process call has handed it back (see Conn re-arming).
type Task interface {
	Process()
}

// Pool is a fixed set of workers draining a bounded FIFO queue.
type Pool struct {
	workerNum   int
	maxRequests int

	mu    sync.Mutex
	cond  *sync.Cond
	queue *list.List
	stop  bool
	wg    sync.WaitGroup

	processed *xsync.Counter
	rejected  *xsync.Counter
}

func NewPool(workerNum, maxRequests int) (*Pool, error) {
	if workerNum <= 0 || maxRequests <= 0 {
		return nil, ErrInvalidPoolSize
	}
	p := &Pool{
		workerNum:   workerNum,
		maxRequests: maxRequests,
		queue:       list.New(),
		processed:   xsync.NewCounter(),
		rejected:    xsync.NewCounter(),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workerNum; i++ {
		p.wg.Add(1)
		go p.run()
	}
	util.Logger().Debug("worker pool started", zap.Int("workers", workerNum), zap.Int("maxRequests", maxRequests))
	return p, nil
}

// Append queues t. It returns false when the queue already holds maxRequests
// tasks or the pool is stopped; the caller decides what happens to t.
func (p *Pool) Append(t Task) bool {
	p.mu.Lock()
	if p.stop || p.queue.Len() >= p.maxRequests {
		p.mu.Unlock()
		p.rejected.Inc()
		return false
	}
	p.queue.PushBack(t)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.stop {
			p.cond.Wait()
		}
		if p.stop {
			p.mu.Unlock()
			return
		}
		t, _ := p.queue.Remove(p.queue.Front()).(Task)
		p.mu.Unlock()
		if t == nil {
			continue
		}
		t.Process()
		p.processed.Inc()
	}
}

// Stop wakes every worker, waits for in-flight tasks and drops what is still queued.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stop {
		p.mu.Unlock()
		return
	}
	p.stop = true
	dropped := p.queue.Len()
	p.queue.Init()
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
	if dropped > 0 {
		util.Logger().Info("worker pool stopped", zap.Int("dropped", dropped))
	}
}

// Len returns the number of queued tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

func (p *Pool) Processed() int64 {
	return p.processed.Value()
}

func (p *Pool) Rejected() int64 {
	return p.rejected.Value()
}
