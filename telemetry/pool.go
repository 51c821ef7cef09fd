package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/log2"
)

const DefaultWorkers = 15

const (
	taskQueued int32 = iota
	taskRunning
	taskDone
	taskCancelled
)

// Task is one scheduled callback execution.
type Task struct {
	fun    func()
	state  int32
	future *helpers.Future
}

func (t *Task) Done() <-chan struct{} { return t.future.Done() }

// Finished is true after run or cancel.
func (t *Task) Finished() bool {
	s := atomic.LoadInt32(&t.state)
	return s == taskDone || s == taskCancelled
}

// Cancel prevents queued task from running. Running task is not interrupted.
func (t *Task) Cancel() bool {
	if atomic.CompareAndSwapInt32(&t.state, taskQueued, taskCancelled) {
		t.future.Cancel(nil)
		return true
	}
	return false
}

// Pool runs tasks on fixed number of workers.
type Pool struct {
	log   *log2.Log
	tasks chan *Task
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func NewPool(log *log2.Log, workers, queue int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		log:   log,
		tasks: make(chan *Task, queue),
		stop:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit schedules f. After Close returned task is already cancelled.
func (p *Pool) Submit(f func()) *Task {
	t := &Task{fun: f, future: helpers.NewFuture()}
	select {
	case <-p.stop:
		t.Cancel()
		return t
	default:
	}
	select {
	case p.tasks <- t:
	case <-p.stop:
		t.Cancel()
	}
	return t
}

// Close does not wait for running tasks; queued ones are cancelled.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.stop)
		go func() {
			p.wg.Wait()
			for {
				select {
				case t := <-p.tasks:
					t.Cancel()
				default:
					return
				}
			}
		}()
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			p.run(t)
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) run(t *Task) {
	if !atomic.CompareAndSwapInt32(&t.state, taskQueued, taskRunning) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("telemetry: callback panic: %v", r)
		}
		atomic.StoreInt32(&t.state, taskDone)
		t.future.Complete(nil)
	}()
	t.fun()
}
