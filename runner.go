package m2mencoder

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// taskRunner runs posted functions one at a time, in posting order, on a
// dedicated goroutine. Posting never blocks.
type taskRunner struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	stopped bool

	done chan struct{}
}

func newTaskRunner(name string) *taskRunner {
	r := &taskRunner{
		name: name,
		done: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.run()
	return r
}

// Post appends task to the queue. It returns false once the runner has been
// stopped; the task is dropped in that case.
func (r *taskRunner) Post(task func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return false
	}
	r.tasks = append(r.tasks, task)
	r.cond.Signal()
	return true
}

// Stop makes the runner exit after the task currently running. Tasks still
// queued are dropped. Stop may be called from a task; it never waits.
func (r *taskRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	r.cond.Signal()
}

// StopAfterPending makes the runner exit once every task posted so far has
// run.
func (r *taskRunner) StopAfterPending() {
	r.Post(r.Stop)
}

// Done is closed when the runner goroutine has exited.
func (r *taskRunner) Done() <-chan struct{} { return r.done }

func (r *taskRunner) next() (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.tasks) == 0 && !r.stopped {
		r.cond.Wait()
	}
	if r.stopped {
		dropped := len(r.tasks)
		r.tasks = nil
		if dropped > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "taskRunner.next",
				"runner":   r.name,
				"dropped":  dropped,
			}).Debug("Dropping tasks posted after stop")
		}
		return nil, false
	}

	task := r.tasks[0]
	r.tasks[0] = nil
	r.tasks = r.tasks[1:]
	return task, true
}

func (r *taskRunner) run() {
	defer close(r.done)
	for {
		task, ok := r.next()
		if !ok {
			return
		}
		task()
	}
}
