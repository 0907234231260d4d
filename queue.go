package obs

import "sync"

// command is one unit of work for the executor. body runs on the executor
// goroutine with the engine; fail completes the command with an error when
// the body cannot run or does not finish.
type command struct {
	label string
	body  func(e *Engine)
	fail  func(err error)
}

// admission says which runtime states a push accepts.
type admission uint8

const (
	admitRunning   admission = iota // user work: Running only
	admitTeardown                   // destructors: Running or ShuttingDown, until sealed
	admitLifecycle                  // init and final teardown
)

// commandQueue is an unbounded FIFO. Pushes from any goroutine are totally
// ordered by the mutex; only the executor pops.
type commandQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*command
	head   int
	sealed bool
	state  *stateMachine
}

func newCommandQueue(state *stateMachine) *commandQueue {
	q := &commandQueue{state: state}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends c if the queue and runtime state admit it.
func (q *commandQueue) push(c *command, adm admission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.admitLocked(adm); err != nil {
		return err
	}
	q.items = append(q.items, c)
	q.cond.Signal()
	return nil
}

func (q *commandQueue) admitLocked(adm admission) error {
	if q.sealed {
		return ErrNotRunning
	}
	switch st := q.state.load(); adm {
	case admitRunning:
		if st != StateRunning {
			return ErrNotRunning
		}
	case admitTeardown:
		if st != StateRunning && st != StateShuttingDown {
			return ErrNotRunning
		}
	case admitLifecycle:
	}
	return nil
}

// beginShutdown moves Running to ShuttingDown under the queue lock so that no
// user push can slip in after the transition.
func (q *commandQueue) beginShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.advanceTo(StateShuttingDown)
}

// seal appends last (when non-nil) and closes the queue to further pushes.
// It returns false if the queue was already sealed.
func (q *commandQueue) seal(last *command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return false
	}
	if last != nil {
		q.items = append(q.items, last)
	}
	q.sealed = true
	q.cond.Broadcast()
	return true
}

// pop blocks until a command is available. It returns false once the queue is
// sealed and empty.
func (q *commandQueue) pop() (*command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == len(q.items) {
		if q.sealed {
			return nil, false
		}
		q.cond.Wait()
	}
	c := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return c, true
}

// abandon seals the queue and hands back everything still pending.
func (q *commandQueue) abandon() []*command {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sealed = true
	pending := append([]*command(nil), q.items[q.head:]...)
	q.items = nil
	q.head = 0
	q.cond.Broadcast()
	return pending
}

func (q *commandQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
