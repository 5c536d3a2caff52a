package simulation

import "container/heap"

type TaskKind uint

const (
	MiningComplete TaskKind = iota
	BlockArrival
)

func (k TaskKind) String() string {
	switch k {
	case MiningComplete:
		return "MINING_COMPLETE"
	case BlockArrival:
		return "BLOCK_ARRIVAL"
	}
	return "UNKNOWN"
}

// Task is a future event. Parent is the block a MiningComplete was
// scheduled on; Block and From describe a BlockArrival.
type Task struct {
	Kind   TaskKind
	At     int64
	Node   int
	Parent Hash
	Block  Hash
	From   int

	seq uint64
}

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].At != q[j].At {
		return q[i].At < q[j].At
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*Task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// Scheduler owns the simulation clock and the queue of future tasks.
// Tasks run in timestamp order, ties broken by insertion order.
type Scheduler struct {
	now   int64
	seq   uint64
	queue taskQueue
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) Now() int64 {
	return s.now
}

func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Schedule enqueues t to run delay milliseconds from now.
func (s *Scheduler) Schedule(t *Task, delay int64) {
	if delay < 0 {
		delay = 0
	}
	t.At = s.now + delay
	t.seq = s.seq
	s.seq++
	heap.Push(&s.queue, t)
}

// Next pops the earliest task and advances the clock to it. It returns
// false once the queue is empty.
func (s *Scheduler) Next() (*Task, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	t := heap.Pop(&s.queue).(*Task)
	s.now = t.At
	return t, true
}

// Peek returns the earliest task without removing it.
func (s *Scheduler) Peek() (*Task, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	return s.queue[0], true
}
