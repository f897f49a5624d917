package util

func mod(a int, b int) int {
	return ((a % b) + b) % b
}

// Growable LIFO stack. Pop hands back the most recently pushed value - the free lists
// rely on this for cache/TLB locality.
type Stack[T any] struct {
	data	[]T
}

func CreateStack[T any](capacity int) Stack[T] {
	return Stack[T] {
		data: make([]T, 0, capacity),
	}
}

func (s *Stack[T]) Cnt() int {
	return len(s.data)
}

// Only allocates when the backing array has to grow.
func (s *Stack[T]) Push(val T) {
	s.data = append(s.data, val)
}

func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	n := len(s.data)
	if n == 0 { return zero, false }
	val := s.data[n-1]
	s.data[n-1] = zero // dont keep the slice alive through the backing array
	s.data = s.data[:n-1]
	return val, true
}

// fixed-size ring-buffer queue
type Queue[T any] struct {
	data	[]T
	head	int // next slot to write to
	cnt 	int
}

func CreateQueue[T any](size int) Queue[T] {
	return Queue[T] {
		head: 	0,
		cnt: 	0,
		data: 	make([]T, size),
	}
}

func (q *Queue[T]) Cnt() int {
	return q.cnt
}

// will panic if out of space.
func (q *Queue[T]) Push(val T) {
	if q.cnt == len(q.data) { panic("queue overflow") }
	q.data[q.head] = val
	q.head = mod((q.head + 1), len(q.data))
	q.cnt++
}

func (q *Queue[T]) Pop() T {
	if q.cnt == 0 { panic("queue underflow") }
	i := mod((q.head - q.cnt), len(q.data))
	q.cnt--
	return q.data[i]
}


// TicketQueue combines a fixed contiguous array and a queue of numbered "tickets" which
// correspond to slots in the contiguous array. In other words, a shared pool of slots
// where a ticket is only ever held by one owner at a time.
type TicketQueue[T any] struct {
	queue		Queue[int]
	data		[]T
}

func CreateTicketQueue[T any](size int) TicketQueue[T] {
	queue := CreateQueue[int](size)
	for i := range size {
		queue.Push(i)
	}
	data := make([]T, size)

	return TicketQueue[T]{
		queue: queue,
		data: data,
	}
}

// Number of tickets currently available
func (tq *TicketQueue[T]) Free() int {
	return tq.queue.Cnt()
}

func (tq *TicketQueue[T]) Size() int {
	return len(tq.data)
}

// This acquires a ticket and sets the slot to the passed value.
// ok is false if every ticket is held.
func (tq *TicketQueue[T]) Acq(val T) (int, bool) {
	if tq.queue.Cnt() == 0 { return -1, false }
	ticket := tq.queue.Pop()
	tq.data[ticket] = val
	return ticket, true
}

func (tq *TicketQueue[T]) Rel(ticket int) {
	var zero T
	tq.data[ticket] = zero
	tq.queue.Push(ticket)
}

func (tq *TicketQueue[T]) Get(ticket int) T {
	return tq.data[ticket]
}

// Slots in ticket order, held or not. Released slots hold the zero value.
func (tq *TicketQueue[T]) Slots() []T {
	return tq.data
}
