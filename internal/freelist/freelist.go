// Per size class pools of reusable buffers. This is the hot path: no OS calls, no
// registration, and no allocation once the stacks have grown.
package freelist

import (
	"hugealloc/internal/sizeclass"
	"hugealloc/internal/util"

	"github.com/negrel/assert"
)

// A borrowed view of allocator memory. Len() is always a class size. The holder must hand
// it back to Free exactly once.
type Buffer struct {
	Buf		[]byte
	LKey	uint32 // registration key of the owning region
}

func (b Buffer) Len() uint64 	{ return uint64(len(b.Buf)) }
func (b Buffer) IsEmpty() bool	{ return b.Buf == nil }

const INITIAL_CAP = 8

type Pool struct {
	classes		sizeclass.Table
	lists		[]util.Stack[Buffer]
}

func CreatePool(classes sizeclass.Table) *Pool {
	lists := make([]util.Stack[Buffer], classes.NumClasses())
	for i := range lists {
		lists[i] = util.CreateStack[Buffer](INITIAL_CAP)
	}
	return &Pool {
		classes: 	classes,
		lists: 		lists,
	}
}

func (p *Pool) Push(class int, b Buffer) {
	assert.Equal(b.Len(), p.classes.MaxSize(class), "buffer length doesnt match its class")
	p.lists[class].Push(b)
}

// Most recently pushed buffer of the class
func (p *Pool) Pop(class int) (Buffer, bool) {
	return p.lists[class].Pop()
}

func (p *Pool) Len(class int) int {
	return p.lists[class].Cnt()
}

// First class at or above class that has a free buffer, -1 if none.
func (p *Pool) FirstNonEmpty(class int) int {
	for ; class < len(p.lists); class++ {
		if p.lists[class].Cnt() > 0 { return class }
	}
	return -1
}

// Split one buffer of class into two of class-1. Both halves keep the parent's LKey since
// they are in the same region. The lower half ends up on top.
func (p *Pool) Split(class int) bool {
	assert.Less(0, class, "cant split the smallest class")
	b, ok := p.lists[class].Pop()
	if !ok { return false }

	half := len(b.Buf) / 2
	p.lists[class-1].Push(Buffer{Buf: b.Buf[half:len(b.Buf):len(b.Buf)], LKey: b.LKey})
	p.lists[class-1].Push(Buffer{Buf: b.Buf[:half:half], LKey: b.LKey})
	return true
}

// Bytes sitting in free lists
func (p *Pool) Bytes() uint64 {
	var total uint64
	for i := range p.lists {
		total += uint64(p.lists[i].Cnt()) * p.classes.MaxSize(i)
	}
	return total
}

func (p *Pool) Lens() []int {
	lens := make([]int, len(p.lists))
	for i := range p.lists {
		lens[i] = p.lists[i].Cnt()
	}
	return lens
}
