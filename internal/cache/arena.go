package cache

// The list machinery below backs every policy that needs recency
// ordering. Entries live in a flat slice of slots addressed by integer
// index, with a free list threaded through unused slots; links are
// indices rather than pointers, so policy code never aliases nodes.

// nilIdx marks the absence of a slot reference.
const nilIdx = -1

// slot is one arena cell. Ghost slots carry a key but no value.
type slot struct {
	key   string
	value any
	prev  int
	next  int
}

// arena is a fixed-size pool of slots with an explicit free list.
type arena struct {
	slots []slot
	free  int
}

// newArena creates an arena with room for n slots.
func newArena(n int) *arena {
	a := &arena{
		slots: make([]slot, n),
		free:  nilIdx,
	}
	for i := n - 1; i >= 0; i-- {
		a.slots[i].next = a.free
		a.free = i
	}
	return a
}

// alloc takes a slot off the free list. Returns nilIdx when the arena
// is exhausted; callers evict first, so that is a programming error.
func (a *arena) alloc(key string, value any) int {
	idx := a.free
	if idx == nilIdx {
		return nilIdx
	}
	a.free = a.slots[idx].next
	a.slots[idx] = slot{key: key, value: value, prev: nilIdx, next: nilIdx}
	return idx
}

// release returns a slot to the free list and drops its contents.
func (a *arena) release(idx int) {
	a.slots[idx] = slot{next: a.free}
	a.free = idx
}

// list is a doubly-linked list of arena slots ordered front (most
// recent) to back (least recent).
type list struct {
	head int
	tail int
	size int
}

func newList() list {
	return list{head: nilIdx, tail: nilIdx}
}

// pushFront links an unattached slot at the front.
func (l *list) pushFront(a *arena, idx int) {
	s := &a.slots[idx]
	s.prev = nilIdx
	s.next = l.head
	if l.head != nilIdx {
		a.slots[l.head].prev = idx
	}
	l.head = idx
	if l.tail == nilIdx {
		l.tail = idx
	}
	l.size++
}

// remove unlinks a slot from the list without releasing it.
func (l *list) remove(a *arena, idx int) {
	s := &a.slots[idx]
	if s.prev != nilIdx {
		a.slots[s.prev].next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nilIdx {
		a.slots[s.next].prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev = nilIdx
	s.next = nilIdx
	l.size--
}

// popBack unlinks and returns the back slot, or nilIdx if empty.
func (l *list) popBack(a *arena) int {
	idx := l.tail
	if idx == nilIdx {
		return nilIdx
	}
	l.remove(a, idx)
	return idx
}

// moveToFront is remove followed by pushFront.
func (l *list) moveToFront(a *arena, idx int) {
	if l.head == idx {
		return
	}
	l.remove(a, idx)
	l.pushFront(a, idx)
}
