package back

import (
	"nikand.dev/go/heap"
)

type (
	Reg int

	// Allocator caches named values in general purpose registers while
	// emitting one basic block. rax is reserved for returns and rdx for
	// division, neither enters the pool.
	//
	// When the pool runs dry the least recently touched binding is
	// evicted, written back to its stack slot if dirty. The spill and
	// fill callbacks emit the actual moves, the allocator itself never
	// touches the output.
	Allocator struct {
		spill func(r Reg, name string)
		fill  func(r Reg, name string)

		free   []Reg
		bound  map[string]Reg
		names  map[Reg]string
		dirty  map[Reg]bool
		pinned map[Reg]bool
		touch  map[Reg]int
		clock  int

		q heap.Heap[evict]

		usedCallee map[Reg]bool
	}

	// evict entries go stale when the register is touched again.
	// Pop skips entries whose tick no longer matches.
	evict struct {
		reg  Reg
		tick int
	}
)

const (
	RAX Reg = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RSP
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{
	RAX: "rax", RBX: "rbx", RCX: "rcx", RDX: "rdx",
	RSI: "rsi", RDI: "rdi", RSP: "rsp", RBP: "rbp",
	R8: "r8", R9: "r9", R10: "r10", R11: "r11",
	R12: "r12", R13: "r13", R14: "r14", R15: "r15",
}

func (r Reg) String() string { return regNames[r] }

// IsCalleeSaved reports the System V classification of the register.
func (r Reg) IsCalleeSaved() bool {
	switch r {
	case RBX, R12, R13, R14, R15:
		return true
	}

	return false
}

// Pool returns the allocatable registers. rax, rdx, rsp and rbp stay
// out.
func Pool() []Reg {
	return []Reg{RBX, RCX, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15}
}

func NewAllocator(spill, fill func(r Reg, name string)) *Allocator {
	a := &Allocator{
		spill:      spill,
		fill:       fill,
		free:       Pool(),
		bound:      map[string]Reg{},
		names:      map[Reg]string{},
		dirty:      map[Reg]bool{},
		pinned:     map[Reg]bool{},
		touch:      map[Reg]int{},
		usedCallee: map[Reg]bool{},
	}

	a.q = heap.Heap[evict]{Less: evictLess}

	return a
}

func evictLess(d []evict, i, j int) bool { return d[i].tick < d[j].tick }

// Load returns a register holding the named value, filling it from the
// stack slot on a miss.
func (a *Allocator) Load(name string) Reg {
	if r, ok := a.bound[name]; ok {
		a.tick(r)
		return r
	}

	r := a.alloc()
	a.bind(name, r)
	a.fill(r, name)

	return r
}

// Def returns a register for the named result without filling it.
// The old value, if cached, is discarded.
func (a *Allocator) Def(name string) Reg {
	r, ok := a.bound[name]
	if !ok {
		r = a.alloc()
		a.bind(name, r)
	} else {
		a.tick(r)
	}

	a.dirty[r] = true

	return r
}

// Scratch returns an unbound register. Release returns it to the pool.
func (a *Allocator) Scratch() Reg {
	return a.alloc()
}

func (a *Allocator) Release(r Reg) {
	if _, ok := a.names[r]; ok {
		return
	}

	a.free = append(a.free, r)
}

// Flush writes every dirty binding back and drops all bindings.
// Called at basic block boundaries and before calls. The fixed
// register order keeps the emitted spill sequence deterministic.
func (a *Allocator) Flush() {
	for _, r := range Pool() {
		name, ok := a.names[r]
		if !ok {
			continue
		}

		if a.dirty[r] {
			a.spill(r, name)
		}

		delete(a.bound, name)
		delete(a.names, r)
		delete(a.dirty, r)

		a.free = append(a.free, r)
	}
}

// CalleeSaved lists the callee saved registers the function touched.
func (a *Allocator) CalleeSaved() (rs []Reg) {
	for _, r := range []Reg{RBX, R12, R13, R14, R15} {
		if a.usedCallee[r] {
			rs = append(rs, r)
		}
	}

	return rs
}

func (a *Allocator) alloc() Reg {
	if n := len(a.free); n != 0 {
		r := a.free[n-1]
		a.free = a.free[:n-1]
		a.markUsed(r)

		return r
	}

	var skipped []evict

	for a.q.Len() != 0 {
		e := a.q.Pop()

		if e.tick != a.touch[e.reg] {
			continue
		}

		if a.pinned[e.reg] {
			skipped = append(skipped, e)
			continue
		}

		name, ok := a.names[e.reg]
		if !ok {
			continue
		}

		if a.dirty[e.reg] {
			a.spill(e.reg, name)
		}

		delete(a.bound, name)
		delete(a.names, e.reg)
		delete(a.dirty, e.reg)

		for _, s := range skipped {
			a.q.Push(s)
		}

		return e.reg
	}

	panic("register pool exhausted with no eviction candidate")
}

// Pin protects the register from eviction while the current
// instruction still needs it.
func (a *Allocator) Pin(r Reg)   { a.pinned[r] = true }
func (a *Allocator) Unpin(r Reg) { delete(a.pinned, r) }

func (a *Allocator) bind(name string, r Reg) {
	a.bound[name] = r
	a.names[r] = name
	a.tick(r)
}

func (a *Allocator) tick(r Reg) {
	a.clock++
	a.touch[r] = a.clock
	a.q.Push(evict{reg: r, tick: a.clock})
}

func (a *Allocator) markUsed(r Reg) {
	if r.IsCalleeSaved() {
		a.usedCallee[r] = true
	}
}
