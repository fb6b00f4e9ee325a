// Package capitest provides a stub capi.Library backed by a tracking
// allocator. Every buffer it hands out is recorded until it is freed, so a
// test can assert that the code under test released each allocation exactly
// once:
//
//	lib := capitest.New(capitest.Static("http://proxy1:8080", "direct://"))
//	defer func() { require.Zero(t, lib.Outstanding()) }()
package capitest

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/zhangyunhao116/libproxy/capi"
)

// Call describes a single FactoryGetProxies invocation.
type Call struct {
	// Factory is the ID of the factory the call was made on. IDs start at 1
	// and are assigned in creation order.
	Factory int

	// Seq is the global sequence number of the call, starting at 1.
	Seq int

	// URL is the NUL-terminated string passed by the caller, without the
	// terminator.
	URL string
}

// ResolveFunc answers a FactoryGetProxies call. Returning ok == false makes
// the stub return a nil array, which the caller must treat as a resolution
// failure. A nil or empty entries slice with ok == true produces an array
// whose first element is the terminator.
type ResolveFunc func(call Call) (entries []string, ok bool)

// Static returns a ResolveFunc that answers every call with entries.
func Static(entries ...string) ResolveFunc {
	cpy := append([]string(nil), entries...)
	return func(Call) ([]string, bool) {
		return cpy, true
	}
}

// Failing returns a ResolveFunc that fails every call.
func Failing() ResolveFunc {
	return func(Call) ([]string, bool) {
		return nil, false
	}
}

// blockKind distinguishes the buffers handed out by the stub.
type blockKind int

const (
	blockString blockKind = iota
	blockArray
)

// block pins a buffer handed out to the caller. Holding the slice here keeps
// the memory alive until it is freed.
type block struct {
	kind    blockKind
	str     []byte
	arr     []unsafe.Pointer
	factory int
}

// factory is the opaque handle returned by FactoryNew.
type factory struct {
	id int
}

// Library is a capi.Library whose memory is tracked. It is safe for
// concurrent use.
type Library struct {
	// FailNew makes FactoryNew return nil. Set it before sharing the Library.
	FailNew bool

	resolve ResolveFunc

	mu        sync.Mutex
	live      map[unsafe.Pointer]*block
	factories map[unsafe.Pointer]*factory
	calls     []Call
	allocs    int
	frees     int
	badFrees  int
	created   int
	destroyed int
	badFacts  int
}

// Compile-time check that Library implements capi.Library.
var _ capi.Library = (*Library)(nil)

// New returns a Library that answers resolutions with resolve. A nil resolve
// is equivalent to Static() and yields empty arrays.
func New(resolve ResolveFunc) *Library {
	if resolve == nil {
		resolve = Static()
	}
	return &Library{
		resolve:   resolve,
		live:      make(map[unsafe.Pointer]*block),
		factories: make(map[unsafe.Pointer]*factory),
	}
}

// FactoryNew creates a tagged factory handle.
func (l *Library) FactoryNew() unsafe.Pointer {
	if l.FailNew {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.created++
	f := &factory{id: l.created}
	p := unsafe.Pointer(f)
	l.factories[p] = f
	return p
}

// FactoryGetProxies allocates the array described by the ResolveFunc.
func (l *Library) FactoryGetProxies(handle unsafe.Pointer, url *byte) unsafe.Pointer {
	l.mu.Lock()
	f, ok := l.factories[handle]
	if !ok {
		l.mu.Unlock()
		panic(fmt.Sprintf("capitest: FactoryGetProxies on unknown factory %p", handle))
	}
	call := Call{
		Factory: f.id,
		Seq:     len(l.calls) + 1,
		URL:     string(readCString(url)),
	}
	l.calls = append(l.calls, call)
	l.mu.Unlock()

	entries, ok := l.resolve(call)
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	arr := make([]unsafe.Pointer, len(entries)+1)
	for i, e := range entries {
		buf := make([]byte, len(e)+1)
		copy(buf, e)
		p := unsafe.Pointer(&buf[0])
		l.live[p] = &block{kind: blockString, str: buf, factory: f.id}
		l.allocs++
		arr[i] = p
	}
	base := unsafe.Pointer(&arr[0])
	l.live[base] = &block{kind: blockArray, arr: arr, factory: f.id}
	l.allocs++
	return base
}

// FactoryFree destroys a factory handle. Unknown or already destroyed
// handles are counted as bad frees instead of panicking.
func (l *Library) FactoryFree(handle unsafe.Pointer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.factories[handle]; !ok {
		l.badFacts++
		return
	}
	delete(l.factories, handle)
	l.destroyed++
}

// Free releases a buffer returned by FactoryGetProxies. The buffer is zeroed
// so that a use after free reads an empty string or a terminator instead of
// stale data. Unknown pointers, including double frees, are counted as bad
// frees.
func (l *Library) Free(p unsafe.Pointer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.live[p]
	if !ok {
		l.badFrees++
		return
	}
	switch b.kind {
	case blockString:
		clear(b.str)
	case blockArray:
		clear(b.arr)
	}
	delete(l.live, p)
	l.frees++
}

// Allocs returns the number of buffers handed out so far.
func (l *Library) Allocs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocs
}

// Frees returns the number of buffers released so far.
func (l *Library) Frees() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frees
}

// Outstanding returns the number of buffers that have not been freed.
func (l *Library) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// OutstandingFor returns the number of unfreed buffers allocated by the
// given factory.
func (l *Library) OutstandingFor(factoryID int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, b := range l.live {
		if b.factory == factoryID {
			n++
		}
	}
	return n
}

// BadFrees returns the number of Free calls with a pointer the stub did not
// hand out or had already released.
func (l *Library) BadFrees() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.badFrees
}

// Factories returns how many factories were created and destroyed.
func (l *Library) Factories() (created, destroyed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.created, l.destroyed
}

// LiveFactories returns the number of factories not yet destroyed.
func (l *Library) LiveFactories() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.factories)
}

// BadFactoryFrees returns the number of FactoryFree calls with an unknown
// or already destroyed handle.
func (l *Library) BadFactoryFrees() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.badFacts
}

// Calls returns a copy of the recorded FactoryGetProxies calls in order.
func (l *Library) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// readCString copies bytes up to the first NUL.
func readCString(p *byte) []byte {
	if p == nil {
		return nil
	}
	var out []byte
	for q := unsafe.Pointer(p); *(*byte)(q) != 0; q = unsafe.Add(q, 1) {
		out = append(out, *(*byte)(q))
	}
	return out
}
