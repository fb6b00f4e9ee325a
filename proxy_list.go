package libproxy

import (
	"bytes"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"unsafe"

	"github.com/zhangyunhao116/libproxy/capi"
)

// ProxyList owns the NUL-terminated array returned by a resolution, together
// with every string in it. Entries are in the order libproxy returned them:
// the first proxy should be tried first, and so on.
//
// The array is released exactly once: by Close, or by the runtime when the
// ProxyList becomes unreachable. Releasing frees the entries in index order,
// then the array itself.
//
// A ProxyList is not safe for concurrent use. The zero ProxyList is empty
// and closed.
type ProxyList struct {
	state   *listState
	cleanup runtime.Cleanup
}

// listState is the cleanup argument for a ProxyList and must not reference
// it.
type listState struct {
	lib     capi.Library
	logger  *slog.Logger
	base    unsafe.Pointer
	entries []cstr
}

// entryAt returns the i-th pointer of a char** array.
func entryAt(base unsafe.Pointer, i int) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Add(base, uintptr(i)*unsafe.Sizeof(base)))
}

// wrapProxyList takes ownership of base. A nil base is a failed resolution
// and no wrapper is created.
func wrapProxyList(lib capi.Library, base unsafe.Pointer, logger *slog.Logger) (*ProxyList, error) {
	if base == nil {
		return nil, ErrResolutionFailed
	}

	n := 0
	for entryAt(base, n) != nil {
		n++
	}
	entries := make([]cstr, n)
	for i := range entries {
		entries[i] = newCStr(entryAt(base, i))
	}

	st := &listState{
		lib:     lib,
		logger:  logger,
		base:    base,
		entries: entries,
	}
	l := &ProxyList{state: st}
	l.cleanup = runtime.AddCleanup(l, reclaimList, st)
	return l, nil
}

func reclaimList(st *listState) {
	st.logger.Warn("proxy list was not closed, releasing", "len", len(st.entries))
	st.release()
}

func (st *listState) release() {
	if st.base == nil {
		return
	}
	for i := range st.entries {
		st.lib.Free(st.entries[i].ptr)
		st.entries[i].ptr = nil
	}
	st.lib.Free(st.base)
	st.base = nil
	st.entries = nil
}

// Len returns the number of proxies. It returns 0 after Close.
func (l *ProxyList) Len() int {
	if l.state == nil {
		return 0
	}
	return len(l.state.entries)
}

// At returns a view of the i-th proxy. It panics if i is out of range.
func (l *ProxyList) At(i int) StringView {
	if n := l.Len(); i < 0 || i >= n {
		panic(fmt.Sprintf("libproxy: index out of range [%d] with length %d", i, n))
	}
	return StringView{s: &l.state.entries[i], owner: l}
}

// All returns an iterator over the proxies in order. Each call starts from
// the first entry. Ownership stays with l.
func (l *ProxyList) All() iter.Seq2[int, StringView] {
	return func(yield func(int, StringView) bool) {
		for i := 0; i < l.Len(); i++ {
			if !yield(i, l.At(i)) {
				return
			}
		}
	}
}

// Strings returns a copy of every proxy as a string. If any entry is not
// valid UTF-8, it returns an *InvalidProxyError and no strings.
func (l *ProxyList) Strings() ([]string, error) {
	out := make([]string, 0, l.Len())
	for i, v := range l.All() {
		b := v.Bytes()
		if off := invalidUTF8Offset(b); off >= 0 {
			return nil, &InvalidProxyError{Index: i, Value: bytes.Clone(b), Offset: off}
		}
		out = append(out, string(b))
	}
	return out, nil
}

// Close releases the list. It is safe to call Close more than once.
func (l *ProxyList) Close() error {
	if l.state == nil || l.state.base == nil {
		return nil
	}
	l.cleanup.Stop()
	l.state.release()
	return nil
}
