package libproxy

import (
	"runtime"
	"unicode/utf8"
	"unsafe"

	"github.com/zhangyunhao116/libproxy/capi"
)

// cstr is a NUL-terminated foreign string with its length computed once.
// ptr is nil once the memory has been released.
type cstr struct {
	ptr unsafe.Pointer
	n   int
}

func newCStr(p unsafe.Pointer) cstr {
	return cstr{ptr: p, n: cStrlen(p)}
}

func (c *cstr) bytes() []byte {
	if c.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(c.ptr), c.n)
}

// cStrlen counts the bytes before the terminating NUL.
func cStrlen(p unsafe.Pointer) int {
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return n
}

// StringView is a borrowed, read-only view of a foreign string. It is valid
// only while its owner (a ForeignString or ProxyList) is open. Once the owner
// is closed, Bytes returns nil; it never reads released memory.
//
// Holding a StringView keeps its owner reachable, but a slice returned by
// Bytes does not: it aliases foreign memory and must not be used after the
// owner is closed.
type StringView struct {
	s     *cstr
	owner any
}

// Bytes returns the string's bytes without the terminator and without
// copying.
func (v StringView) Bytes() []byte {
	if v.s == nil {
		return nil
	}
	b := v.s.bytes()
	runtime.KeepAlive(v.owner)
	return b
}

// String returns a copy of the string. Invalid UTF-8 is copied as is.
func (v StringView) String() string {
	return string(v.Bytes())
}

// Len returns the number of bytes, or 0 once the owner is closed.
func (v StringView) Len() int {
	return len(v.Bytes())
}

// Valid reports whether the string is valid UTF-8.
func (v StringView) Valid() bool {
	return utf8.Valid(v.Bytes())
}

// RawString is a foreign string pointer whose ownership has been given up by
// Release. It is deliberately a different type from ForeignString so that it
// cannot be handed back to TakeString without an explicit Pointer call.
type RawString struct {
	p unsafe.Pointer
}

// Pointer returns the raw pointer. The caller is responsible for releasing it.
func (r RawString) Pointer() unsafe.Pointer {
	return r.p
}

// IsNil reports whether r holds no pointer.
func (r RawString) IsNil() bool {
	return r.p == nil
}

// ForeignString owns a single NUL-terminated string allocated by a
// capi.Library. The memory is released exactly once: by Close, by the
// runtime when the ForeignString becomes unreachable, or never if ownership
// is handed back with Release.
//
// A ForeignString is not safe for concurrent use.
type ForeignString struct {
	lib     capi.Library
	str     cstr
	cleanup runtime.Cleanup
}

// foreignAlloc is the cleanup argument for a dropped ForeignString. It must
// not reference the ForeignString itself.
type foreignAlloc struct {
	lib capi.Library
	ptr unsafe.Pointer
}

func freeForeign(a foreignAlloc) {
	a.lib.Free(a.ptr)
}

// TakeString takes ownership of p, which must have been allocated by lib and
// must not be owned by anything else.
func TakeString(lib capi.Library, p unsafe.Pointer) (*ForeignString, error) {
	if lib == nil {
		return nil, ErrNilLibrary
	}
	if p == nil {
		return nil, ErrNilPointer
	}
	s := &ForeignString{lib: lib, str: newCStr(p)}
	s.cleanup = runtime.AddCleanup(s, freeForeign, foreignAlloc{lib: lib, ptr: p})
	return s, nil
}

// Bytes returns the string's bytes without copying. It returns nil after
// Close or Release.
func (s *ForeignString) Bytes() []byte {
	b := s.str.bytes()
	runtime.KeepAlive(s)
	return b
}

// String returns a copy of the string.
func (s *ForeignString) String() string {
	return string(s.Bytes())
}

// View returns a borrowed view of s.
func (s *ForeignString) View() StringView {
	return StringView{s: &s.str, owner: s}
}

// Release gives up ownership without freeing the memory.
// After Release, s is empty and Close is a no-op.
func (s *ForeignString) Release() RawString {
	p := s.str.ptr
	if p == nil {
		return RawString{}
	}
	s.cleanup.Stop()
	s.str = cstr{}
	return RawString{p: p}
}

// Close frees the string. It is safe to call Close more than once.
func (s *ForeignString) Close() error {
	p := s.str.ptr
	if p == nil {
		return nil
	}
	s.cleanup.Stop()
	s.str = cstr{}
	s.lib.Free(p)
	return nil
}
