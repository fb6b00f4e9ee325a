package libproxy

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel errors returned by the libproxy package.
var (
	// ErrResolutionFailed indicates libproxy produced no answer for a URL.
	// This is distinct from an empty answer, which is a successful
	// resolution with zero entries.
	ErrResolutionFailed = errors.New("libproxy: proxy resolution failed")

	// ErrUnavailable indicates the proxy factory could not be created, e.g.
	// because no configuration backend is present or libproxy was not
	// compiled in. It wraps ErrResolutionFailed.
	ErrUnavailable = fmt.Errorf("%w: proxy factory unavailable", ErrResolutionFailed)

	// ErrInvalidURL indicates the URL cannot be passed to libproxy.
	ErrInvalidURL = errors.New("libproxy: invalid url")

	// ErrInvalidProxy indicates a returned proxy entry is not valid UTF-8.
	ErrInvalidProxy = errors.New("libproxy: invalid proxy entry")

	// ErrClosed indicates the Resolver has already been closed.
	ErrClosed = errors.New("libproxy: resolver closed")

	// ErrNilPointer indicates a nil foreign pointer was passed where an
	// allocation was expected.
	ErrNilPointer = errors.New("libproxy: nil foreign pointer")

	// ErrNilLibrary indicates a nil capi.Library was passed where the
	// allocator of a foreign pointer was expected.
	ErrNilLibrary = errors.New("libproxy: nil library")
)

// InvalidURLError is returned when a URL contains a NUL byte, which cannot be
// represented in a C string. It wraps ErrInvalidURL.
type InvalidURLError struct {
	// URL is the rejected URL.
	URL string
	// Offset is the byte offset of the first NUL.
	Offset int
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("%s: nul byte at offset %d", ErrInvalidURL.Error(), e.Offset)
}

func (e *InvalidURLError) Unwrap() error {
	return ErrInvalidURL
}

// InvalidProxyError is returned when a proxy entry is not valid UTF-8.
// It wraps ErrInvalidProxy.
type InvalidProxyError struct {
	// Index is the position of the entry in the resolved list.
	Index int
	// Value is a copy of the entry's bytes.
	Value []byte
	// Offset is the byte offset of the first invalid sequence.
	Offset int
}

func (e *InvalidProxyError) Error() string {
	return fmt.Sprintf("%s: entry %d is not valid utf-8 at offset %d",
		ErrInvalidProxy.Error(), e.Index, e.Offset)
}

func (e *InvalidProxyError) Unwrap() error {
	return ErrInvalidProxy
}

// invalidUTF8Offset returns the offset of the first invalid UTF-8 sequence
// in b, or -1 if b is valid.
func invalidUTF8Offset(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}
