//go:build unix

package libproxy

import (
	"strings"

	"golang.org/x/sys/unix"
)

// urlToC returns url as a NUL-terminated byte slice.
func urlToC(url string) ([]byte, error) {
	b, err := unix.ByteSliceFromString(url)
	if err != nil {
		return nil, &InvalidURLError{URL: url, Offset: strings.IndexByte(url, 0)}
	}
	return b, nil
}
