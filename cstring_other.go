//go:build !unix && !windows

package libproxy

import "strings"

// urlToC returns url as a NUL-terminated byte slice.
func urlToC(url string) ([]byte, error) {
	if i := strings.IndexByte(url, 0); i >= 0 {
		return nil, &InvalidURLError{URL: url, Offset: i}
	}
	b := make([]byte, len(url)+1)
	copy(b, url)
	return b, nil
}
