//go:build !cgo || !libproxy

package capi

const systemAvailable = false

// System returns the libproxy backend linked into this binary. This build
// was compiled without the libproxy tag, so the backend is Unavailable.
func System() Library {
	return unavailableLibrary{}
}
