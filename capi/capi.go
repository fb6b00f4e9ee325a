package capi

import "unsafe"

// Library is the raw libproxy C API. Implementations are pure pass-through:
// no buffering, retries or interpretation of results.
type Library interface {
	// FactoryNew wraps px_proxy_factory_new. It returns nil when no
	// configuration backend can be initialized.
	FactoryNew() unsafe.Pointer

	// FactoryGetProxies wraps px_proxy_factory_get_proxies. url must point
	// to a NUL-terminated byte string. The result is a NUL-terminated
	// char** whose strings and outer buffer are released with Free, or nil
	// when resolution failed. The call may block on network I/O.
	FactoryGetProxies(factory unsafe.Pointer, url *byte) unsafe.Pointer

	// FactoryFree wraps px_proxy_factory_free. It must be called exactly
	// once per non-nil factory.
	FactoryFree(factory unsafe.Pointer)

	// Free releases memory allocated by the library.
	Free(p unsafe.Pointer)
}

// unavailableLibrary is returned when libproxy is not compiled in.
type unavailableLibrary struct{}

func (unavailableLibrary) FactoryNew() unsafe.Pointer { return nil }

func (unavailableLibrary) FactoryGetProxies(_ unsafe.Pointer, _ *byte) unsafe.Pointer {
	return nil
}

func (unavailableLibrary) FactoryFree(_ unsafe.Pointer) {}

func (unavailableLibrary) Free(_ unsafe.Pointer) {}

// Unavailable returns a Library that never creates a factory.
// This is useful for testing and for builds without libproxy.
func Unavailable() Library {
	return unavailableLibrary{}
}

// Available reports whether System is backed by the real libproxy.
func Available() bool {
	return systemAvailable
}
