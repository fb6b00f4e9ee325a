//go:build cgo && libproxy

package capi

/*
#cgo pkg-config: libproxy-1.0
#include <stdlib.h>
#include <proxy.h>
*/
import "C"

import "unsafe"

const systemAvailable = true

// cgoLibrary calls into the system libproxy.
type cgoLibrary struct{}

// System returns the libproxy backend linked into this binary.
func System() Library {
	return cgoLibrary{}
}

func (cgoLibrary) FactoryNew() unsafe.Pointer {
	return unsafe.Pointer(C.px_proxy_factory_new())
}

func (cgoLibrary) FactoryGetProxies(factory unsafe.Pointer, url *byte) unsafe.Pointer {
	return unsafe.Pointer(C.px_proxy_factory_get_proxies(
		(*C.pxProxyFactory)(factory),
		(*C.char)(unsafe.Pointer(url)),
	))
}

func (cgoLibrary) FactoryFree(factory unsafe.Pointer) {
	C.px_proxy_factory_free((*C.pxProxyFactory)(factory))
}

func (cgoLibrary) Free(p unsafe.Pointer) {
	C.free(p)
}
