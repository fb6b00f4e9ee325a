// Package libproxy provides Go bindings for libproxy, which answers the
// question "which proxies should I use to reach this URL?" using the
// system's proxy configuration, PAC scripts and WPAD.
//
// The package is a memory-correctness layer over the C API. libproxy returns
// a NUL-terminated array of NUL-terminated strings that the caller must free;
// ProxyList owns that array and releases every byte of it exactly once, on
// Close or when it is garbage collected. Failures are reported as values:
//
//   - ErrResolutionFailed (and ErrUnavailable) when libproxy gives no answer
//   - *InvalidURLError when the URL contains a NUL byte
//   - *InvalidProxyError when a returned entry is not valid UTF-8
//
// Basic usage:
//
//	r, err := libproxy.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	proxies, err := r.Proxies("http://example.com/")
//
// Zero-copy access to the foreign strings:
//
//	list, err := r.Resolve("http://example.com/")
//	if err != nil {
//	    return err
//	}
//	defer list.Close()
//	for i, p := range list.All() {
//	    fmt.Printf("%d: %s\n", i, p.Bytes())
//	}
//
// The cgo backend is built only with the libproxy build tag; see package capi.
// Package dialer dials through the resolved proxies.
package libproxy
