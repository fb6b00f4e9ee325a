package dialer

import (
	"fmt"
	"net/http"
	"net/url"
)

// ProxyFunc returns a function for http.Transport.Proxy that asks r for each
// request. It picks the first entry net/http can use (http, https, socks5 or
// socks5h) and returns nil for direct://. An empty list is a valid answer
// and also means a direct connection. Entries with other schemes are
// skipped; if nothing is left, ErrNoProxies is returned.
//
//	r, _ := libproxy.New(nil)
//	client := &http.Client{Transport: &http.Transport{Proxy: dialer.ProxyFunc(r)}}
func ProxyFunc(r Resolver) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		specs, err := Lookup(req.Context(), r, req.URL.String())
		if err != nil {
			return nil, fmt.Errorf("dialer: resolve %s: %w", req.URL.Host, err)
		}
		if len(specs) == 0 {
			return nil, nil
		}
		for _, spec := range specs {
			u, err := ParseProxy(spec)
			if err != nil {
				continue
			}
			switch u.Scheme {
			case schemeDirect:
				return nil, nil
			case "http", "https", "socks5", "socks5h":
				return u, nil
			}
		}
		return nil, ErrNoProxies
	}
}
