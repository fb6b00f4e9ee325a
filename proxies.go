package libproxy

// GetProxies returns the proxies to try, in order, to reach rawURL, copied
// into ordinary strings. See Resolver.Resolve for the entry format and
// blocking behavior.
//
// An empty result is not an error. If any entry is not valid UTF-8 the whole
// call fails with an *InvalidProxyError and no partial list is returned:
// proxy order is trust-sensitive, so one malformed entry invalidates the
// response. The foreign list is always released before GetProxies returns.
//
// Example:
//
//	r, err := libproxy.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	proxies, err := libproxy.GetProxies(r, "http://example.com/")
//	for _, p := range proxies {
//	    fmt.Println(p)
//	}
func GetProxies(r *Resolver, rawURL string) ([]string, error) {
	if r == nil {
		return nil, ErrClosed
	}
	l, err := r.Resolve(rawURL)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return l.Strings()
}
