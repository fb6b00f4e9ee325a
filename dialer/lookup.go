package dialer

import "context"

// Lookup calls r.Proxies(url) and returns early with ctx.Err() if ctx is done
// first. libproxy calls cannot be interrupted, so on cancellation the call is
// left running on its own goroutine; its result is dropped once it returns.
// With *libproxy.Resolver, Proxies copies and releases the foreign result
// before returning, so nothing leaks.
func Lookup(ctx context.Context, r Resolver, url string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		proxies []string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		proxies, err := r.Proxies(url)
		ch <- result{proxies: proxies, err: err}
	}()

	select {
	case res := <-ch:
		return res.proxies, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
