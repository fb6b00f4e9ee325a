package libproxy

import (
	"log/slog"
	"net/url"
	"runtime"
	"sync"
	"unsafe"

	"github.com/zhangyunhao116/libproxy/capi"
)

// Resolver owns a libproxy factory. A Resolver should be kept around as long
// as possible: libproxy caches configuration and PAC data per factory.
//
// A Resolver is safe for concurrent use by multiple goroutines.
//
// The zero Resolver is closed.
type Resolver struct {
	mu       sync.Mutex
	state    *factoryState
	inflight int
	closed   bool
	cleanup  runtime.Cleanup
	logger   *slog.Logger
}

// factoryState is the cleanup argument for a Resolver and must not
// reference it.
type factoryState struct {
	lib    capi.Library
	logger *slog.Logger
	handle unsafe.Pointer
}

func (st *factoryState) destroy() {
	if st.handle == nil {
		return
	}
	st.lib.FactoryFree(st.handle)
	st.handle = nil
}

func reclaimFactory(st *factoryState) {
	st.logger.Warn("resolver was not closed, destroying proxy factory")
	st.destroy()
}

// New creates a Resolver. If cfg is nil, DefaultConfig is used.
// It returns ErrUnavailable if libproxy cannot create a factory.
func New(cfg *Config) (*Resolver, error) {
	c := cfg.resolved()

	handle := c.Library.FactoryNew()
	if handle == nil {
		c.Logger.Debug("proxy factory unavailable")
		return nil, ErrUnavailable
	}

	st := &factoryState{
		lib:    c.Library,
		logger: c.Logger,
		handle: handle,
	}
	r := &Resolver{state: st, logger: c.Logger}
	r.cleanup = runtime.AddCleanup(r, reclaimFactory, st)
	c.Logger.Debug("proxy factory created")
	return r, nil
}

// Resolve returns the proxies to try, in order, to reach rawURL. The caller
// owns the returned list and should Close it.
//
// Entries have the form scheme://[user:pass@]host:port or direct://, where
// direct:// means no proxy. Entries are not parsed or validated.
//
// Resolve always blocks. Usually it only reads the system configuration, but
// on a PAC cache miss libproxy downloads the PAC file, and WPAD or the PAC
// script itself may perform DNS lookups. No timeout is applied; callers
// needing bounded latency must run Resolve on their own goroutine.
//
// Errors are an *InvalidURLError if rawURL contains a NUL byte (no call is
// made), ErrResolutionFailed if libproxy returned no answer, or ErrClosed.
func (r *Resolver) Resolve(rawURL string) (*ProxyList, error) {
	curl, err := urlToC(rawURL)
	if err != nil {
		return nil, err
	}

	st, err := r.acquire()
	if err != nil {
		return nil, err
	}
	base := st.lib.FactoryGetProxies(st.handle, &curl[0])
	r.release()

	l, err := wrapProxyList(st.lib, base, r.logger)
	if err != nil {
		r.logger.Debug("proxy resolution failed", "url", redactURL(rawURL))
		return nil, err
	}
	r.logger.Debug("proxy resolution", "url", redactURL(rawURL), "count", l.Len())
	return l, nil
}

// acquire registers an in-flight call on the factory.
func (r *Resolver) acquire() (*factoryState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == nil || r.closed {
		return nil, ErrClosed
	}
	r.inflight++
	return r.state, nil
}

// release ends an in-flight call. The last call to finish after Close
// destroys the factory.
func (r *Resolver) release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inflight--
	if r.closed && r.inflight == 0 {
		r.destroy()
	}
}

// destroy frees the factory. r.mu must be held.
func (r *Resolver) destroy() {
	r.state.destroy()
	r.logger.Debug("proxy factory destroyed")
}

// Proxies is like Resolve but returns the proxies as strings. See GetProxies.
func (r *Resolver) Proxies(rawURL string) ([]string, error) {
	return GetProxies(r, rawURL)
}

// Close marks r closed; later calls return ErrClosed. Close does not wait
// for in-flight Resolve calls: the factory is destroyed as soon as the last
// of them returns, or immediately if there are none. It is safe to call
// Close more than once.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == nil || r.closed {
		return nil
	}
	r.closed = true
	r.cleanup.Stop()
	if r.inflight == 0 {
		r.destroy()
	}
	return nil
}

// redactURL hides any password in rawURL for logging.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
