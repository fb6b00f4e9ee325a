package dialer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Sentinel errors returned by the dialer package.
var (
	// ErrNoProxies indicates the resolver returned no usable proxy.
	ErrNoProxies = errors.New("dialer: no usable proxy")

	// ErrUnsupportedScheme indicates a proxy entry uses a scheme this
	// package cannot dial.
	ErrUnsupportedScheme = errors.New("dialer: unsupported proxy scheme")

	// ErrNoResolver indicates a Config without a Resolver.
	ErrNoResolver = errors.New("dialer: resolver is required")
)

// defaultDialTimeout bounds each direct connection attempt.
const defaultDialTimeout = 30 * time.Second

// Resolver returns the proxies to try, in order, for a URL.
// *libproxy.Resolver implements it.
type Resolver interface {
	Proxies(url string) ([]string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(url string) ([]string, error)

// Proxies calls f(url).
func (f ResolverFunc) Proxies(url string) ([]string, error) {
	return f(url)
}

// Config configures a Dialer.
type Config struct {
	// Resolver supplies the proxy list. Required.
	Resolver Resolver

	// Scheme is used to build the URL passed to the Resolver as
	// Scheme://addr. If empty, "https" is used.
	Scheme string

	// Forward dials direct connections and connections to the proxies
	// themselves. If nil, a net.Dialer with a 30-second timeout is used.
	Forward proxy.Dialer

	// Logger is the structured logger. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Dialer dials through the proxies returned by a Resolver.
type Dialer struct {
	config *Config
}

// Compile-time checks that Dialer implements the x/net/proxy interfaces.
var (
	_ proxy.Dialer        = (*Dialer)(nil)
	_ proxy.ContextDialer = (*Dialer)(nil)
)

// New creates a Dialer.
func New(cfg *Config) (*Dialer, error) {
	if cfg == nil || cfg.Resolver == nil {
		return nil, ErrNoResolver
	}

	resolved := *cfg
	if resolved.Scheme == "" {
		resolved.Scheme = "https"
	}
	if resolved.Forward == nil {
		resolved.Forward = &net.Dialer{Timeout: defaultDialTimeout}
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dialer{config: &resolved}, nil
}

// Dial is DialContext with a background context.
func (d *Dialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

// DialContext resolves the proxies for addr and tries them in order. If all
// attempts fail, the returned error joins every attempt's error. ctx bounds
// both the resolution and the connection attempts.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	target := d.config.Scheme + "://" + addr
	specs, err := Lookup(ctx, d.config.Resolver, target)
	if err != nil {
		return nil, fmt.Errorf("dialer: resolve %s: %w", addr, err)
	}
	if len(specs) == 0 {
		return nil, ErrNoProxies
	}

	var errs []error
	for _, spec := range specs {
		conn, err := d.dialVia(ctx, spec, network, addr)
		if err == nil {
			d.config.Logger.Debug("connected", "addr", addr, "proxy", redact(spec))
			return conn, nil
		}
		d.config.Logger.Debug("proxy attempt failed", "addr", addr, "proxy", redact(spec), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", redact(spec), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// dialVia connects to addr through a single proxy entry.
func (d *Dialer) dialVia(ctx context.Context, spec, network, addr string) (net.Conn, error) {
	u, err := ParseProxy(spec)
	if err != nil {
		return nil, err
	}

	var via proxy.Dialer
	switch u.Scheme {
	case schemeDirect:
		via = d.config.Forward
	case "http":
		via = newConnectDialer(u, d.config.Forward)
	case "socks5", "socks5h":
		via, err = proxy.FromURL(u, d.config.Forward)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	return dialContext(ctx, via, network, addr)
}

// dialContext uses DialContext when d supports it.
func dialContext(ctx context.Context, d proxy.Dialer, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Dial(network, addr)
}

// schemeDirect is the scheme libproxy uses for "no proxy".
const schemeDirect = "direct"

// ParseProxy parses a libproxy entry. socks:// is normalized to socks5://
// because SOCKS4 is not supported by golang.org/x/net/proxy.
//
// libproxy uses socks:// when the configuration does not say which SOCKS
// version the server speaks, and expects clients to fall back to SOCKS4 if
// SOCKS5 fails. This package never falls back: a SOCKS4-only server behind a
// socks:// entry fails like any other attempt and the next entry is tried.
func ParseProxy(spec string) (*url.URL, error) {
	u, err := url.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("dialer: invalid proxy %q: %w", redact(spec), err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("dialer: invalid proxy %q: missing scheme", redact(spec))
	}
	if u.Scheme == "socks" {
		u.Scheme = "socks5"
	}
	if u.Scheme != schemeDirect && u.Host == "" {
		return nil, fmt.Errorf("dialer: invalid proxy %q: missing host", redact(spec))
	}
	return u, nil
}

// redact hides the password of a proxy entry for logs and errors.
func redact(spec string) string {
	u, err := url.Parse(spec)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
