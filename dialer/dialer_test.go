package dialer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangyunhao116/libproxy"
	"github.com/zhangyunhao116/libproxy/capi/capitest"
	"github.com/zhangyunhao116/libproxy/internal/tunnel"
)

func TestNew(t *testing.T) {
	d, err := New(nil)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrNoResolver)

	d, err = New(&Config{})
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrNoResolver)

	cfg := &Config{Resolver: &staticResolver{}}
	d, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https", d.config.Scheme)
	assert.NotNil(t, d.config.Forward)
	assert.NotNil(t, d.config.Logger)
	// The caller's config is not modified.
	assert.Empty(t, cfg.Scheme)
	assert.Nil(t, cfg.Forward)
}

func TestParseProxy(t *testing.T) {
	tests := []struct {
		in      string
		scheme  string
		host    string
		wantErr bool
	}{
		{in: "direct://", scheme: "direct"},
		{in: "http://proxy:8080", scheme: "http", host: "proxy:8080"},
		{in: "socks://proxy:1080", scheme: "socks5", host: "proxy:1080"},
		{in: "socks5://user:pw@proxy:1080", scheme: "socks5", host: "proxy:1080"},
		{in: "socks4://proxy:1080", scheme: "socks4", host: "proxy:1080"},
		{in: "rtsp://proxy:554", scheme: "rtsp", host: "proxy:554"},
		{in: "proxy:8080", wantErr: true},
		{in: "http://", wantErr: true},
		{in: "", wantErr: true},
		{in: "http://[::1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := ParseProxy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, u.Scheme)
			assert.Equal(t, tt.host, u.Host)
		})
	}
}

func TestParseProxy_ErrorRedactsPassword(t *testing.T) {
	_, err := ParseProxy("http://user:hunter2@")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
}

func TestDialContext_Direct(t *testing.T) {
	echo := startEcho(t)
	res := &staticResolver{entries: []string{"direct://"}}
	d, err := New(&Config{Resolver: res})
	require.NoError(t, err)

	conn, err := d.DialContext(context.Background(), "tcp", echo)
	require.NoError(t, err)
	defer conn.Close()
	echoRoundTrip(t, conn, "hello")

	assert.Equal(t, []string{"https://" + echo}, res.calls())
}

func TestDialContext_HTTPConnect(t *testing.T) {
	echo := startEcho(t)
	tun := startTunnel(t, &tunnel.Config{Username: "alice", Password: "s3cret"})
	res := &staticResolver{entries: []string{"http://alice:s3cret@" + tun.Addr().String()}}
	d, err := New(&Config{Resolver: res, Scheme: "tcp"})
	require.NoError(t, err)

	conn, err := d.Dial("tcp", echo)
	require.NoError(t, err)
	defer conn.Close()
	echoRoundTrip(t, conn, "through the tunnel")

	assert.Equal(t, 1, tun.Connects())
	assert.Equal(t, []string{"tcp://" + echo}, res.calls())
}

func TestDialContext_HTTPConnectAuthRequired(t *testing.T) {
	echo := startEcho(t)
	tun := startTunnel(t, &tunnel.Config{Username: "alice", Password: "s3cret"})
	res := &staticResolver{entries: []string{"http://" + tun.Addr().String()}}
	d, err := New(&Config{Resolver: res})
	require.NoError(t, err)

	conn, err := d.Dial("tcp", echo)
	assert.Nil(t, conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "407")
}

func TestDialContext_SOCKS5(t *testing.T) {
	echo := startEcho(t)
	socksAddr, connects := startSOCKS5(t)

	for _, scheme := range []string{"socks5", "socks5h", "socks"} {
		t.Run(scheme, func(t *testing.T) {
			before := connects()
			res := &staticResolver{entries: []string{scheme + "://" + socksAddr}}
			d, err := New(&Config{Resolver: res})
			require.NoError(t, err)

			conn, err := d.DialContext(context.Background(), "tcp", echo)
			require.NoError(t, err)
			defer conn.Close()
			echoRoundTrip(t, conn, "socks "+scheme)
			assert.Equal(t, before+1, connects())
		})
	}
}

func TestDialContext_TriesInOrder(t *testing.T) {
	echo := startEcho(t)
	tun := startTunnel(t, nil)
	res := &staticResolver{entries: []string{
		"http://" + closedAddr(t),
		"socks4://127.0.0.1:1080",
		"not a url",
		"http://" + tun.Addr().String(),
		"direct://",
	}}
	var logs bytes.Buffer
	d, err := New(&Config{
		Resolver: res,
		Logger:   slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)

	conn, err := d.Dial("tcp", echo)
	require.NoError(t, err)
	defer conn.Close()
	echoRoundTrip(t, conn, "fourth time lucky")

	assert.Equal(t, 1, tun.Connects())
	assert.Contains(t, logs.String(), "proxy attempt failed")
	assert.Contains(t, logs.String(), "connected")
}

func TestDialContext_AllFail(t *testing.T) {
	res := &staticResolver{entries: []string{
		"socks4://127.0.0.1:1080",
		"http://user:hunter2@" + closedAddr(t),
	}}
	d, err := New(&Config{Resolver: res})
	require.NoError(t, err)

	conn, err := d.Dial("tcp", "127.0.0.1:9")
	assert.Nil(t, conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.NotContains(t, err.Error(), "hunter2")
}

func TestDialContext_NoProxies(t *testing.T) {
	d, err := New(&Config{Resolver: &staticResolver{}})
	require.NoError(t, err)

	_, err = d.Dial("tcp", "127.0.0.1:9")
	assert.ErrorIs(t, err, ErrNoProxies)
}

func TestDialContext_ResolveError(t *testing.T) {
	d, err := New(&Config{Resolver: &staticResolver{err: libproxy.ErrResolutionFailed}})
	require.NoError(t, err)

	_, err = d.Dial("tcp", "127.0.0.1:9")
	assert.ErrorIs(t, err, libproxy.ErrResolutionFailed)
}

func TestDialContext_UnsupportedNetwork(t *testing.T) {
	tun := startTunnel(t, nil)
	d, err := New(&Config{Resolver: &staticResolver{entries: []string{"http://" + tun.Addr().String()}}})
	require.NoError(t, err)

	_, err = d.Dial("udp", "127.0.0.1:53")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `network "udp"`)
}

func TestDialContext_CanceledDuringHandshake(t *testing.T) {
	// A proxy that accepts connections and never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	d, err := New(&Config{Resolver: &staticResolver{entries: []string{"http://" + ln.Addr().String()}}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDialContext_WithLibproxyResolver(t *testing.T) {
	echo := startEcho(t)
	lib := capitest.New(capitest.Static("direct://"))
	r, err := libproxy.New(&libproxy.Config{Library: lib})
	require.NoError(t, err)

	d, err := New(&Config{Resolver: r})
	require.NoError(t, err)

	conn, err := d.Dial("tcp", echo)
	require.NoError(t, err)
	echoRoundTrip(t, conn, "via libproxy")
	require.NoError(t, conn.Close())

	calls := lib.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://"+echo, calls[0].URL)

	require.NoError(t, r.Close())
	assert.Zero(t, lib.Outstanding())
	assert.Zero(t, lib.BadFrees())
	assert.Zero(t, lib.LiveFactories())
}

func TestResolverFunc(t *testing.T) {
	var got string
	f := ResolverFunc(func(url string) ([]string, error) {
		got = url
		return []string{"direct://"}, nil
	})
	proxies, err := f.Proxies("http://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{"direct://"}, proxies)
	assert.Equal(t, "http://example.com/", got)
}
