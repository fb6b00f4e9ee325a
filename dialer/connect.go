package dialer

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// connectDialer tunnels through an HTTP proxy with CONNECT.
type connectDialer struct {
	proxyURL *url.URL
	forward  proxy.Dialer
}

func newConnectDialer(u *url.URL, forward proxy.Dialer) *connectDialer {
	return &connectDialer{proxyURL: u, forward: forward}
}

func (c *connectDialer) Dial(network, addr string) (net.Conn, error) {
	return c.DialContext(context.Background(), network, addr)
}

func (c *connectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("dialer: CONNECT does not support network %q", network)
	}

	proxyAddr := c.proxyURL.Host
	if c.proxyURL.Port() == "" {
		proxyAddr = net.JoinHostPort(c.proxyURL.Hostname(), "80")
	}
	conn, err := dialContext(ctx, c.forward, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}

	// Abort the handshake when ctx is done.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	br, err := c.handshake(conn, addr)
	if !stop() {
		_ = conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

func (c *connectDialer) handshake(conn net.Conn, addr string) (*bufio.Reader, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := c.proxyURL.User; u != nil {
		pass, _ := u.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}
	if err := req.Write(conn); err != nil {
		return nil, fmt.Errorf("dialer: write CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("dialer: read CONNECT response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("dialer: CONNECT %s: %s", addr, resp.Status)
	}
	return br, nil
}

// bufferedConn returns bytes the proxy sent right after its CONNECT response
// before reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
