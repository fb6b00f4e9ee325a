package dialer

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhangyunhao116/libproxy/internal/socks5"
	"github.com/zhangyunhao116/libproxy/internal/tunnel"
)

// staticResolver answers every call with the same entries and records the
// URLs it was asked about.
type staticResolver struct {
	mu      sync.Mutex
	entries []string
	err     error
	urls    []string
}

func (s *staticResolver) Proxies(url string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.entries...), nil
}

func (s *staticResolver) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.urls...)
}

// startEcho starts a TCP server that echoes everything it reads.
func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

// startTunnel starts a CONNECT proxy.
func startTunnel(t *testing.T, cfg *tunnel.Config) *tunnel.Server {
	t.Helper()
	s := tunnel.New(cfg)
	_, err := s.ListenAndServe("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// startSOCKS5 starts a SOCKS5 server without authentication. It returns the
// address and a counter of established CONNECT requests.
func startSOCKS5(t *testing.T) (string, func() int) {
	t.Helper()
	s := socks5.New(nil)
	addr, err := s.ListenAndServe("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return addr.String(), s.Connects
}

// closedAddr returns an address nothing is listening on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// echoRoundTrip writes msg to conn and reads it back.
func echoRoundTrip(t *testing.T, conn net.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, msg, string(buf))
}
