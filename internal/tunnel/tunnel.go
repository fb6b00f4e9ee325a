// Package tunnel implements a minimal HTTP CONNECT proxy. It stands in for a
// real upstream proxy in tests and examples.
package tunnel

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Server.
type Config struct {
	// Username and Password, if Username is set, are required in a
	// Proxy-Authorization Basic header.
	Username string
	Password string

	// Dial establishes the upstream connection. If nil, a net.Dialer with a
	// 10-second timeout is used.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// Logger is the structured logger. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Server is an HTTP proxy that only accepts CONNECT.
type Server struct {
	config   Config
	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	connects atomic.Int64
}

// New creates a Server. If cfg is nil, default settings are used.
func New(cfg *Config) *Server {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Dial == nil {
		d := &net.Dialer{Timeout: 10 * time.Second}
		c.Dial = d.DialContext
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{config: c}
}

// ListenAndServe starts the server on addr ("127.0.0.1:0" for a random
// port) and returns the address it is listening on.
func (s *Server) ListenAndServe(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tunnel: listen: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.config.Logger.Error("tunnel server error", "error", err)
		}
	}()
	return ln.Addr(), nil
}

// Shutdown stops accepting connections. Hijacked tunnels are not tracked by
// the http.Server and close when either side does.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr returns the listening address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Connects returns the number of tunnels established.
func (s *Server) Connects() int {
	return int(s.connects.Load())
}

// ServeHTTP handles CONNECT and rejects every other method.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "tunnel: only CONNECT is supported", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		w.Header().Set("Proxy-Authenticate", `Basic realm="tunnel"`)
		http.Error(w, "tunnel: proxy authentication required", http.StatusProxyAuthRequired)
		return
	}

	if _, _, err := net.SplitHostPort(r.Host); err != nil {
		http.Error(w, fmt.Sprintf("tunnel: invalid CONNECT host: %s", err), http.StatusBadRequest)
		return
	}

	targetConn, err := s.config.Dial(r.Context(), "tcp", r.Host)
	if err != nil {
		s.config.Logger.Debug("CONNECT dial failed", "target", r.Host, "error", err)
		http.Error(w, fmt.Sprintf("tunnel: dial target: %s", err), http.StatusBadGateway)
		return
	}

	rc := http.NewResponseController(w)
	clientConn, brw, err := rc.Hijack()
	if err != nil {
		_ = targetConn.Close()
		s.config.Logger.Error("tunnel: hijack failed", "error", err)
		http.Error(w, "tunnel: hijacking not supported", http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()
	defer targetConn.Close()

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	s.connects.Add(1)
	relay(clientConn, brw.Reader, targetConn)
}

// relay forwards client bytes (starting with any already buffered in br)
// to target and target bytes back to client. It returns when either
// direction ends; the caller closes both connections.
func relay(client net.Conn, br *bufio.Reader, target net.Conn) {
	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(target, br)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(client, target)
		errc <- err
	}()
	<-errc
}

func (s *Server) authorized(r *http.Request) bool {
	if s.config.Username == "" {
		return true
	}
	encoded, ok := strings.CutPrefix(r.Header.Get("Proxy-Authorization"), "Basic ")
	if !ok {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	return ok && user == s.config.Username && pass == s.config.Password
}
