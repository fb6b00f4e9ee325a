// Package socks5 implements a SOCKS5 server that accepts only CONNECT
// without authentication. It stands in for a SOCKS proxy returned by
// libproxy in tests.
package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Protocol values from RFC 1928.
const (
	version = uint8(5)

	methodNoAuth       = uint8(0x00)
	methodNoAcceptable = uint8(0xFF)

	cmdConnect = uint8(1)

	atypIPv4 = uint8(1)
	atypFQDN = uint8(3)
	atypIPv6 = uint8(4)

	repSucceeded           = uint8(0)
	repGeneralFailure      = uint8(1)
	repNotAllowed          = uint8(2)
	repHostUnreachable     = uint8(4)
	repCommandNotSupported = uint8(7)
	repAddrNotSupported    = uint8(8)
)

// errUnsupportedAddr marks a request with an unknown address type.
var errUnsupportedAddr = errors.New("socks5: unsupported address type")

// AddrSpec is the destination of a request. Exactly one of FQDN and IP is
// set.
type AddrSpec struct {
	FQDN string
	IP   net.IP
	Port int
}

// Address returns the destination in host:port form.
func (a *AddrSpec) Address() string {
	host := a.FQDN
	if host == "" {
		host = a.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(a.Port))
}

// Request is a parsed client request.
type Request struct {
	Command  uint8
	DestAddr *AddrSpec
}

// RuleSet decides whether a request may proceed.
type RuleSet interface {
	Allow(ctx context.Context, req *Request) bool
}

type permitAll struct{}

func (permitAll) Allow(context.Context, *Request) bool { return true }

// PermitAll returns a RuleSet that allows every request.
func PermitAll() RuleSet {
	return permitAll{}
}

// Config configures a Server.
type Config struct {
	// Rules filters requests. If nil, PermitAll is used.
	Rules RuleSet

	// Dial connects to the destination. Domain names are passed through
	// unresolved. If nil, a net.Dialer with a 10-second timeout is used.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// Logger is the structured logger. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Server is a SOCKS5 server.
type Server struct {
	config   Config
	mu       sync.Mutex
	ln       net.Listener
	connects atomic.Int64
}

// New creates a Server. If cfg is nil, default settings are used.
func New(cfg *Config) *Server {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Rules == nil {
		c.Rules = PermitAll()
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

// ListenAndServe listens on addr ("127.0.0.1:0" for a random port) and
// serves in the background. It returns the listening address.
func (s *Server) ListenAndServe(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("socks5: listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.Serve(ln); err != nil {
			s.config.Logger.Error("socks5 server error", "error", err)
		}
	}()
	return ln.Addr(), nil
}

// Serve accepts connections on l until it is closed.
func (s *Server) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			if err := s.ServeConn(conn); err != nil {
				s.config.Logger.Debug("socks5 connection failed", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// Close stops the listener started by ListenAndServe. Established
// connections close when either side does.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Addr returns the listening address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Connects returns the number of CONNECT requests that reached their
// destination.
func (s *Server) Connects() int {
	return int(s.connects.Load())
}

// ServeConn runs one client session and closes conn when it ends.
func (s *Server) ServeConn(conn net.Conn) error {
	defer conn.Close()

	if err := negotiate(conn); err != nil {
		return err
	}

	req, err := readRequest(conn)
	if err != nil {
		rep := repGeneralFailure
		if errors.Is(err, errUnsupportedAddr) {
			rep = repAddrNotSupported
		}
		_ = writeReply(conn, rep)
		return err
	}
	if req.Command != cmdConnect {
		_ = writeReply(conn, repCommandNotSupported)
		return fmt.Errorf("socks5: command %d not supported", req.Command)
	}
	return s.connect(conn, req)
}

// negotiate reads the method list and selects no authentication.
func negotiate(rw io.ReadWriter) error {
	var hdr [2]byte
	if _, err := io.ReadFull(rw, hdr[:]); err != nil {
		return fmt.Errorf("socks5: read greeting: %w", err)
	}
	if hdr[0] != version {
		return fmt.Errorf("socks5: version %d not supported", hdr[0])
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(rw, methods); err != nil {
		return fmt.Errorf("socks5: read methods: %w", err)
	}
	for _, m := range methods {
		if m == methodNoAuth {
			_, err := rw.Write([]byte{version, methodNoAuth})
			return err
		}
	}
	_, _ = rw.Write([]byte{version, methodNoAcceptable})
	return errors.New("socks5: client does not offer no-auth")
}

func (s *Server) connect(conn net.Conn, req *Request) error {
	ctx := context.Background()
	dest := req.DestAddr.Address()

	if !s.config.Rules.Allow(ctx, req) {
		_ = writeReply(conn, repNotAllowed)
		return fmt.Errorf("socks5: %s not allowed", dest)
	}

	target, err := s.config.Dial(ctx, "tcp", dest)
	if err != nil {
		_ = writeReply(conn, repHostUnreachable)
		return fmt.Errorf("socks5: dial %s: %w", dest, err)
	}
	defer target.Close()

	s.connects.Add(1)
	if err := writeReply(conn, repSucceeded); err != nil {
		return err
	}
	s.config.Logger.Debug("socks5 connect", "dest", dest)
	splice(conn, target)
	return nil
}

// splice copies in both directions. When one direction hits EOF the write
// side of its destination is shut down so the peer sees EOF too; splice
// returns once both directions are done.
func splice(a, b net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		pipe(b, a)
	}()
	pipe(a, b)
	<-done
}

func pipe(dst, src net.Conn) {
	_, _ = io.Copy(dst, src)
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	} else {
		_ = dst.Close()
	}
}

// readRequest parses VER CMD RSV ATYP DST.ADDR DST.PORT.
func readRequest(r io.Reader) (*Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("socks5: read request: %w", err)
	}
	if hdr[0] != version {
		return nil, fmt.Errorf("socks5: request version %d not supported", hdr[0])
	}

	addr := &AddrSpec{}
	switch hdr[3] {
	case atypIPv4, atypIPv6:
		n := net.IPv4len
		if hdr[3] == atypIPv6 {
			n = net.IPv6len
		}
		ip := make(net.IP, n)
		if _, err := io.ReadFull(r, ip); err != nil {
			return nil, fmt.Errorf("socks5: read address: %w", err)
		}
		addr.IP = ip
	case atypFQDN:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, fmt.Errorf("socks5: read name length: %w", err)
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("socks5: read name: %w", err)
		}
		addr.FQDN = string(name)
	default:
		return nil, fmt.Errorf("%w: %d", errUnsupportedAddr, hdr[3])
	}

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return nil, fmt.Errorf("socks5: read port: %w", err)
	}
	addr.Port = int(binary.BigEndian.Uint16(port[:]))
	return &Request{Command: hdr[1], DestAddr: addr}, nil
}

// writeReply sends a reply with an all-zero IPv4 bind address.
func writeReply(w io.Writer, rep uint8) error {
	_, err := w.Write([]byte{version, rep, 0, atypIPv4, 0, 0, 0, 0, 0, 0})
	return err
}
