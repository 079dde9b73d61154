package netlink

import (
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

const (
	// Port is the fixed service port, "NP" in ASCII. It is not
	// configurable at this layer.
	Port = 0x4e50

	// listenBacklog is the passive-socket backlog. The Go runtime
	// manages the actual listen(2) backlog; the constant documents the
	// protocol's requirement.
	listenBacklog = 4

	// pollInterval bounds how long a blocked read, write or accept can
	// take to observe a stopped token.
	pollInterval = 10 * time.Millisecond
)

// RawConn is a cancellable, ordered, reliable byte pipe over a single
// TCP connection. A RawConn owns its socket; after handing it to a Conn
// it must not be used directly anymore.
type RawConn struct {
	conn net.Conn
	tok  *Token
}

// DialRaw resolves hostname and connects to the first address that
// accepts a connection on the service port. Resolution and connecting
// are aborted when the token is stopped.
func DialRaw(hostname string, tok *Token) (*RawConn, error) {
	if tok == nil {
		return nil, errNoToken
	}
	if tok.Stopped() {
		return nil, ErrCancelled
	}

	ctx, cancel := tok.Context()
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		if tok.Stopped() {
			return nil, ErrCancelled
		}
		return nil, prefixError(ErrConnectFailed, "looking up %q: %v", hostname, err)
	}

	service := strconv.Itoa(Port)
	dialer := net.Dialer{}
	for _, addr := range addrs {
		var conn net.Conn
		conn, err = dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr.IP.String(), service))
		if err != nil {
			continue
		}
		return &RawConn{conn: conn, tok: tok}, nil
	}
	if tok.Stopped() {
		return nil, ErrCancelled
	}
	if err == nil {
		return nil, prefixError(ErrConnectFailed, "no addresses for %q", hostname)
	}
	return nil, prefixError(ErrConnectFailed, "connecting to %q: %v", hostname, err)
}

// ReadFull reads exactly len(buf) bytes, blocking until they arrived,
// the token was stopped, or the connection failed.
func (c *RawConn) ReadFull(buf []byte) error {
	for len(buf) > 0 {
		if c.tok.Stopped() {
			return ErrCancelled
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return classifyIOError("read", err)
		}
		n, err := c.conn.Read(buf)
		buf = buf[n:]
		if err != nil && !isTimeout(err) {
			return classifyIOError("read", err)
		}
	}
	return nil
}

// WriteAll writes all of buf, blocking until it was accepted by the OS,
// the token was stopped, or the connection failed.
func (c *RawConn) WriteAll(buf []byte) error {
	for len(buf) > 0 {
		if c.tok.Stopped() {
			return ErrCancelled
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(pollInterval)); err != nil {
			return classifyIOError("write", err)
		}
		n, err := c.conn.Write(buf)
		buf = buf[n:]
		if err != nil && !isTimeout(err) {
			return classifyIOError("write", err)
		}
	}
	return nil
}

// Close closes the underlying socket.
func (c *RawConn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the local network address.
func (c *RawConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *RawConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RawListener owns a passive socket bound to the service port and
// produces RawConns.
type RawListener struct {
	l   *net.TCPListener
	tok *Token
}

// ListenRaw binds the service port on all addresses, with SO_REUSEADDR
// set so a restarted server can rebind immediately.
func ListenRaw(tok *Token) (*RawListener, error) {
	if tok == nil {
		return nil, errNoToken
	}
	if tok.Stopped() {
		return nil, ErrCancelled
	}

	ctx, cancel := tok.Context()
	defer cancel()

	lc := net.ListenConfig{Control: controlReuseAddr}
	l, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(Port)))
	if err != nil {
		if tok.Stopped() {
			return nil, ErrCancelled
		}
		return nil, prefixError(ErrBindFailed, "%v", err)
	}
	return &RawListener{l: l.(*net.TCPListener), tok: tok}, nil
}

func controlReuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// Accept blocks until a connection arrives, the token is stopped, or
// the listener fails. Transient accept errors are retried.
func (l *RawListener) Accept() (*RawConn, error) {
	for {
		if l.tok.Stopped() {
			return nil, ErrCancelled
		}
		if err := l.l.SetDeadline(time.Now().Add(pollInterval)); err != nil {
			return nil, classifyIOError("accept", err)
		}
		conn, err := l.l.Accept()
		if err == nil {
			return &RawConn{conn: conn, tok: l.tok}, nil
		}
		if isTimeout(err) || isTemporary(err) {
			continue
		}
		return nil, classifyIOError("accept", err)
	}
}

// Close closes the passive socket. A blocked Accept returns ErrClosed.
func (l *RawListener) Close() error {
	return l.l.Close()
}

// Addr returns the listener's network address.
func (l *RawListener) Addr() net.Addr {
	return l.l.Addr()
}

// classifyIOError sorts OS errors into the error kinds callers are
// expected to handle: hangups are recoverable at the session level,
// everything else is not.
func classifyIOError(op string, err error) error {
	switch {
	case err == io.EOF || xerrors.Is(err, io.ErrUnexpectedEOF):
		return ErrHangup
	case xerrors.Is(err, unix.EPIPE) || xerrors.Is(err, unix.ECONNRESET):
		return ErrHangup
	case xerrors.Is(err, net.ErrClosed):
		return prefixError(ErrClosed, "%s on closed connection", op)
	default:
		return prefixError(ErrIO, "%s: %v", op, err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return xerrors.As(err, &ne) && ne.Timeout()
}

func isTemporary(err error) bool {
	var ne net.Error
	return xerrors.As(err, &ne) && ne.Temporary()
}
