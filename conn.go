package netlink

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"net"

	"golang.org/x/crypto/scrypt"
)

const (
	// saltSize is the scrypt salt each side sends in the clear.
	saltSize = 32

	// verifySize is the length of the random challenge exchanged after
	// the streams are set up.
	verifySize = 32

	// Interactive scrypt profile: 16 MiB, fast enough for a connection
	// handshake, expensive enough for offline guessing to hurt.
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1

	// flushThreshold is the buffered-plaintext size at which Write
	// flushes implicitly.
	flushThreshold = 4096

	// maxChunkSize is the largest plaintext carried by one framed
	// chunk; the chunk length must fit in its 2-byte header.
	maxChunkSize = 1<<16 - 1
)

// Conn is an established password-authenticated connection. Writes are
// buffered: nothing is transmitted until Flush is called or the buffer
// reaches the flush threshold. Reads see the peer's flushed bytes as a
// plain byte stream, regardless of how the peer chunked them.
//
// There are no internal locks. The read side (ReadFull, ReadChunk) and
// the write side (Write, Flush) each hold disjoint state, so one
// goroutine may read while another writes, but neither side may be
// driven by more than one goroutine.
type Conn struct {
	raw  *RawConn
	send *streamSealer
	recv *streamOpener

	// Decrypted chunks not yet consumed, earliest first.
	recvq [][]byte
	// Plaintext not yet encrypted and transmitted.
	sendq []byte

	// First failure per side; once set, every operation on that side
	// returns it.
	readErr  error
	writeErr error
}

// Dial connects to hostname on the service port and performs the
// password handshake.
func Dial(hostname, password string, tok *Token) (*Conn, error) {
	raw, err := DialRaw(hostname, tok)
	if err != nil {
		return nil, err
	}
	c, err := newConn(raw, password)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return c, nil
}

// NewConn performs the password handshake over an existing RawConn,
// taking ownership of it. On failure the RawConn is closed.
func NewConn(raw *RawConn, password string) (*Conn, error) {
	c, err := newConn(raw, password)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return c, nil
}

func newConn(raw *RawConn, password string) (*Conn, error) {
	c := &Conn{raw: raw}
	if err := c.handshake(password); err != nil {
		return nil, err
	}
	return c, nil
}

// handshake derives one key per direction and proves, before any
// application bytes flow, that both sides hold the same password. Both
// peers run the identical sequence; each chooses its own outbound salt
// and header, so nothing distinguishes dialer from accepter.
func (c *Conn) handshake(password string) (rerr error) {
	lcheck, handle := errorHandler(func(xerr error) {
		rerr = xerr
	})
	defer handle()

	// Outbound key: send our salt in the clear, then derive.
	var saltOut [saltSize]byte
	_, err := rand.Read(saltOut[:])
	lcheck(err, "generating salt")
	lcheck(c.raw.WriteAll(saltOut[:]), "sending salt")

	keyOut, err := scrypt.Key([]byte(password), saltOut[:], scryptN, scryptR, scryptP, streamKeySize)
	if err != nil {
		return &wrapErr{ErrOutOfMemory, err}
	}

	c.send, err = newStreamSealer(keyOut)
	lcheck(err, "initialising send stream")
	lcheck(c.raw.WriteAll(c.send.Header()), "sending stream header")

	// Inbound key, from the peer's salt and header.
	var saltIn [saltSize]byte
	lcheck(c.raw.ReadFull(saltIn[:]), "receiving salt")

	keyIn, err := scrypt.Key([]byte(password), saltIn[:], scryptN, scryptR, scryptP, streamKeySize)
	if err != nil {
		return &wrapErr{ErrOutOfMemory, err}
	}

	var headerIn [streamHeaderSize]byte
	lcheck(c.raw.ReadFull(headerIn[:]), "receiving stream header")
	c.recv, err = newStreamOpener(keyIn, headerIn[:])
	if err != nil {
		return err
	}

	// Challenge: the peer can only echo our nonce if it decrypted it,
	// which requires the same password on both ends.
	var nonceOut [verifySize]byte
	_, err = rand.Read(nonceOut[:])
	lcheck(err, "generating challenge")

	cipherOut, err := c.send.seal(nonceOut[:])
	lcheck(err, "encrypting challenge")
	lcheck(c.raw.WriteAll(cipherOut), "sending challenge")

	buf := make([]byte, verifySize+streamOverhead)
	lcheck(c.raw.ReadFull(buf), "receiving challenge")
	nonceIn, err := c.recv.open(buf)
	if err != nil {
		return err
	}
	if len(nonceIn) != verifySize {
		return ErrInvalidMessage
	}

	echoOut, err := c.send.seal(nonceIn)
	lcheck(err, "encrypting echo")
	lcheck(c.raw.WriteAll(echoOut), "sending echo")

	lcheck(c.raw.ReadFull(buf), "receiving echo")
	nonceEcho, err := c.recv.open(buf)
	if err != nil {
		return err
	}
	if len(nonceEcho) != verifySize {
		return ErrInvalidMessage
	}

	if subtle.ConstantTimeCompare(nonceEcho, nonceOut[:]) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

// failRead poisons the read side with its first error.
func (c *Conn) failRead(err error) error {
	if c.readErr == nil {
		c.readErr = err
	}
	return err
}

// failWrite poisons the write side with its first error.
func (c *Conn) failWrite(err error) error {
	if c.writeErr == nil {
		c.writeErr = err
	}
	return err
}

// ReadFull fills buf with exactly len(buf) bytes of the peer's flushed
// plaintext, in the order the peer wrote it.
func (c *Conn) ReadFull(buf []byte) error {
	if c.readErr != nil {
		return c.readErr
	}
	for len(buf) > 0 {
		if len(c.recvq) == 0 {
			if err := c.pull(); err != nil {
				return c.failRead(err)
			}
		}
		front := c.recvq[0]
		n := copy(buf, front)
		buf = buf[n:]
		if n == len(front) {
			c.recvq = c.recvq[1:]
		} else {
			c.recvq[0] = front[n:]
		}
	}
	return nil
}

// ReadChunk returns the next decrypted chunk whole, pulling one off the
// wire if none is buffered. Useful when relaying a stream without
// knowing its framing.
func (c *Conn) ReadChunk() ([]byte, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	if len(c.recvq) == 0 {
		if err := c.pull(); err != nil {
			return nil, c.failRead(err)
		}
	}
	front := c.recvq[0]
	c.recvq = c.recvq[1:]
	return front, nil
}

// Write buffers buf for transmission. The data only leaves the process
// on Flush, or immediately once the buffer reaches the flush threshold.
func (c *Conn) Write(buf []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.sendq = append(c.sendq, buf...)
	if len(c.sendq) >= flushThreshold {
		return c.Flush()
	}
	return nil
}

// Flush encrypts and transmits all buffered plaintext as one or more
// framed chunks. Each chunk is a 2-byte little-endian length and a body
// of that many bytes, each sealed as its own stream message, in that
// order.
func (c *Conn) Flush() error {
	if c.writeErr != nil {
		return c.writeErr
	}
	for len(c.sendq) > 0 {
		n := len(c.sendq)
		if n > maxChunkSize {
			n = maxChunkSize
		}

		var header [2]byte
		binary.LittleEndian.PutUint16(header[:], uint16(n))
		headerCipher, err := c.send.seal(header[:])
		if err != nil {
			return c.failWrite(err)
		}
		if err := c.raw.WriteAll(headerCipher); err != nil {
			return c.failWrite(err)
		}

		bodyCipher, err := c.send.seal(c.sendq[:n])
		if err != nil {
			return c.failWrite(err)
		}
		if err := c.raw.WriteAll(bodyCipher); err != nil {
			return c.failWrite(err)
		}

		c.sendq = c.sendq[n:]
	}
	c.sendq = nil
	return nil
}

// pull reads one framed chunk off the wire and appends its plaintext to
// the receive queue.
func (c *Conn) pull() error {
	buf := make([]byte, 2+streamOverhead)
	if err := c.raw.ReadFull(buf); err != nil {
		return err
	}
	header, err := c.recv.open(buf)
	if err != nil {
		return err
	}
	if len(header) != 2 {
		return ErrInvalidMessage
	}
	n := int(binary.LittleEndian.Uint16(header))

	body := make([]byte, n+streamOverhead)
	if err := c.raw.ReadFull(body); err != nil {
		return err
	}
	plain, err := c.recv.open(body)
	if err != nil {
		return err
	}
	c.recvq = append(c.recvq, plain)
	return nil
}

// Close closes the underlying connection. Buffered but unflushed writes
// are never transmitted: blocked or later reads and flushes fail with
// ErrClosed, while a later Write still only buffers and fails once it
// flushes. Close is safe to call while another goroutine is blocked on
// the connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Listener accepts password-authenticated connections. The password is
// held for the listener's lifetime and used to complete the handshake
// on every accept.
type Listener struct {
	raw      *RawListener
	password string
}

// Listen binds the service port and returns a listener that completes
// the password handshake on each accepted connection.
func Listen(password string, tok *Token) (*Listener, error) {
	raw, err := ListenRaw(tok)
	if err != nil {
		return nil, err
	}
	return &Listener{raw: raw, password: password}, nil
}

// Accept blocks for the next connection and performs the handshake on
// it. A connection whose handshake fails is closed and the error
// returned; the listener itself stays usable.
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.raw.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(raw, l.password)
}

// Close closes the passive socket.
func (l *Listener) Close() error {
	return l.raw.Close()
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.raw.Addr()
}
