package netlink

import (
	"encoding/binary"
)

// Tag bytes identifying each value on the wire. A value is its tag
// followed by a fixed-width little-endian payload; strings carry a
// 2-byte length before their bytes.
const (
	TagU8     byte = 'b'
	TagU16    byte = 's'
	TagU32    byte = 'i'
	TagU64    byte = 'l'
	TagI8     byte = 'B'
	TagI16    byte = 'S'
	TagI32    byte = 'I'
	TagI64    byte = 'L'
	TagChar   byte = 'c'
	TagBool   byte = 'o'
	TagString byte = 'C'
)

// maxStringSize is the largest string a single value can carry; its
// length must fit the 2-byte prefix. Longer strings are rejected, not
// fragmented.
const maxStringSize = 1<<16 - 1

// Stream sends and receives tagged primitive values over a Conn. It
// inherits the Conn's buffering: values only leave the process on
// Flush. Like the Conn, a Stream must be driven by one goroutine at a
// time.
type Stream struct {
	conn *Conn
}

// NewStream wraps an established Conn, taking ownership of it.
func NewStream(conn *Conn) *Stream {
	return &Stream{conn: conn}
}

// DialStream connects to hostname, performs the password handshake and
// returns the typed layer.
func DialStream(hostname, password string, tok *Token) (*Stream, error) {
	conn, err := Dial(hostname, password, tok)
	if err != nil {
		return nil, err
	}
	return &Stream{conn: conn}, nil
}

// Conn returns the underlying connection.
func (s *Stream) Conn() *Conn {
	return s.conn
}

// Flush transmits all buffered values. Flush is mandatory at logical
// message boundaries; Send alone does not guarantee transmission.
func (s *Stream) Flush() error {
	return s.conn.Flush()
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

func (s *Stream) SendU8(v uint8) error {
	return s.conn.Write([]byte{TagU8, v})
}

func (s *Stream) SendU16(v uint16) error {
	var buf [3]byte
	buf[0] = TagU16
	binary.LittleEndian.PutUint16(buf[1:], v)
	return s.conn.Write(buf[:])
}

func (s *Stream) SendU32(v uint32) error {
	var buf [5]byte
	buf[0] = TagU32
	binary.LittleEndian.PutUint32(buf[1:], v)
	return s.conn.Write(buf[:])
}

func (s *Stream) SendU64(v uint64) error {
	var buf [9]byte
	buf[0] = TagU64
	binary.LittleEndian.PutUint64(buf[1:], v)
	return s.conn.Write(buf[:])
}

// Signed integers travel as the two's-complement reinterpretation of
// their unsigned counterpart.

func (s *Stream) SendI8(v int8) error {
	return s.conn.Write([]byte{TagI8, uint8(v)})
}

func (s *Stream) SendI16(v int16) error {
	var buf [3]byte
	buf[0] = TagI16
	binary.LittleEndian.PutUint16(buf[1:], uint16(v))
	return s.conn.Write(buf[:])
}

func (s *Stream) SendI32(v int32) error {
	var buf [5]byte
	buf[0] = TagI32
	binary.LittleEndian.PutUint32(buf[1:], uint32(v))
	return s.conn.Write(buf[:])
}

func (s *Stream) SendI64(v int64) error {
	var buf [9]byte
	buf[0] = TagI64
	binary.LittleEndian.PutUint64(buf[1:], uint64(v))
	return s.conn.Write(buf[:])
}

func (s *Stream) SendChar(v byte) error {
	return s.conn.Write([]byte{TagChar, v})
}

func (s *Stream) SendBool(v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	return s.conn.Write([]byte{TagBool, b})
}

func (s *Stream) SendString(v string) error {
	if len(v) > maxStringSize {
		return prefixError(ErrStringTooLong, "%d bytes", len(v))
	}
	buf := make([]byte, 3+len(v))
	buf[0] = TagString
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(v)))
	copy(buf[3:], v)
	return s.conn.Write(buf)
}

// expect consumes one tag byte. On mismatch the tag stays consumed and
// ErrTagMismatch is returned; the session should be treated as corrupt.
func (s *Stream) expect(tag byte) error {
	var b [1]byte
	if err := s.conn.ReadFull(b[:]); err != nil {
		return err
	}
	if b[0] != tag {
		return prefixError(ErrTagMismatch, "expected %q, got %q", tag, b[0])
	}
	return nil
}

func (s *Stream) recvPayload(tag byte, n int) ([]byte, error) {
	if err := s.expect(tag); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := s.conn.ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Stream) RecvU8() (uint8, error) {
	buf, err := s.recvPayload(TagU8, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (s *Stream) RecvU16() (uint16, error) {
	buf, err := s.recvPayload(TagU16, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (s *Stream) RecvU32() (uint32, error) {
	buf, err := s.recvPayload(TagU32, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (s *Stream) RecvU64() (uint64, error) {
	buf, err := s.recvPayload(TagU64, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (s *Stream) RecvI8() (int8, error) {
	buf, err := s.recvPayload(TagI8, 1)
	if err != nil {
		return 0, err
	}
	return int8(buf[0]), nil
}

func (s *Stream) RecvI16() (int16, error) {
	buf, err := s.recvPayload(TagI16, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(buf)), nil
}

func (s *Stream) RecvI32() (int32, error) {
	buf, err := s.recvPayload(TagI32, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

func (s *Stream) RecvI64() (int64, error) {
	buf, err := s.recvPayload(TagI64, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (s *Stream) RecvChar() (byte, error) {
	buf, err := s.recvPayload(TagChar, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (s *Stream) RecvBool() (bool, error) {
	buf, err := s.recvPayload(TagBool, 1)
	if err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

func (s *Stream) RecvString() (string, error) {
	buf, err := s.recvPayload(TagString, 2)
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(buf)
	data := make([]byte, n)
	if err := s.conn.ReadFull(data); err != nil {
		return "", err
	}
	return string(data), nil
}

// StreamListener accepts connections and returns them at the typed
// layer.
type StreamListener struct {
	l *Listener
}

// ListenStream binds the service port; accepted connections complete
// the password handshake and are returned as Streams.
func ListenStream(password string, tok *Token) (*StreamListener, error) {
	l, err := Listen(password, tok)
	if err != nil {
		return nil, err
	}
	return &StreamListener{l: l}, nil
}

// Accept blocks for the next handshaken connection.
func (l *StreamListener) Accept() (*Stream, error) {
	conn, err := l.l.Accept()
	if err != nil {
		return nil, err
	}
	return &Stream{conn: conn}, nil
}

// Close closes the passive socket.
func (l *StreamListener) Close() error {
	return l.l.Close()
}
