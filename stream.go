package netlink

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// streamKeySize is the session key size, matching scrypt's output.
	streamKeySize = chacha20poly1305.KeySize

	// streamHeaderSize is the public per-stream header sent in the
	// clear during the handshake. It doubles as the nonce base.
	streamHeaderSize = chacha20poly1305.NonceSizeX

	// streamOverhead is the per-message authentication tag size.
	streamOverhead = chacha20poly1305.Overhead
)

// streamSealer is the sending half of an authenticated message stream:
// an XChaCha20-Poly1305 AEAD whose nonce is the stream header with a
// little-endian message counter folded into the last 8 bytes. Sealing a
// message advances the counter exactly once, so the receiving half only
// stays in sync when it sees every message, in order.
type streamSealer struct {
	aead    cipher.AEAD
	header  [streamHeaderSize]byte
	counter uint64
}

func newStreamSealer(key []byte) (*streamSealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	s := &streamSealer{aead: aead}
	if _, err := rand.Read(s.header[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// Header returns the public stream header. It carries no secrets.
func (s *streamSealer) Header() []byte {
	return s.header[:]
}

func (s *streamSealer) seal(plain []byte) ([]byte, error) {
	nonce, err := streamNonce(&s.header, &s.counter)
	if err != nil {
		return nil, err
	}
	return s.aead.Seal(nil, nonce, plain, nil), nil
}

// streamOpener mirrors streamSealer for the receiving direction. It is
// initialised from the peer's header and advances its counter once per
// opened message.
type streamOpener struct {
	aead    cipher.AEAD
	header  [streamHeaderSize]byte
	counter uint64
}

func newStreamOpener(key, header []byte) (*streamOpener, error) {
	if len(header) != streamHeaderSize {
		return nil, prefixError(ErrInvalidHeader, "got %d bytes, need %d", len(header), streamHeaderSize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	o := &streamOpener{aead: aead}
	copy(o.header[:], header)
	return o, nil
}

func (o *streamOpener) open(ciphertext []byte) ([]byte, error) {
	nonce, err := streamNonce(&o.header, &o.counter)
	if err != nil {
		return nil, err
	}
	plain, err := o.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidMessage
	}
	return plain, nil
}

func streamNonce(header *[streamHeaderSize]byte, counter *uint64) ([]byte, error) {
	if *counter == math.MaxUint64 {
		return nil, errCounterWrapped
	}
	nonce := make([]byte, streamHeaderSize)
	copy(nonce, header[:])
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], *counter)
	for i, b := range ctr {
		nonce[streamHeaderSize-8+i] ^= b
	}
	*counter++
	return nonce, nil
}
