package netlink

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, streamKeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestStreamRoundTrip(t *testing.T) {
	key := testKey(t)

	sealer, err := newStreamSealer(key)
	require.NoError(t, err)
	opener, err := newStreamOpener(key, sealer.Header())
	require.NoError(t, err)

	messages := [][]byte{
		[]byte("first"),
		{},
		[]byte("third message, a little longer"),
	}
	for _, msg := range messages {
		sealed, err := sealer.seal(msg)
		require.NoError(t, err)
		require.Len(t, sealed, len(msg)+streamOverhead)

		plain, err := opener.open(sealed)
		require.NoError(t, err)
		require.True(t, bytes.Equal(msg, plain))
	}
}

func TestStreamTamper(t *testing.T) {
	key := testKey(t)

	sealer, err := newStreamSealer(key)
	require.NoError(t, err)
	opener, err := newStreamOpener(key, sealer.Header())
	require.NoError(t, err)

	sealed, err := sealer.seal([]byte("payload"))
	require.NoError(t, err)

	for i := range sealed {
		tampered := append([]byte(nil), sealed...)
		tampered[i] ^= 1
		_, err := opener.open(tampered)
		check(t, err, ErrInvalidMessage, "opening tampered message")
		// Re-sync the opener for the next bit position.
		opener.counter--
	}

	// Untampered still opens once the opener is in sync.
	_, err = opener.open(sealed)
	check(t, err, nil, "opening original message")
}

func TestStreamReorder(t *testing.T) {
	key := testKey(t)

	sealer, err := newStreamSealer(key)
	require.NoError(t, err)
	opener, err := newStreamOpener(key, sealer.Header())
	require.NoError(t, err)

	first, err := sealer.seal([]byte("first"))
	require.NoError(t, err)
	second, err := sealer.seal([]byte("second"))
	require.NoError(t, err)

	// Delivering the second message first desynchronises the stream.
	_, err = opener.open(second)
	check(t, err, ErrInvalidMessage, "opening out-of-order message")
	_ = first
}

func TestStreamWrongKey(t *testing.T) {
	sealer, err := newStreamSealer(testKey(t))
	require.NoError(t, err)
	opener, err := newStreamOpener(testKey(t), sealer.Header())
	require.NoError(t, err)

	sealed, err := sealer.seal([]byte("payload"))
	require.NoError(t, err)
	_, err = opener.open(sealed)
	check(t, err, ErrInvalidMessage, "opening with wrong key")
}

func TestStreamBadHeader(t *testing.T) {
	_, err := newStreamOpener(testKey(t), make([]byte, streamHeaderSize-1))
	check(t, err, ErrInvalidHeader, "short header")
	_, err = newStreamOpener(testKey(t), make([]byte, streamHeaderSize+1))
	check(t, err, ErrInvalidHeader, "long header")
}

func TestStreamHeaderUniqueness(t *testing.T) {
	key := testKey(t)
	seen := make(map[[streamHeaderSize]byte]bool)
	for i := 0; i < 1000; i++ {
		sealer, err := newStreamSealer(key)
		require.NoError(t, err)
		if seen[sealer.header] {
			t.Fatalf("stream header repeated after %d streams", i)
		}
		seen[sealer.header] = true
	}
}
