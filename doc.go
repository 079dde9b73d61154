/*
Package netlink implements a password-authenticated encrypted stream
transport for client/server games, with typed framing on top.

Two peers, one listening and one dialing, establish a single TCP
connection on the fixed service port 20048. Each side generates a random
32-byte salt, sends it in the clear, and derives an independent session
key from the shared password with scrypt. Application data then flows as
an XChaCha20-Poly1305 message stream per direction. Before any
application bytes are exchanged, each side sends a random 32-byte
challenge through its outbound stream and verifies that the peer echoes
it back intact; a peer holding a different password cannot produce a
valid echo, so password disagreement is detected up front.

The package is organised in three layers. RawConn and RawListener
provide a cancellable, ordered byte pipe: every blocking read, write and
accept re-checks a shared cancellation Token at a 10ms interval, so
stopping the token unblocks all operations promptly. Conn and Listener
add the handshake and the encrypted framing: writes are buffered and
only transmitted on Flush (or once 4096 bytes accumulate), each flushed
chunk travels as an authenticated 2-byte length message followed by an
authenticated body of up to 65535 bytes. Stream and StreamListener add
tagged primitive values: fixed-width little-endian integers, booleans,
characters and length-prefixed strings, each preceded by a one-byte type
tag so that sender/receiver disagreement is detected instead of
silently misread.

Because the stream states advance strictly per message, any tampering,
reordering or splicing of the wire bytes makes the next decryption fail.
A side of a connection that has failed once is poisoned: later calls on
that side return the first error.

A note on handshake errors: when passwords differ, each peer derives a
wrong inbound key, so both fail decrypting the other's challenge and
report ErrInvalidMessage (or ErrHangup, if the other side has already
torn the connection down). ErrPasswordMismatch is reported when the
peer's challenge decrypts but the echo of our own challenge does not
match. Callers should treat all of these as a failed handshake.

Errors returned by netlink are typically wrapped with additional
information. Use errors.Is() or Unwrap to check for errors.
*/
package netlink
