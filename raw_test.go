package netlink

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/xerrors"
)

func check(t *testing.T, got, expect error, action string) {
	t.Helper()

	if got == expect {
		return
	}
	if expect == nil || !xerrors.Is(got, expect) {
		t.Fatalf("%s: got %v, expected %v", action, got, expect)
	}
}

// rawPair connects a client and server RawConn over loopback. Both are
// closed when the test ends.
func rawPair(t *testing.T, tok *Token) (*RawConn, *RawConn) {
	t.Helper()

	l, err := ListenRaw(tok)
	check(t, err, nil, "listen")
	defer l.Close()

	type result struct {
		conn *RawConn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		accepted <- result{conn, err}
	}()

	client, err := DialRaw("127.0.0.1", tok)
	check(t, err, nil, "dial")

	r := <-accepted
	check(t, r.err, nil, "accept")

	t.Cleanup(func() {
		client.Close()
		r.conn.Close()
	})
	return client, r.conn
}

func TestRawRoundTrip(t *testing.T) {
	tok := NewToken()
	client, server := rawPair(t, tok)

	sent := make([]byte, 1<<20)
	for i := range sent {
		sent[i] = byte(i)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- client.WriteAll(sent)
	}()

	got := make([]byte, len(sent))
	check(t, server.ReadFull(got), nil, "server read")
	check(t, <-errc, nil, "client write")

	if !bytes.Equal(sent, got) {
		t.Fatalf("read bytes differ from written bytes")
	}
}

func TestRawHangup(t *testing.T) {
	tok := NewToken()
	client, server := rawPair(t, tok)

	check(t, client.Close(), nil, "close client")

	buf := make([]byte, 1)
	check(t, server.ReadFull(buf), ErrHangup, "read after peer close")
}

func TestRawReadCancelled(t *testing.T) {
	tok := NewToken()
	client, _ := rawPair(t, tok)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		done <- client.ReadFull(buf)
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	tok.Stop()

	err := <-done
	elapsed := time.Since(start)
	check(t, err, ErrCancelled, "read after stop")
	if elapsed > 50*time.Millisecond {
		t.Fatalf("cancellation took %v, expected under 50ms", elapsed)
	}
}

func TestRawAcceptCancelled(t *testing.T) {
	tok := NewToken()
	l, err := ListenRaw(tok)
	check(t, err, nil, "listen")
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	tok.Stop()

	err = <-done
	elapsed := time.Since(start)
	check(t, err, ErrCancelled, "accept after stop")
	if elapsed > 50*time.Millisecond {
		t.Fatalf("cancellation took %v, expected under 50ms", elapsed)
	}
}

func TestRawDialRefused(t *testing.T) {
	// Nothing is listening on the service port.
	tok := NewToken()
	_, err := DialRaw("127.0.0.1", tok)
	check(t, err, ErrConnectFailed, "dial with no listener")
}

func TestRawDialStoppedToken(t *testing.T) {
	tok := NewToken()
	tok.Stop()
	_, err := DialRaw("127.0.0.1", tok)
	check(t, err, ErrCancelled, "dial with stopped token")
}

func TestRawNilToken(t *testing.T) {
	if _, err := DialRaw("127.0.0.1", nil); err == nil {
		t.Fatalf("dial with nil token succeeded")
	}
	if _, err := ListenRaw(nil); err == nil {
		t.Fatalf("listen with nil token succeeded")
	}
}

func TestRawAcceptAfterClose(t *testing.T) {
	tok := NewToken()
	l, err := ListenRaw(tok)
	check(t, err, nil, "listen")
	check(t, l.Close(), nil, "close listener")

	_, err = l.Accept()
	check(t, err, ErrClosed, "accept on closed listener")
}
