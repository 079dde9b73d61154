package netlink_test

import (
	"log"

	"github.com/novaplan/netlink"
)

func ExampleDialStream() {
	tok := netlink.NewToken()

	stream, err := netlink.DialStream("play.example.com", "password", tok)
	if err != nil {
		log.Fatalf("dial: %s", err)
	}
	defer stream.Close()

	// Values are buffered until Flush; flush at message boundaries.
	stream.SendString("hello")
	if err := stream.Flush(); err != nil {
		log.Fatalf("flush: %s", err)
	}

	reply, err := stream.RecvString()
	if err != nil {
		log.Fatalf("receive: %s", err)
	}
	log.Printf("server said %q", reply)
}

func ExampleListenStream() {
	tok := netlink.NewToken()

	l, err := netlink.ListenStream("password", tok)
	if err != nil {
		log.Fatalf("listen: %s", err)
	}
	defer l.Close()

	serve := func(stream *netlink.Stream) {
		defer stream.Close()
		for {
			msg, err := stream.RecvString()
			if err != nil {
				return
			}
			if stream.SendString(msg) != nil || stream.Flush() != nil {
				return
			}
		}
	}

	for {
		stream, err := l.Accept()
		if err != nil {
			log.Fatalf("accept: %s", err)
		}
		go serve(stream)
	}
}
