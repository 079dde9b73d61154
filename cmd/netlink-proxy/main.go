/*
Netlink-proxy bridges plain TCP clients to a netlink server.

It listens on a local address and, for every plain connection accepted,
dials the remote host over netlink and shuttles bytes both ways. This
lets tools that speak the carried protocol, but not the transport, reach
a protected server:

	$ netlink-proxy -listen localhost:4000 -password swordfish play.example.com

Bytes from the plain side are flushed to the netlink side per read, so
interactive request/response traffic keeps flowing.
*/
package main

import (
	"flag"
	"log"
	"net"
	"os"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/novaplan/netlink"
)

var (
	listenAddr = flag.String("listen", "localhost:4000", "local address to accept plain connections on")
	password   = flag.String("password", "", "shared password for the netlink side")
	verbose    = flag.Bool("verbose", false, "log per-connection traffic")
)

func check(err error, action string) {
	if err != nil {
		log.Fatalf("%s: %s\n", action, err)
	}
}

func main() {
	log.SetFlags(0)
	flag.Usage = func() {
		log.Println("usage: netlink-proxy [flags] host")
		flag.PrintDefaults()
	}
	flag.Parse()
	if len(flag.Args()) != 1 || *password == "" {
		flag.Usage()
		os.Exit(2)
	}

	host, err := netlink.ParseHost(flag.Arg(0))
	check(err, "parsing host")

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	l, err := net.Listen("tcp", *listenAddr)
	check(err, "listen")
	logger.WithFields(logrus.Fields{"listen": *listenAddr, "remote": host}).Info("proxying")

	tok := netlink.NewToken()
	for {
		plain, err := l.Accept()
		check(err, "accept")
		go bridge(logger, tok, plain, host)
	}
}

func bridge(logger *logrus.Logger, tok *netlink.Token, plain net.Conn, host string) {
	defer plain.Close()

	clog := logger.WithFields(logrus.Fields{
		"conn":  xid.New().String(),
		"local": plain.RemoteAddr().String(),
	})

	conn, err := netlink.Dial(host, *password, tok)
	if err != nil {
		clog.WithError(err).Warn("dialing remote failed")
		return
	}
	defer conn.Close()
	clog.Info("bridged")

	done := make(chan struct{}, 2)

	// Plain to netlink: every read is flushed immediately, preserving
	// request/response interactivity across the buffered transport.
	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 4096)
		for {
			n, err := plain.Read(buf)
			if n > 0 {
				if conn.Write(buf[:n]) != nil || conn.Flush() != nil {
					return
				}
				clog.WithField("bytes", n).Debug("to remote")
			}
			if err != nil {
				return
			}
		}
	}()

	// Netlink to plain: relay decrypted chunks as they arrive.
	go func() {
		defer func() { done <- struct{}{} }()
		for {
			chunk, err := conn.ReadChunk()
			if err != nil {
				return
			}
			if _, err := plain.Write(chunk); err != nil {
				return
			}
			clog.WithField("bytes", len(chunk)).Debug("to local")
		}
	}()

	<-done
	clog.Info("closed")
}
