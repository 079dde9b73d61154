/*
Netlink is a tool for running and exercising netlink servers.

	$ netlink
	netlink: usage: netlink listen [-password pw] [-config file]
	netlink:        netlink dial [-password pw] host
	netlink:        netlink ping [-password pw] [-size n] host

Listen starts an echo server: every string received on a connection is
sent back and flushed. The password comes from the -password flag or a
YAML config file:

	$ cat server.yml
	password: swordfish
	level: debug
	$ netlink listen -config server.yml

Dial connects to a server and turns stdin lines into strings, printing
every string received:

	$ netlink dial -password swordfish play.example.com

Ping measures a string round trip against an echo server:

	$ netlink ping -password swordfish play.example.com
	netlink: ping: 42 bytes echoed in 1.8ms

The service port is fixed at 20048. All three subcommands stop the
shared cancellation token on SIGINT and SIGTERM.
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/novaplan/netlink"
)

func check(err error, action string) {
	if err != nil {
		log.Fatalf("%s: %s\n", action, err)
	}
}

func usage() {
	log.Println("usage: netlink listen [-password pw] [-config file]")
	log.Println("       netlink dial [-password pw] host")
	log.Println("       netlink ping [-password pw] [-size n] host")
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("netlink: ")
	if len(os.Args) < 2 {
		usage()
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "listen":
		listen(args)
	case "dial":
		dial(args)
	case "ping":
		ping(args)
	default:
		usage()
	}
}

// config is the optional server configuration file.
type config struct {
	Password string `yaml:"password"`
	Level    string `yaml:"level"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %s", path, err)
	}
	return cfg, nil
}

// stopOnSignal stops the token on SIGINT or SIGTERM, unblocking all
// connections and listeners holding it.
func stopOnSignal(tok *netlink.Token) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		tok.Stop()
	}()
}

func listen(args []string) {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	password := fs.String("password", "", "shared password; overridden by the config file")
	configPath := fs.String("config", "", "path to YAML config file")
	fs.Parse(args)
	if len(fs.Args()) != 0 {
		usage()
	}

	logger := logrus.New()
	if *configPath != "" {
		cfg, err := loadConfig(*configPath)
		check(err, "loading config")
		if cfg.Password != "" {
			*password = cfg.Password
		}
		if cfg.Level != "" {
			level, err := logrus.ParseLevel(cfg.Level)
			check(err, "parsing log level")
			logger.SetLevel(level)
		}
	}
	if *password == "" {
		log.Fatalln("listen: no password configured")
	}

	tok := netlink.NewToken()
	stopOnSignal(tok)

	l, err := netlink.ListenStream(*password, tok)
	check(err, "listen")
	defer l.Close()
	logger.WithField("port", netlink.Port).Info("listening")

	for {
		stream, err := l.Accept()
		if err != nil {
			if tok.Stopped() {
				logger.Info("stopped")
				return
			}
			logger.WithError(err).Warn("accept failed")
			continue
		}
		go serve(logger, stream)
	}
}

func serve(logger *logrus.Logger, stream *netlink.Stream) {
	defer stream.Close()

	clog := logger.WithFields(logrus.Fields{
		"conn":   xid.New().String(),
		"remote": stream.Conn().RemoteAddr().String(),
	})
	clog.Info("connected")

	for {
		msg, err := stream.RecvString()
		if err != nil {
			clog.WithError(err).Debug("connection done")
			return
		}
		if err := stream.SendString(msg); err != nil {
			clog.WithError(err).Debug("echo failed")
			return
		}
		if err := stream.Flush(); err != nil {
			clog.WithError(err).Debug("flush failed")
			return
		}
		clog.WithField("bytes", len(msg)).Debug("echoed")
	}
}

func dial(args []string) {
	fs := flag.NewFlagSet("dial", flag.ExitOnError)
	password := fs.String("password", "", "shared password")
	fs.Parse(args)
	if len(fs.Args()) != 1 || *password == "" {
		usage()
	}

	host, err := netlink.ParseHost(fs.Arg(0))
	check(err, "parsing host")

	tok := netlink.NewToken()
	stopOnSignal(tok)

	stream, err := netlink.DialStream(host, *password, tok)
	check(err, "dial")
	defer stream.Close()
	log.Printf("connected to %s", stream.Conn().RemoteAddr())

	go func() {
		for {
			msg, err := stream.RecvString()
			if err != nil {
				check(err, "receive")
			}
			fmt.Println(msg)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		check(stream.SendString(scanner.Text()), "send")
		check(stream.Flush(), "flush")
	}
	check(scanner.Err(), "reading stdin")
}

func ping(args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	password := fs.String("password", "", "shared password")
	size := fs.Int("size", 42, "payload size in bytes")
	fs.Parse(args)
	if len(fs.Args()) != 1 || *password == "" {
		usage()
	}

	host, err := netlink.ParseHost(fs.Arg(0))
	check(err, "parsing host")

	tok := netlink.NewToken()
	stopOnSignal(tok)

	stream, err := netlink.DialStream(host, *password, tok)
	check(err, "dial")
	defer stream.Close()

	payload := make([]byte, *size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	start := time.Now()
	check(stream.SendString(string(payload)), "send")
	check(stream.Flush(), "flush")
	echo, err := stream.RecvString()
	check(err, "receive")
	elapsed := time.Since(start)

	if echo != string(payload) {
		log.Fatalf("ping: echo differs from payload")
	}
	log.Printf("ping: %d bytes echoed in %s", len(echo), elapsed)
}
