package netlink

import (
	"testing"
)

func TestParseHost(t *testing.T) {
	valid := map[string]string{
		"play.example.com":        "play.example.com",
		"play.example.com:20048":  "play.example.com",
		"192.0.2.17":              "192.0.2.17",
		"192.0.2.17:20048":        "192.0.2.17",
		"[2001:db8::17]":          "2001:db8::17",
		"[2001:db8::17]:20048":    "2001:db8::17",
		"localhost":               "localhost",
	}
	for target, want := range valid {
		got, err := ParseHost(target)
		check(t, err, nil, "parsing "+target)
		if got != want {
			t.Fatalf("parsing %q: got %q, expected %q", target, got, want)
		}
	}

	invalid := []string{
		"",
		"play.example.com:20049",
		"play.example.com:http",
		":20048",
	}
	for _, target := range invalid {
		_, err := ParseHost(target)
		check(t, err, ErrBadAddress, "parsing "+target)
	}
}
