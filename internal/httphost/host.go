// Package httphost extracts the Host header from a plaintext HTTP request head.
package httphost

import (
	"bytes"
	"net"
	"strings"
)

var hostPrefix = []byte("host:")

// Extract scans the header lines of payload for the first line that starts with
// "Host:" (case-insensitive) and returns its trimmed value. Lines end at LF with an
// optional preceding CR. Scanning stops at the blank line that ends the head. Only
// this one segment is inspected, so a header that arrives later is reported as absent.
func Extract(payload []byte) (string, bool) {
	for len(payload) > 0 {
		var line []byte
		if i := bytes.IndexByte(payload, '\n'); i >= 0 {
			line, payload = payload[:i], payload[i+1:]
		} else {
			line, payload = payload, nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			return "", false
		}
		if len(line) < len(hostPrefix) || !bytes.EqualFold(line[:len(hostPrefix)], hostPrefix) {
			continue
		}
		value := strings.TrimSpace(latin1(line[len(hostPrefix):]))
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}

// Hostname strips an optional port and IPv6 brackets from a Host header value.
func Hostname(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
}

// latin1 decodes ISO-8859-1 bytes. ASCII input is returned without re-encoding.
func latin1(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
