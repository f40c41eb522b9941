// Package dnsquery decodes the question of an outgoing DNS query and synthesizes
// the local answer returned for blocked names.
package dnsquery

import (
	"strings"

	"golang.org/x/net/dns/dnsmessage"
)

const (
	headerLen = 12

	flagQR = 0x80 // high bit of the first flags byte
)

// Query is the first question of a DNS query message.
type Query struct {
	ID               uint16
	RecursionDesired bool
	Name             string // labels joined by '.', no trailing dot, case preserved
	Type             uint16
	Class            uint16
}

// ParseQuery decodes the header and first question of a DNS query carried in a UDP payload.
// It returns false on any length inconsistency, on responses, on messages without a
// question and on compressed question names.
func ParseQuery(payload []byte) (Query, bool) {
	if len(payload) < headerLen {
		return Query{}, false
	}
	if payload[2]&flagQR != 0 {
		return Query{}, false
	}
	if payload[4] == 0 && payload[5] == 0 {
		return Query{}, false
	}
	if !plainLabels(payload[headerLen:]) {
		return Query{}, false
	}

	var p dnsmessage.Parser
	h, err := p.Start(payload)
	if err != nil {
		return Query{}, false
	}
	q, err := p.Question()
	if err != nil {
		return Query{}, false
	}

	return Query{
		ID:               h.ID,
		RecursionDesired: h.RecursionDesired,
		Name:             strings.TrimSuffix(q.Name.String(), "."),
		Type:             uint16(q.Type),
		Class:            uint16(q.Class),
	}, true
}

// plainLabels reports whether the name at the start of b uses only ordinary labels.
// A query's first name has nothing earlier to point at.
func plainLabels(b []byte) bool {
	for off := 0; off < len(b); {
		n := int(b[off])
		if n == 0 {
			return true
		}
		if n&0xC0 != 0 {
			return false
		}
		off += n + 1
	}
	return false
}
