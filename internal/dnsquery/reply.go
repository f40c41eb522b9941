package dnsquery

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

// Mode selects the shape of the answer given for a blocked name.
type Mode string

const (
	// ModeNXDomain answers with RCODE 3 (name error).
	ModeNXDomain Mode = "nxdomain"
	// ModeSinkhole answers A/AAAA questions with a fixed address and everything else with NODATA.
	ModeSinkhole Mode = "sinkhole"
)

// ParseMode validates a configured response mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNXDomain, ModeSinkhole:
		return Mode(s), nil
	case "":
		return ModeNXDomain, nil
	default:
		return "", fmt.Errorf("unknown dns response mode %q (must be nxdomain/sinkhole)", s)
	}
}

// Responder synthesizes DNS answers for blocked queries.
type Responder struct {
	mode Mode
	v4   netip.Addr
	v6   netip.Addr
	ttl  uint32
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithSinkhole switches the responder to sinkhole mode with the given addresses.
// Invalid addresses fall back to 0.0.0.0 and ::.
func WithSinkhole(v4, v6 netip.Addr) ResponderOption {
	return func(r *Responder) {
		r.mode = ModeSinkhole
		if v4.Is4() {
			r.v4 = v4
		}
		if v6.Is6() {
			r.v6 = v6
		}
	}
}

// WithTTL sets the TTL of synthesized records.
func WithTTL(ttl uint32) ResponderOption {
	return func(r *Responder) { r.ttl = ttl }
}

// NewResponder creates a Responder. The default answers NXDOMAIN.
func NewResponder(opts ...ResponderOption) *Responder {
	r := &Responder{
		mode: ModeNXDomain,
		v4:   netip.IPv4Unspecified(),
		v6:   netip.IPv6Unspecified(),
		ttl:  60,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the configured response mode.
func (r *Responder) Mode() Mode { return r.mode }

// Reply builds the wire-format answer to q. The answer carries q's transaction ID,
// the QR bit and the original question.
func (r *Responder) Reply(q Query) ([]byte, error) {
	req := new(dns.Msg)
	req.Id = q.ID
	req.RecursionDesired = q.RecursionDesired
	req.Question = []dns.Question{{
		Name:   dns.Fqdn(q.Name),
		Qtype:  q.Type,
		Qclass: q.Class,
	}}

	msg := new(dns.Msg)
	switch r.mode {
	case ModeSinkhole:
		msg.SetReply(req)
		msg.Answer = r.sinkholeAnswer(req.Question[0])
	default:
		msg.SetRcode(req, dns.RcodeNameError)
	}
	msg.Authoritative = true
	msg.RecursionAvailable = true

	out, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack dns reply for %q: %w", q.Name, err)
	}
	return out, nil
}

func (r *Responder) sinkholeAnswer(q dns.Question) []dns.RR {
	hdr := dns.RR_Header{Name: q.Name, Class: dns.ClassINET, Ttl: r.ttl}
	switch q.Qtype {
	case dns.TypeA:
		hdr.Rrtype = dns.TypeA
		return []dns.RR{&dns.A{Hdr: hdr, A: net.IP(r.v4.AsSlice())}}
	case dns.TypeAAAA:
		hdr.Rrtype = dns.TypeAAAA
		return []dns.RR{&dns.AAAA{Hdr: hdr, AAAA: net.IP(r.v6.AsSlice())}}
	default:
		return nil
	}
}
