// Package classifier decides what happens to each packet read from the tunnel.
//
// Only DNS queries (UDP/53), TLS ClientHellos (TCP/443) and plaintext HTTP requests
// (TCP/80) are inspected. Everything else, and anything that fails to parse, is
// forwarded untouched.
package classifier

import (
	"log/slog"
	"strings"

	"firestige.xyz/hostguard/internal/core"
	"firestige.xyz/hostguard/internal/core/decoder"
	"firestige.xyz/hostguard/internal/dnsquery"
	"firestige.xyz/hostguard/internal/flowcache"
	"firestige.xyz/hostguard/internal/httphost"
	"firestige.xyz/hostguard/internal/metrics"
	"firestige.xyz/hostguard/internal/sni"
)

// Matcher answers blocklist lookups. *blocklist.Store implements it.
type Matcher interface {
	Contains(domain string) bool
}

// Classifier maps a raw packet to a Verdict. It keeps no per-packet state; the only
// state it consults is the blocklist and the flow cache.
type Classifier struct {
	blocked    Matcher
	flows      *flowcache.Cache
	responder  *dnsquery.Responder
	enforceTCP bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFlowCache drops the remaining packets of a TCP flow once one of them carried a
// blocked name.
func WithFlowCache(fc *flowcache.Cache) Option {
	return func(c *Classifier) { c.flows = fc }
}

// WithResponder sets how blocked DNS queries are answered.
func WithResponder(r *dnsquery.Responder) Option {
	return func(c *Classifier) {
		if r != nil {
			c.responder = r
		}
	}
}

// WithTCPEnforcement toggles dropping of TCP packets whose SNI or Host is blocked.
// When disabled the match is only logged and counted.
func WithTCPEnforcement(enabled bool) Option {
	return func(c *Classifier) { c.enforceTCP = enabled }
}

// New creates a Classifier backed by blocked.
func New(blocked Matcher, opts ...Option) *Classifier {
	c := &Classifier{
		blocked:    blocked,
		responder:  dnsquery.NewResponder(),
		enforceTCP: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify inspects pkt and returns the action to take. pkt is not retained; the
// returned Payload, if any, is a fresh buffer.
func (c *Classifier) Classify(pkt []byte) core.Verdict {
	if decoder.Version(pkt) != 4 {
		return c.count(core.Forward, "other")
	}

	p, err := decoder.Decode(pkt)
	if err != nil {
		return c.count(core.Forward, protoLabel(p.IP.Protocol))
	}

	switch p.IP.Protocol {
	case core.ProtoUDP:
		return c.count(c.classifyUDP(p), "udp")
	case core.ProtoTCP:
		return c.count(c.classifyTCP(p), "tcp")
	default:
		return c.count(core.Forward, "other")
	}
}

func (c *Classifier) classifyUDP(p core.DecodedPacket) core.Verdict {
	if p.Transport.DstPort != core.PortDNS {
		return core.Forward
	}

	q, ok := dnsquery.ParseQuery(p.Payload)
	if !ok {
		return core.Forward
	}
	domain := strings.ToLower(q.Name)
	if !c.blocked.Contains(q.Name) {
		return core.Verdict{Action: core.ActionForward, Domain: domain}
	}
	metrics.BlockedTotal.WithLabelValues("dns").Inc()

	msg, err := c.responder.Reply(q)
	if err == nil {
		var out []byte
		out, err = dnsquery.BuildReplyPacket(p.IP, p.Transport, msg)
		if err == nil {
			slog.Debug("blocked dns query", "domain", domain, "id", q.ID, "qtype", q.Type)
			return core.Verdict{Action: core.ActionRespond, Payload: out, Domain: domain, Reason: "dns"}
		}
	}
	// A blocked query must not reach the resolver even if no answer could be built.
	slog.Warn("dns reply synthesis failed, dropping query", "domain", domain, "error", err)
	return core.Verdict{Action: core.ActionDrop, Domain: domain, Reason: "dns"}
}

func (c *Classifier) classifyTCP(p core.DecodedPacket) core.Verdict {
	var reason string
	switch p.Transport.DstPort {
	case core.PortHTTPS:
		reason = "sni"
	case core.PortHTTP:
		reason = "http-host"
	default:
		return core.Forward
	}

	key := core.NewFlowKey(p.IP, p.Transport)
	if c.flows != nil {
		if domain, ok := c.flows.Blocked(key); ok {
			// The client gave up on the connection; its 4-tuple may be reused.
			if p.Transport.TCPFlags&(core.TCPFlagFIN|core.TCPFlagRST) != 0 {
				c.flows.Forget(key)
			}
			return core.Verdict{Action: core.ActionDrop, Domain: domain, Reason: "flow"}
		}
	}
	if len(p.Payload) == 0 {
		return core.Forward
	}

	var host string
	var ok bool
	if reason == "sni" {
		host, ok = sni.Extract(p.Payload)
	} else {
		host, ok = httphost.Extract(p.Payload)
		host = httphost.Hostname(host)
	}
	if !ok || host == "" {
		return core.Forward
	}
	domain := strings.ToLower(host)
	if !c.blocked.Contains(host) {
		return core.Verdict{Action: core.ActionForward, Domain: domain}
	}
	metrics.BlockedTotal.WithLabelValues(reason).Inc()

	if !c.enforceTCP {
		slog.Info("blocked host seen, tcp enforcement disabled", "domain", domain, "flow", key.String(), "reason", reason)
		return core.Verdict{Action: core.ActionForward, Domain: domain, Reason: reason}
	}
	if c.flows != nil {
		c.flows.Block(key, domain)
	}
	slog.Debug("blocked tcp flow", "domain", domain, "flow", key.String(), "reason", reason)
	return core.Verdict{Action: core.ActionDrop, Domain: domain, Reason: reason}
}

func (c *Classifier) count(v core.Verdict, proto string) core.Verdict {
	metrics.VerdictsTotal.WithLabelValues(v.Action.String(), proto).Inc()
	return v
}

func protoLabel(p uint8) string {
	switch p {
	case core.ProtoUDP:
		return "udp"
	case core.ProtoTCP:
		return "tcp"
	default:
		return "other"
	}
}
