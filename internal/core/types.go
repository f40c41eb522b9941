// Package core defines core types with zero external dependencies.
package core

import (
	"net/netip"
	"strings"
)

// IP protocol numbers interpreted by the engine.
const (
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17
)

// Well-known destination ports that receive deep inspection.
const (
	PortDNS   uint16 = 53
	PortHTTP  uint16 = 80
	PortHTTPS uint16 = 443
)

// IPHeader represents an IPv4 header. Invariant: IHL*4 <= TotalLen <= len(packet).
type IPHeader struct {
	Version  uint8
	IHL      uint8 // in 32-bit words
	Protocol uint8 // TCP=6, UDP=17
	TTL      uint8
	TotalLen uint16
	SrcIP    netip.Addr
	DstIP    netip.Addr
}

// HeaderLen returns the IPv4 header length in bytes.
func (h IPHeader) HeaderLen() int { return int(h.IHL) * 4 }

// TransportHeader represents an L4 header (TCP/UDP).
type TransportHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	// TCP-specific fields (only populated for TCP)
	DataOffset uint8 // in 32-bit words
	TCPFlags   uint8
}

// TCP flag bits as found in TransportHeader.TCPFlags.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagRST uint8 = 0x04
)

// FlowKey identifies a TCP connection by its 4-tuple.
type FlowKey struct {
	Src netip.AddrPort
	Dst netip.AddrPort
}

// NewFlowKey builds a FlowKey from decoded headers.
func NewFlowKey(ip IPHeader, th TransportHeader) FlowKey {
	return FlowKey{
		Src: netip.AddrPortFrom(ip.SrcIP, th.SrcPort),
		Dst: netip.AddrPortFrom(ip.DstIP, th.DstPort),
	}
}

func (k FlowKey) String() string {
	var b strings.Builder
	b.Grow(48)
	b.WriteString(k.Src.String())
	b.WriteString("->")
	b.WriteString(k.Dst.String())
	return b.String()
}

// Action is the outcome of classifying one packet.
type Action uint8

const (
	// ActionForward writes the original packet back unchanged.
	ActionForward Action = iota
	// ActionDrop writes nothing.
	ActionDrop
	// ActionRespond writes Verdict.Payload in place of the original packet.
	ActionRespond
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionDrop:
		return "drop"
	case ActionRespond:
		return "respond"
	default:
		return "unknown"
	}
}

// Verdict is the per-packet classification result. It is consumed once and never retained.
type Verdict struct {
	Action  Action
	Payload []byte // set only for ActionRespond
	Domain  string // domain recovered from the packet, if any
	Reason  string
}

// Forward is the fail-open verdict.
var Forward = Verdict{Action: ActionForward}
