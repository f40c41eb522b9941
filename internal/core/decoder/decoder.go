package decoder

import "firestige.xyz/hostguard/internal/core"

// Decode decodes an IPv4 packet read from a tunnel device down to its L4 payload.
// Anything that is not a well-formed IPv4 UDP/TCP packet yields an error and must be forwarded
// untouched by the caller.
func Decode(data []byte) (core.DecodedPacket, error) {
	var pkt core.DecodedPacket

	ip, l4, err := DecodeIPv4(data)
	if err != nil {
		return pkt, err
	}
	pkt.IP = ip

	if isLaterFragment(data) {
		return pkt, core.ErrUnsupportedProto
	}

	var th core.TransportHeader
	var payload []byte
	switch ip.Protocol {
	case core.ProtoUDP:
		th, payload, err = DecodeUDP(l4)
	case core.ProtoTCP:
		th, payload, err = DecodeTCP(l4)
	default:
		return pkt, core.ErrUnsupportedProto
	}
	if err != nil {
		return pkt, err
	}

	pkt.Transport = th
	pkt.Payload = payload
	// payload is always a reslice of data, so the capacity difference is its offset.
	pkt.PayloadOffset = cap(data) - cap(payload)
	return pkt, nil
}
