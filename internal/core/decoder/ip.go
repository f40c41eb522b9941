// Package decoder implements IPv4/UDP/TCP header decoding over a tunnel packet.
package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/hostguard/internal/core"
)

const (
	ipv4HeaderMinLen = 20

	ipv4FragOffsetMsk = 0x1FFF
)

// Version returns the IP version nibble of a raw packet, or 0 for an empty slice.
func Version(data []byte) uint8 {
	if len(data) == 0 {
		return 0
	}
	return data[0] >> 4
}

// DecodeIPv4 decodes an IPv4 header.
// Returns the header and the L4 bytes bounded by the declared total length.
func DecodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	if data[0]>>4 != 4 {
		return core.IPHeader{}, nil, core.ErrUnsupportedProto
	}

	ip := core.IPHeader{
		Version:  4,
		IHL:      data[0] & 0x0F,
		TotalLen: binary.BigEndian.Uint16(data[2:4]),
		TTL:      data[8],
		Protocol: data[9],
	}

	// ihl*4 <= totalLength <= len(data)
	headerLen := ip.HeaderLen()
	if headerLen < ipv4HeaderMinLen {
		return ip, nil, core.ErrLengthMismatch
	}
	if int(ip.TotalLen) < headerLen || int(ip.TotalLen) > len(data) {
		return ip, nil, core.ErrLengthMismatch
	}

	ip.SrcIP = netip.AddrFrom4([4]byte(data[12:16]))
	ip.DstIP = netip.AddrFrom4([4]byte(data[16:20]))

	return ip, data[headerLen:ip.TotalLen], nil
}

// isLaterFragment reports whether an IPv4 packet is a non-first fragment,
// i.e. one that carries no transport header.
func isLaterFragment(data []byte) bool {
	flagsOffset := binary.BigEndian.Uint16(data[6:8])
	return flagsOffset&ipv4FragOffsetMsk != 0
}
