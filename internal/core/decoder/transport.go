package decoder

import (
	"encoding/binary"

	"firestige.xyz/hostguard/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
)

// DecodeUDP decodes a UDP header.
// The UDP length field bounds the payload when it is consistent with the slice.
func DecodeUDP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{}, nil, core.ErrPacketTooShort
	}

	th := core.TransportHeader{
		Protocol: core.ProtoUDP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
	}

	length := int(binary.BigEndian.Uint16(data[4:6]))
	switch {
	case length < udpHeaderLen:
		// Zero is legal for jumbograms only; anything else is garbage.
		return th, nil, core.ErrLengthMismatch
	case length > len(data):
		return th, nil, core.ErrLengthMismatch
	}
	return th, data[udpHeaderLen:length], nil
}

// DecodeTCP decodes a TCP header including options.
func DecodeTCP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TransportHeader{}, nil, core.ErrPacketTooShort
	}

	th := core.TransportHeader{
		Protocol:   core.ProtoTCP,
		SrcPort:    binary.BigEndian.Uint16(data[0:2]),
		DstPort:    binary.BigEndian.Uint16(data[2:4]),
		DataOffset: data[12] >> 4,
		// URG, ACK, PSH, RST, SYN, FIN
		TCPFlags: data[13] & 0x3F,
	}

	headerLen := int(th.DataOffset) * 4
	if headerLen < tcpHeaderMinLen || headerLen > len(data) {
		return th, nil, core.ErrLengthMismatch
	}
	return th, data[headerLen:], nil
}
