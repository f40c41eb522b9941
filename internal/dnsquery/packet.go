package dnsquery

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/hostguard/internal/core"
)

const replyTTL = 64

// BuildReplyPacket wraps a DNS message in an IPv4/UDP packet addressed back to the sender
// of the query described by ip and udp. Lengths and checksums are computed.
func BuildReplyPacket(ip core.IPHeader, udp core.TransportHeader, msg []byte) ([]byte, error) {
	ipLayer := &layers.IPv4{
		Version:  4,
		TTL:      replyTTL,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(ip.DstIP.AsSlice()),
		DstIP:    net.IP(ip.SrcIP.AsSlice()),
	}
	udpLayer := &layers.UDP{
		SrcPort: layers.UDPPort(udp.DstPort),
		DstPort: layers.UDPPort(udp.SrcPort),
	}
	if err := udpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
		return nil, fmt.Errorf("set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ipLayer, udpLayer, gopacket.Payload(msg)); err != nil {
		return nil, fmt.Errorf("serialize dns reply packet: %w", err)
	}
	return buf.Bytes(), nil
}
