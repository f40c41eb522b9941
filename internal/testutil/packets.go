// Package testutil builds IPv4 packet fixtures for tests.
package testutil

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"golang.org/x/crypto/cryptobyte"
)

// Default endpoints of generated packets.
var (
	ClientIP = net.IPv4(10, 0, 0, 2).To4()
	ServerIP = net.IPv4(93, 184, 216, 34).To4()
)

// ClientPort is the source port of generated packets.
const ClientPort = 51000

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: proto,
		SrcIP:    ClientIP,
		DstIP:    ServerIP,
	}
}

// UDPPacket builds an IPv4/UDP packet from ClientPort to dstPort.
func UDPPacket(dstPort uint16, payload []byte) []byte {
	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: ClientPort, DstPort: layers.UDPPort(dstPort)}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return serialize(ip, udp, gopacket.Payload(payload))
}

// TCPPacket builds an IPv4/TCP PSH|ACK segment from srcPort to dstPort.
func TCPPacket(srcPort, dstPort uint16, payload []byte) []byte {
	ip := ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1000,
		Ack:     1,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(ip, tcp, gopacket.Payload(payload))
}

// IPv6UDPPacket builds an IPv6/UDP packet to port 53.
func IPv6UDPPacket(payload []byte) []byte {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("fd00::2"),
		DstIP:      net.ParseIP("2001:4860:4860::8888"),
	}
	udp := &layers.UDP{SrcPort: ClientPort, DstPort: 53}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return serialize(ip, udp, gopacket.Payload(payload))
}

// DNSQuery returns the wire form of an A query for name.
func DNSQuery(name string, id uint16) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.Id = id
	wire, err := m.Pack()
	if err != nil {
		panic(err)
	}
	return wire
}

// DNSQueryPacket builds a UDP/53 packet carrying an A query for name.
func DNSQueryPacket(name string, id uint16) []byte {
	return UDPPacket(53, DNSQuery(name, id))
}

// ClientHello builds a single-record TLS ClientHello. An empty serverName omits the
// server_name extension. A GREASE-like extension precedes it to exercise skipping.
func ClientHello(serverName string) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(22)      // handshake
	b.AddUint16(0x0301) // record version
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(1) // client_hello
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(0x0303)
			b.AddBytes(make([]byte, 32))
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddBytes(make([]byte, 32))
			})
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16(0x1301)
				b.AddUint16(0x1302)
				b.AddUint16(0xC02F)
			})
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(0)
			})
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16(0x0A0A)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {})
				if serverName != "" {
					b.AddUint16(0) // server_name
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddUint8(0) // host_name
							b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
								b.AddBytes([]byte(serverName))
							})
						})
					})
				}
				b.AddUint16(0x002B) // supported_versions
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint16(0x0304)
					})
				})
			})
		})
	})
	return b.BytesOrPanic()
}

// HTTPRequest returns a minimal HTTP/1.1 request head for host.
func HTTPRequest(host string) []byte {
	return []byte("GET / HTTP/1.1\r\nHost: " + host + "\r\nUser-Agent: test\r\nAccept: */*\r\n\r\n")
}
