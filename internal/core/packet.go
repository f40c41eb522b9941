// Package core defines core data structures with zero external dependencies.
package core

// DecodedPacket is the result of IPv4 + L4 decoding. All slices are views into the
// datagram read from the tunnel device and must not be retained past its loop iteration.
type DecodedPacket struct {
	IP            IPHeader
	Transport     TransportHeader
	Payload       []byte // application payload, bounded by the IP total length
	PayloadOffset int    // offset of Payload within the raw packet
}
