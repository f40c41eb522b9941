package decoder

import (
	"errors"
	"net/netip"
	"testing"

	"firestige.xyz/hostguard/internal/core"
)

func ipv4Header(totalLen uint16, proto uint8) []byte {
	return []byte{
		0x45,                                // Version 4, IHL 5
		0x00,                                // DSCP, ECN
		byte(totalLen >> 8), byte(totalLen), // Total Length
		0x12, 0x34, // Identification
		0x40, 0x00, // Flags (DF), Fragment Offset
		0x40,       // TTL: 64
		proto,      // Protocol
		0x00, 0x00, // Checksum
		10, 0, 0, 2, // Src IP
		8, 8, 8, 8, // Dst IP
	}
}

func TestDecodeIPv4Basic(t *testing.T) {
	data := append(ipv4Header(24, 17), 0x01, 0x02, 0x03, 0x04)

	ip, payload, err := DecodeIPv4(data)
	if err != nil {
		t.Fatalf("DecodeIPv4 failed: %v", err)
	}
	if ip.Version != 4 {
		t.Errorf("Expected version 4, got %d", ip.Version)
	}
	if ip.HeaderLen() != 20 {
		t.Errorf("Expected header length 20, got %d", ip.HeaderLen())
	}
	if ip.Protocol != 17 {
		t.Errorf("Expected protocol 17, got %d", ip.Protocol)
	}
	if ip.TTL != 64 {
		t.Errorf("Expected TTL 64, got %d", ip.TTL)
	}
	if ip.TotalLen != 24 {
		t.Errorf("Expected TotalLen 24, got %d", ip.TotalLen)
	}
	if want := netip.MustParseAddr("10.0.0.2"); ip.SrcIP != want {
		t.Errorf("Expected SrcIP %v, got %v", want, ip.SrcIP)
	}
	if want := netip.MustParseAddr("8.8.8.8"); ip.DstIP != want {
		t.Errorf("Expected DstIP %v, got %v", want, ip.DstIP)
	}
	if len(payload) != 4 {
		t.Errorf("Expected payload length 4, got %d", len(payload))
	}
}

func TestDecodeIPv4TrailingPaddingIgnored(t *testing.T) {
	data := append(ipv4Header(22, 17), 0xAA, 0xBB, 0x00, 0x00, 0x00)

	_, payload, err := DecodeIPv4(data)
	if err != nil {
		t.Fatalf("DecodeIPv4 failed: %v", err)
	}
	if len(payload) != 2 {
		t.Errorf("payload should stop at total length, got %d bytes", len(payload))
	}
}

func TestDecodeIPv4WithOptions(t *testing.T) {
	data := ipv4Header(28, 6)
	data[0] = 0x46 // IHL 6 -> 24 byte header
	data = append(data, 0x01, 0x01, 0x01, 0x00) // NOP NOP NOP EOL
	data = append(data, 0xDE, 0xAD, 0xBE, 0xEF)

	ip, payload, err := DecodeIPv4(data)
	if err != nil {
		t.Fatalf("DecodeIPv4 failed: %v", err)
	}
	if ip.HeaderLen() != 24 {
		t.Errorf("Expected header length 24, got %d", ip.HeaderLen())
	}
	if len(payload) != 4 || payload[0] != 0xDE {
		t.Errorf("Unexpected payload %x", payload)
	}
}

func TestDecodeIPv4Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{"too short", func(b []byte) []byte { return b[:19] }, core.ErrPacketTooShort},
		{"ipv6 version", func(b []byte) []byte { b[0] = 0x60; return b }, core.ErrUnsupportedProto},
		{"ihl below minimum", func(b []byte) []byte { b[0] = 0x44; return b }, core.ErrLengthMismatch},
		{"ihl beyond total length", func(b []byte) []byte { b[0] = 0x4F; return b }, core.ErrLengthMismatch},
		{"total length beyond buffer", func(b []byte) []byte { b[2], b[3] = 0x05, 0xDC; return b }, core.ErrLengthMismatch},
		{"total length below header", func(b []byte) []byte { b[2], b[3] = 0x00, 0x10; return b }, core.ErrLengthMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append(ipv4Header(24, 17), 0, 0, 0, 0))
			_, _, err := DecodeIPv4(data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeIPv4() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	if v := Version(nil); v != 0 {
		t.Errorf("Version(nil) = %d, want 0", v)
	}
	if v := Version([]byte{0x45}); v != 4 {
		t.Errorf("Version(0x45) = %d, want 4", v)
	}
	if v := Version([]byte{0x60}); v != 6 {
		t.Errorf("Version(0x60) = %d, want 6", v)
	}
}
