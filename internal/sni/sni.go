// Package sni extracts the server_name of a TLS ClientHello carried in one TCP segment.
package sni

import (
	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake      = 22
	handshakeTypeClientHello = 1
	extensionServerName      = 0
	nameTypeHostName         = 0

	randomLen = 32
)

// Extract returns the host_name from the server_name extension of a ClientHello that
// starts at payload[0]. It returns false at the first structural inconsistency: a
// record or handshake that continues past the segment, a non-handshake record, a
// handshake that is not a ClientHello, or a hello without SNI.
func Extract(payload []byte) (string, bool) {
	s := cryptobyte.String(payload)

	var contentType uint8
	var version uint16
	var record cryptobyte.String
	if !s.ReadUint8(&contentType) || contentType != recordTypeHandshake {
		return "", false
	}
	if !s.ReadUint16(&version) || version>>8 != 3 {
		return "", false
	}
	if !s.ReadUint16LengthPrefixed(&record) {
		return "", false
	}

	var handshakeType uint8
	var hello cryptobyte.String
	if !record.ReadUint8(&handshakeType) || handshakeType != handshakeTypeClientHello {
		return "", false
	}
	if !record.ReadUint24LengthPrefixed(&hello) {
		return "", false
	}

	var sessionID, cipherSuites, compression cryptobyte.String
	if !hello.Skip(2+randomLen) ||
		!hello.ReadUint8LengthPrefixed(&sessionID) ||
		!hello.ReadUint16LengthPrefixed(&cipherSuites) ||
		!hello.ReadUint8LengthPrefixed(&compression) {
		return "", false
	}
	if hello.Empty() {
		// Pre-extension hello.
		return "", false
	}

	var extensions cryptobyte.String
	if !hello.ReadUint16LengthPrefixed(&extensions) {
		return "", false
	}
	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return "", false
		}
		if extType != extensionServerName {
			continue
		}
		return serverName(extData)
	}
	return "", false
}

func serverName(ext cryptobyte.String) (string, bool) {
	var list cryptobyte.String
	if !ext.ReadUint16LengthPrefixed(&list) {
		return "", false
	}
	for !list.Empty() {
		var nameType uint8
		var name cryptobyte.String
		if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
			return "", false
		}
		if nameType == nameTypeHostName && len(name) > 0 {
			return string(name), true
		}
	}
	return "", false
}
