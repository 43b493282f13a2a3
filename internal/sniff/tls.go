// Package sniff extracts an application-layer name from the first bytes
// of a flow's payload: a TLS ClientHello's SNI extension, an HTTP
// request's Host header, or a DNS query name. Every function here is
// pure and total over its input slice — any malformed or truncated input
// yields ok == false, never a panic or an out-of-bounds read.
package sniff

import "encoding/binary"

const (
	tlsContentTypeHandshake = 0x16
	tlsHandshakeClientHello = 0x01
	tlsExtensionSNI         = 0x0000
	tlsSNITypeHostname      = 0x00
)

// TLSClientHelloSNI returns the Server Name Indication hostname from a
// TLS ClientHello record, if payload looks like one.
func TLSClientHelloSNI(payload []byte) (name string, ok bool) {
	if !looksLikeClientHello(payload) {
		return "", false
	}

	// Record header (5) + handshake header (4).
	offset := 9
	// Client version (2) + random (32).
	offset += 34
	if offset >= len(payload) {
		return "", false
	}

	sessionIDLen := int(payload[offset])
	offset += 1 + sessionIDLen
	if offset+2 > len(payload) {
		return "", false
	}

	cipherSuitesLen := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2 + cipherSuitesLen
	if offset >= len(payload) {
		return "", false
	}

	compressionLen := int(payload[offset])
	offset += 1 + compressionLen
	if offset+2 > len(payload) {
		return "", false
	}

	extensionsLen := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2
	extensionsEnd := offset + extensionsLen
	if extensionsEnd > len(payload) {
		extensionsEnd = len(payload)
	}

	for offset+4 <= extensionsEnd {
		extType := binary.BigEndian.Uint16(payload[offset : offset+2])
		extLen := int(binary.BigEndian.Uint16(payload[offset+2 : offset+4]))
		offset += 4
		if offset+extLen > extensionsEnd {
			break
		}

		if extType == tlsExtensionSNI {
			if extLen < 5 {
				break
			}
			listLen := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
			if listLen < 3 {
				break
			}
			nameType := payload[offset+2]
			nameLen := int(binary.BigEndian.Uint16(payload[offset+3 : offset+5]))
			if nameType != tlsSNITypeHostname {
				break
			}
			if nameLen > extLen-5 || offset+5+nameLen > len(payload) {
				break
			}
			return string(payload[offset+5 : offset+5+nameLen]), true
		}

		offset += extLen
	}

	return "", false
}

func looksLikeClientHello(payload []byte) bool {
	if len(payload) < 9 {
		return false
	}
	if payload[0] != tlsContentTypeHandshake {
		return false
	}
	version := binary.BigEndian.Uint16(payload[1:3])
	if version < 0x0300 || version > 0x0304 {
		return false
	}
	recordLen := int(binary.BigEndian.Uint16(payload[3:5]))
	if recordLen > len(payload)-5 {
		return false
	}
	return payload[5] == tlsHandshakeClientHello
}
