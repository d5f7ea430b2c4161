package listener

import (
	"encoding/binary"

	"github.com/elkhorn-labs/dnsward/internal/wire"
)

// maxUDPResponseSize is the fixed ceiling applied to every outgoing UDP
// response. EDNS OPT records (and thus a client's advertised buffer size)
// are out of scope for this packet model, so truncation always targets the
// traditional RFC 1035 UDP limit rather than a per-request negotiated size.
const maxUDPResponseSize = 512

// truncateUDPResponse truncates a response to fit within maxSize, setting
// the TC flag and discarding every section but the question when it
// doesn't. The client is expected to retry over TCP on seeing TC.
func truncateUDPResponse(respBytes []byte, maxSize int) []byte {
	if maxSize <= 0 {
		maxSize = maxUDPResponseSize
	}
	if len(respBytes) <= maxSize {
		return respBytes
	}
	if len(respBytes) < wire.HeaderSize {
		return respBytes
	}

	qdcount := binary.BigEndian.Uint16(respBytes[4:6])
	header := buildTruncatedHeader(respBytes, qdcount)

	if qdcount == 0 {
		return header
	}

	questionEnd := findQuestionSectionEnd(respBytes, int(qdcount))
	if questionEnd <= wire.HeaderSize || questionEnd > maxSize {
		return header
	}

	out := make([]byte, 0, questionEnd)
	out = append(out, header...)
	out = append(out, respBytes[wire.HeaderSize:questionEnd]...)
	return out
}

func buildTruncatedHeader(respBytes []byte, qdcount uint16) []byte {
	flags := binary.BigEndian.Uint16(respBytes[2:4]) | wire.TCFlag

	h := make([]byte, wire.HeaderSize)
	copy(h[0:2], respBytes[0:2])
	binary.BigEndian.PutUint16(h[2:4], flags)
	binary.BigEndian.PutUint16(h[4:6], qdcount)
	binary.BigEndian.PutUint16(h[6:8], 0)
	binary.BigEndian.PutUint16(h[8:10], 0)
	binary.BigEndian.PutUint16(h[10:12], 0)
	return h
}

func findQuestionSectionEnd(msg []byte, qdcount int) int {
	pos := wire.HeaderSize

	for range qdcount {
		pos = skipQNAME(msg, pos)
		if pos > len(msg) || pos+4 > len(msg) {
			return len(msg)
		}
		pos += 4
	}
	return pos
}

// skipQNAME advances past a wire-format name (labels or a compression
// pointer) without decoding it.
func skipQNAME(msg []byte, pos int) int {
	for pos < len(msg) {
		labelLen := msg[pos]
		if labelLen == 0 {
			return pos + 1
		}
		if labelLen >= 0xC0 {
			if pos+2 > len(msg) {
				return len(msg)
			}
			return pos + 2
		}
		pos++
		if pos+int(labelLen) > len(msg) {
			return len(msg)
		}
		pos += int(labelLen)
	}
	return pos
}
