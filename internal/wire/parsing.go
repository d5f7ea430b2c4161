package wire

import (
	"fmt"
)

// ParseRequestBounded parses an incoming query with the bounds checking the
// resolver pipeline relies on: size cap, standard-query validation (not a
// response, opcode 0), and exactly one question (spec: multi-question
// support is a non-goal).
func ParseRequestBounded(msg []byte) (Packet, error) {
	if len(msg) > MaxIncomingSize {
		return Packet{}, fmt.Errorf("%w: message exceeds %d bytes", ErrMalformed, MaxIncomingSize)
	}
	p, err := ParsePacket(msg)
	if err != nil {
		return Packet{}, err
	}

	if IsResponse(p.Header.Flags) {
		return Packet{}, fmt.Errorf("%w: QR flag set on incoming query", ErrMalformed)
	}
	if op := Opcode(p.Header.Flags); op != 0 {
		return Packet{}, fmt.Errorf("%w: unsupported opcode %d", ErrMalformed, op)
	}
	if err := validateSectionCounts(p.Header); err != nil {
		return Packet{}, err
	}

	return p, nil
}

func validateSectionCounts(h Header) error {
	qd, an, ns, ar := int(h.QDCount), int(h.ANCount), int(h.NSCount), int(h.ARCount)

	if qd > MaxQuestions {
		return fmt.Errorf("%w: too many questions", ErrMalformed)
	}
	if qd != 1 {
		return fmt.Errorf("%w: unsupported question count %d (must be exactly 1)", ErrMalformed, qd)
	}
	if an > MaxRRPerSection || ns > MaxRRPerSection || ar > MaxRRPerSection {
		return fmt.Errorf("%w: too many resource records in a section", ErrMalformed)
	}
	if an+ns+ar > MaxTotalRR {
		return fmt.Errorf("%w: too many total resource records", ErrMalformed)
	}
	return nil
}

// BuildErrorResponse constructs an error response preserving the request's
// transaction id, question section, and RD flag, with the given rcode and no
// answers.
func BuildErrorResponse(req Packet, rcode RCode) Packet {
	flags := buildResponseFlags(req.Header.Flags, rcode)
	h := Header{
		ID:      req.Header.ID,
		Flags:   flags,
		QDCount: uint16(len(req.Questions)),
	}
	return Packet{Header: h, Questions: req.Questions}
}

func buildResponseFlags(reqFlags uint16, rcode RCode) uint16 {
	flags := QRFlag
	flags |= reqFlags & RDFlag
	flags = (flags &^ RCodeMask) | (uint16(rcode) & RCodeMask)
	return flags
}

// PatchTransactionID rewrites the first two bytes (the transaction id) of a
// raw wire-format message in place on a defensive copy, leaving msg
// untouched if it already carries id. The response returned to a client
// MUST echo the id of its query even when the upstream response (or a
// cached response shared across clients) carries a different one.
func PatchTransactionID(msg []byte, id uint16) []byte {
	if len(msg) < 2 {
		return msg
	}
	if msg[0] == byte(id>>8) && msg[1] == byte(id) {
		return msg
	}
	out := make([]byte, len(msg))
	copy(out, msg)
	out[0] = byte(id >> 8)
	out[1] = byte(id)
	return out
}
