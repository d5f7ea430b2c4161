package wire

import (
	"encoding/binary"
	"fmt"
)

// Question is a DNS question section entry (RFC 1035 Section 4.1.2): the
// (name, type, class) tuple a client is asking about.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Marshal serializes the question to wire format.
func (q Question) Marshal() ([]byte, error) {
	name, err := EncodeName(q.Name)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(name)+4)
	b = append(b, name...)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], q.Type)
	binary.BigEndian.PutUint16(buf[2:4], q.Class)
	return append(b, buf...), nil
}

// ParseQuestion parses a question from msg at *off, advancing *off past it.
// The name is normalized to lowercase per the case-insensitive comparison
// rule used throughout this package.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: unexpected EOF reading question", ErrMalformed)
	}
	q := Question{
		Name:  NormalizeName(name),
		Type:  binary.BigEndian.Uint16(msg[*off : *off+2]),
		Class: binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
	}
	*off += 4
	return q, nil
}

// Key returns the normalized "name:type:class" cache key for this question.
func (q Question) Key() string {
	return q.Name + ":" + itoa(int(q.Type)) + ":" + itoa(int(q.Class))
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [6]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
