package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildQuery(t *testing.T, id uint16, qdcount int) []byte {
	t.Helper()
	p := Packet{Header: Header{ID: id, Flags: RDFlag, QDCount: uint16(qdcount)}}
	for range qdcount {
		p.Questions = append(p.Questions, Question{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)})
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func TestParseRequestBoundedAcceptsSingleQuestion(t *testing.T) {
	b := buildQuery(t, 0x1234, 1)
	p, err := ParseRequestBounded(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), p.Header.ID)
}

func TestParseRequestBoundedRejectsMultiQuestion(t *testing.T) {
	b := buildQuery(t, 0x1234, 2)
	_, err := ParseRequestBounded(b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRequestBoundedRejectsResponse(t *testing.T) {
	p := Packet{Header: Header{ID: 1, Flags: QRFlag, QDCount: 1}, Questions: []Question{{Name: "a.com", Type: 1, Class: 1}}}
	b, err := p.Marshal()
	require.NoError(t, err)
	_, err = ParseRequestBounded(b)
	require.Error(t, err)
}

func TestBuildErrorResponsePreservesIDAndRD(t *testing.T) {
	req := Packet{
		Header:    Header{ID: 0xABCD, Flags: RDFlag, QDCount: 1},
		Questions: []Question{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}},
	}
	resp := BuildErrorResponse(req, RCodeFormErr)
	assert.Equal(t, uint16(0xABCD), resp.Header.ID)
	assert.True(t, IsResponse(resp.Header.Flags))
	assert.NotZero(t, resp.Header.Flags&RDFlag)
	assert.Equal(t, RCodeFormErr, RCodeFromFlags(resp.Header.Flags))
}

func TestPatchTransactionID(t *testing.T) {
	msg := []byte{0x00, 0x01, 0x80, 0x00}
	out := PatchTransactionID(msg, 0x1234)
	assert.Equal(t, byte(0x12), out[0])
	assert.Equal(t, byte(0x34), out[1])
	// Original untouched.
	assert.Equal(t, byte(0x00), msg[0])

	same := PatchTransactionID(msg, 0x0001)
	assert.True(t, &same[0] == &msg[0] || same[0] == msg[0])
}
