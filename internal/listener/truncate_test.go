package listener

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkhorn-labs/dnsward/internal/wire"
)

func buildLargeResponse(t *testing.T, nTXT int) []byte {
	t.Helper()
	answers := make([]wire.Record, nTXT)
	for i := range answers {
		answers[i] = wire.Record{
			Name: "example.com", Type: uint16(wire.TypeTXT), Class: uint16(wire.ClassIN), TTL: 60,
			Data: strings.Repeat("x", 60),
		}
	}
	p := wire.Packet{
		Header:    wire.Header{ID: 0xABCD, Flags: wire.QRFlag, QDCount: 1, ANCount: uint16(nTXT)},
		Questions: []wire.Question{{Name: "example.com", Type: uint16(wire.TypeTXT), Class: uint16(wire.ClassIN)}},
		Answers:   answers,
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func TestTruncateUDPResponseLeavesSmallResponseUntouched(t *testing.T) {
	resp := buildLargeResponse(t, 1)
	got := truncateUDPResponse(resp, maxUDPResponseSize)
	assert.Equal(t, resp, got)
}

func TestTruncateUDPResponseSetsTCAndDropsAnswers(t *testing.T) {
	resp := buildLargeResponse(t, 20)
	require.Greater(t, len(resp), maxUDPResponseSize)

	got := truncateUDPResponse(resp, maxUDPResponseSize)
	require.LessOrEqual(t, len(got), len(resp))

	parsed, err := wire.ParsePacket(got)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xABCD), parsed.Header.ID)
	assert.NotZero(t, parsed.Header.Flags&wire.TCFlag)
	assert.Empty(t, parsed.Answers)
	require.Len(t, parsed.Questions, 1)
	assert.Equal(t, "example.com", parsed.Questions[0].Name)
}
