package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeNameRoundTrip(t *testing.T) {
	b, err := EncodeName("www.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 'w', 'w', 'w', 7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}, b)

	off := 0
	name, err := DecodeName(b, &off)
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", name)
	assert.Equal(t, len(b), off)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "example.com", NormalizeName("Example.COM."))
	assert.Equal(t, "example.com", NormalizeName("example.com"))
}

func TestEncodeNameRejectsOversizedLabel(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	_, err := EncodeName(string(long) + ".com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeNameCompressionPointer(t *testing.T) {
	// "example.com" at offset 0, then a pointer back to it.
	msg := []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}
	msg = append(msg, 0xC0, 0x00)

	off := len(msg) - 2
	name, err := DecodeName(msg, &off)
	require.NoError(t, err)
	assert.Equal(t, "example.com", name)
}

func TestDecodeNameRejectsCompressionLoop(t *testing.T) {
	// Pointer at offset 0 that points to itself.
	msg := []byte{0xC0, 0x00}
	off := 0
	_, err := DecodeName(msg, &off)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}
