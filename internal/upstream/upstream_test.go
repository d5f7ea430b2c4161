package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoHProviderResolveReturnsBody(t *testing.T) {
	want := []byte{0x00, 0x01, 0x81, 0x80, 0, 0, 0, 0, 0, 0, 0, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, dnsMessageContentType, r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", dnsMessageContentType)
		w.Write(want)
	}))
	defer srv.Close()

	p := NewDoHProvider("test", srv.URL, time.Second)
	got, err := p.Resolve(context.Background(), []byte{0x00, 0x01, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "test", p.Name())
}

func TestDoHProviderNonOKStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewDoHProvider("test", srv.URL, time.Second)
	_, err := p.Resolve(context.Background(), []byte{0x00, 0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestDoHProviderEmptyBodyIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewDoHProvider("test", srv.URL, time.Second)
	_, err := p.Resolve(context.Background(), []byte{0x00, 0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestNewNextDNSRequiresConfigID(t *testing.T) {
	_, err := NewNextDNS("", time.Second)
	assert.Error(t, err)

	p, err := NewNextDNS("abc123", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "nextdns", p.Name())
}
