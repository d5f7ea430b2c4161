// Package upstream implements the DNS-over-HTTPS and host-resolver
// providers the selector (internal/selector) dispatches cache-miss queries
// to.
//
// Each provider exposes resolve(queryBytes) -> responseBytes plus a stable
// Name, and must never mutate process-wide state beyond a rate-limit or
// back-off counter it owns. Errors are returned wrapping ErrTransport or
// ErrParse so callers can distinguish transport failure from a malformed
// upstream body (spec §7's error taxonomy), rather than a bare error
// string, following this module's use of sentinel/wrapped errors elsewhere
// (internal/wire.ErrMalformed, internal/store.ErrNotFound).
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elkhorn-labs/dnsward/internal/wire"
)

// Provider resolves a wire-format DNS query against one upstream and
// returns the wire-format response.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, queryBytes []byte) ([]byte, error)
}

// ErrTransport wraps a network/HTTP-layer failure reaching the upstream.
var ErrTransport = errors.New("upstream: transport error")

// ErrParse wraps a failure to parse or validate the upstream's response
// body.
var ErrParse = errors.New("upstream: response parse error")

// DefaultQueryTimeout is the per-query timeout applied when the caller's
// context carries no earlier deadline.
const DefaultQueryTimeout = 5 * time.Second

const dnsMessageContentType = "application/dns-message"

// DoHProvider queries a DNS-over-HTTPS endpoint via POST, reusing one
// pooled *http.Client across calls the way the teacher's forwarding
// resolver reuses pooled UDP connections per upstream.
type DoHProvider struct {
	name   string
	url    string
	client *http.Client
}

// NewDoHProvider builds a provider against a RFC 8484 message endpoint. The
// client's transport is tuned for connection reuse to the single upstream
// host this provider ever talks to.
func NewDoHProvider(name, url string, timeout time.Duration) *DoHProvider {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &DoHProvider{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (p *DoHProvider) Name() string { return p.name }

// Resolve POSTs queryBytes as application/dns-message and returns the raw
// response body once it has parsed as a DNS message.
func (p *DoHProvider) Resolve(ctx context.Context, queryBytes []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(queryBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", dnsMessageContentType)
	req.Header.Set("Accept", dnsMessageContentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrTransport, resp.StatusCode, p.name)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrParse, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response body from %s", ErrParse, p.name)
	}
	if _, err := wire.ParsePacket(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return body, nil
}

// NewCloudflare builds the Cloudflare DoH provider (1.1.1.1).
func NewCloudflare(timeout time.Duration) *DoHProvider {
	return NewDoHProvider("cloudflare", "https://cloudflare-dns.com/dns-query", timeout)
}

// NewGoogle builds the Google DoH provider (8.8.8.8).
func NewGoogle(timeout time.Duration) *DoHProvider {
	return NewDoHProvider("google", "https://dns.google/dns-query", timeout)
}

// NewOpenDNS builds the OpenDNS DoH provider.
func NewOpenDNS(timeout time.Duration) *DoHProvider {
	return NewDoHProvider("opendns", "https://doh.opendns.com/dns-query", timeout)
}

// NewNextDNS builds the NextDNS DoH provider. NextDNS namespaces each
// customer's resolver under a config id path segment; construction fails
// without one since there is no sensible default to fall back to.
func NewNextDNS(configID string, timeout time.Duration) (*DoHProvider, error) {
	if configID == "" {
		return nil, fmt.Errorf("upstream: nextdns provider requires a non-empty config id")
	}
	url := fmt.Sprintf("https://dns.nextdns.io/%s", configID)
	return NewDoHProvider("nextdns", url, timeout), nil
}
