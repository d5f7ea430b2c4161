package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/elkhorn-labs/dnsward/internal/wire"
)

// defaultSystemTTL is applied to every answer the system provider
// synthesizes, since net.Resolver does not expose the record TTLs the host
// resolver actually saw.
const defaultSystemTTL = 60

// SystemProvider answers queries using the host's own resolver
// (/etc/resolv.conf, nsswitch, etc.) via net.Resolver, for query types Go's
// standard library can serve natively. It never touches the network
// directly; all upstream connectivity is whatever the OS resolver already
// uses.
type SystemProvider struct {
	resolver *net.Resolver
}

// NewSystemProvider builds a provider over the default net.Resolver.
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{resolver: net.DefaultResolver}
}

func (p *SystemProvider) Name() string { return "system" }

// Resolve parses the single question in queryBytes, dispatches to the
// matching net.Resolver method, and re-encodes a wire-format response
// carrying either the answers found or an appropriate rcode.
func (p *SystemProvider) Resolve(ctx context.Context, queryBytes []byte) ([]byte, error) {
	req, err := wire.ParseRequestBounded(queryBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	q := req.Questions[0]
	name := strings.TrimSuffix(q.Name, ".")

	answers, rcode, err := p.lookup(ctx, name, wire.RecordType(q.Type))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp := wire.Packet{
		Header:    wire.Header{ID: req.Header.ID, Flags: wire.QRFlag | wire.RDFlag | wire.RAFlag | uint16(rcode), QDCount: 1},
		Questions: req.Questions,
		Answers:   answers,
	}
	out, err := resp.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return out, nil
}

func (p *SystemProvider) lookup(ctx context.Context, name string, qtype wire.RecordType) ([]wire.Record, wire.RCode, error) {
	switch qtype {
	case wire.TypeA, wire.TypeAAAA:
		return p.lookupAddr(ctx, name, qtype)
	case wire.TypeMX:
		return p.lookupMX(ctx, name)
	case wire.TypeTXT:
		return p.lookupTXT(ctx, name)
	case wire.TypeCNAME:
		return p.lookupCNAME(ctx, name)
	case wire.TypeNS:
		return p.lookupNS(ctx, name)
	case wire.TypePTR:
		return p.lookupPTR(ctx, name)
	default:
		return nil, wire.RCodeNotImp, nil
	}
}

func (p *SystemProvider) lookupAddr(ctx context.Context, name string, qtype wire.RecordType) ([]wire.Record, wire.RCode, error) {
	ips, err := p.resolver.LookupIP(ctx, ipNetwork(qtype), name)
	if isNotFound(err) {
		return nil, wire.RCodeNXDomain, nil
	}
	if err != nil {
		return nil, wire.RCodeServFail, err
	}
	var out []wire.Record
	for _, ip := range ips {
		out = append(out, wire.Record{Name: name, Type: uint16(qtype), Class: uint16(wire.ClassIN), TTL: defaultSystemTTL, Data: ip})
	}
	if len(out) == 0 {
		return nil, wire.RCodeNoError, nil
	}
	return out, wire.RCodeNoError, nil
}

func ipNetwork(qtype wire.RecordType) string {
	if qtype == wire.TypeAAAA {
		return "ip6"
	}
	return "ip4"
}

func (p *SystemProvider) lookupMX(ctx context.Context, name string) ([]wire.Record, wire.RCode, error) {
	records, err := p.resolver.LookupMX(ctx, name)
	if isNotFound(err) {
		return nil, wire.RCodeNXDomain, nil
	}
	if err != nil {
		return nil, wire.RCodeServFail, err
	}
	out := make([]wire.Record, 0, len(records))
	for _, r := range records {
		out = append(out, wire.Record{
			Name: name, Type: uint16(wire.TypeMX), Class: uint16(wire.ClassIN), TTL: defaultSystemTTL,
			Data: wire.MXData{Preference: r.Pref, Exchange: r.Host},
		})
	}
	return out, wire.RCodeNoError, nil
}

func (p *SystemProvider) lookupTXT(ctx context.Context, name string) ([]wire.Record, wire.RCode, error) {
	records, err := p.resolver.LookupTXT(ctx, name)
	if isNotFound(err) {
		return nil, wire.RCodeNXDomain, nil
	}
	if err != nil {
		return nil, wire.RCodeServFail, err
	}
	out := make([]wire.Record, 0, len(records))
	for _, txt := range records {
		out = append(out, wire.Record{Name: name, Type: uint16(wire.TypeTXT), Class: uint16(wire.ClassIN), TTL: defaultSystemTTL, Data: txt})
	}
	return out, wire.RCodeNoError, nil
}

func (p *SystemProvider) lookupCNAME(ctx context.Context, name string) ([]wire.Record, wire.RCode, error) {
	cname, err := p.resolver.LookupCNAME(ctx, name)
	if isNotFound(err) {
		return nil, wire.RCodeNXDomain, nil
	}
	if err != nil {
		return nil, wire.RCodeServFail, err
	}
	return []wire.Record{{Name: name, Type: uint16(wire.TypeCNAME), Class: uint16(wire.ClassIN), TTL: defaultSystemTTL, Data: cname}}, wire.RCodeNoError, nil
}

func (p *SystemProvider) lookupNS(ctx context.Context, name string) ([]wire.Record, wire.RCode, error) {
	records, err := p.resolver.LookupNS(ctx, name)
	if isNotFound(err) {
		return nil, wire.RCodeNXDomain, nil
	}
	if err != nil {
		return nil, wire.RCodeServFail, err
	}
	out := make([]wire.Record, 0, len(records))
	for _, ns := range records {
		out = append(out, wire.Record{Name: name, Type: uint16(wire.TypeNS), Class: uint16(wire.ClassIN), TTL: defaultSystemTTL, Data: ns.Host})
	}
	return out, wire.RCodeNoError, nil
}

func (p *SystemProvider) lookupPTR(ctx context.Context, name string) ([]wire.Record, wire.RCode, error) {
	names, err := p.resolver.LookupAddr(ctx, strings.TrimSuffix(name, ".in-addr.arpa"))
	if isNotFound(err) {
		return nil, wire.RCodeNXDomain, nil
	}
	if err != nil {
		return nil, wire.RCodeServFail, err
	}
	out := make([]wire.Record, 0, len(names))
	for _, n := range names {
		out = append(out, wire.Record{Name: name, Type: uint16(wire.TypePTR), Class: uint16(wire.ClassIN), TTL: defaultSystemTTL, Data: n})
	}
	return out, wire.RCodeNoError, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}
