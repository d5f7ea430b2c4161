// Package wire implements the DNS binary wire protocol: header, question,
// and resource record encoding/decoding (RFC 1035, RFC 2308, RFC 3596).
//
// Standards Compliance:
//
//   - RFC 1035: Domain Names - Implementation and Specification
//   - RFC 1034: Domain Names - Concepts and Facilities
//   - RFC 2308: Negative Caching of DNS Queries
//   - RFC 3596: DNS Extensions to Support IPv6 (AAAA records)
//
// Each DNS record type is represented by an explicit payload type (net.IP,
// string, MXData, SOAData, SRVData, []string) carried in Record.Data, rather
// than a separate struct per type. Errors are wrapped with
// fmt.Errorf("context: %w", ErrMalformed) to preserve error chains while
// adding operational context.
package wire

import "errors"

// ErrMalformed is the sentinel for any wire-format violation. The resolver
// pipeline treats every error wrapping ErrMalformed as a MalformedPacket
// condition and responds FORMERR.
var ErrMalformed = errors.New("dns wire: malformed packet")
