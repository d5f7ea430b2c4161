// Command dnsward-query issues a single DNS query over UDP and prints the
// decoded response, for manually exercising a running dnswardd instance.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/elkhorn-labs/dnsward/internal/wire"
)

func main() {
	var (
		server   = flag.String("server", "127.0.0.1:1053", "DNS server HOST:PORT")
		name     = flag.String("name", "example.com", "Query name")
		qtype    = flag.Int("qtype", int(wire.TypeA), "Query type (numeric, A=1)")
		timeout  = flag.Duration("timeout", 2*time.Second, "Timeout")
		recvSize = flag.Int("recv-size", 2048, "UDP receive buffer size")
		quiet    = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	resp, err := queryUDP(*server, *name, uint16(*qtype), *timeout, *recvSize)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "dnsward-query error: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		return
	}

	p, err := wire.ParsePacket(resp)
	if err != nil {
		fmt.Printf("received %d bytes (unparseable)\n", len(resp))
		return
	}

	fmt.Printf("id=%d rcode=%d answers=%d authorities=%d additionals=%d\n",
		p.Header.ID,
		wire.RCodeFromFlags(p.Header.Flags),
		len(p.Answers),
		len(p.Authorities),
		len(p.Additionals),
	)

	rows := make([]string, 0, len(p.Answers))
	for _, rr := range p.Answers {
		rows = append(rows, formatRR(rr))
	}
	sort.Strings(rows)
	for _, s := range rows {
		fmt.Println(s)
	}
}

func queryUDP(server, name string, qtype uint16, timeout time.Duration, recvSize int) ([]byte, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	reqBytes, err := buildQuery(name, qtype)
	if err != nil {
		return nil, err
	}
	_ = c.SetDeadline(time.Now().Add(timeout))
	if _, err := c.Write(reqBytes); err != nil {
		return nil, err
	}
	buf := make([]byte, recvSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func buildQuery(name string, qtype uint16) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name required")
	}
	flags := wire.RDFlag
	p := wire.Packet{
		Header:    wire.Header{ID: uint16(time.Now().UnixNano()), Flags: flags},
		Questions: []wire.Question{{Name: strings.TrimSuffix(name, "."), Type: qtype, Class: uint16(wire.ClassIN)}},
	}
	b, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	id := binary.BigEndian.Uint16(b[0:2])
	if id == 0 {
		binary.BigEndian.PutUint16(b[0:2], 0x1234)
	}
	return b, nil
}

func formatRR(rr wire.Record) string {
	name := rr.Name
	if name == "" {
		name = "."
	}
	switch wire.RecordType(rr.Type) {
	case wire.TypeA, wire.TypeAAAA:
		if ip, ok := rr.Data.(net.IP); ok {
			kind := "A"
			if wire.RecordType(rr.Type) == wire.TypeAAAA {
				kind = "AAAA"
			}
			return fmt.Sprintf("%s %d IN %s %s", name, rr.TTL, kind, ip.String())
		}
	case wire.TypeCNAME, wire.TypeNS, wire.TypePTR:
		if s, ok := rr.Data.(string); ok {
			return fmt.Sprintf("%s %d IN %s %s", name, rr.TTL, rrTypeName(wire.RecordType(rr.Type)), s)
		}
	case wire.TypeMX:
		if mx, ok := rr.Data.(wire.MXData); ok {
			return fmt.Sprintf("%s %d IN MX %d %s", name, rr.TTL, mx.Preference, mx.Exchange)
		}
	}
	return fmt.Sprintf("%s %d IN TYPE%d (unparsed)", name, rr.TTL, rr.Type)
}

func rrTypeName(t wire.RecordType) string {
	switch t {
	case wire.TypeCNAME:
		return "CNAME"
	case wire.TypeNS:
		return "NS"
	case wire.TypePTR:
		return "PTR"
	default:
		return fmt.Sprintf("TYPE%d", t)
	}
}
