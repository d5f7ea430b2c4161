package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Record is a DNS resource record (RFC 1035 Section 3.2, RFC 3596, RFC 2181).
//
// Data carries a type-specific payload:
//   - A/AAAA: net.IP
//   - CNAME/NS/PTR: string (target name)
//   - MX: MXData
//   - TXT: string, []string, or []byte (raw character-strings)
//   - SOA: SOAData
//   - SRV: SRVData
//   - anything else: []byte (opaque RDATA, passed through unchanged)
type Record struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  any
}

// MXData is the RDATA of an MX record (RFC 1035 Section 3.3.9).
type MXData struct {
	Preference uint16
	Exchange   string
}

// SOAData is the RDATA of an SOA record (RFC 1035 Section 3.3.13).
type SOAData struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// SRVData is the RDATA of an SRV record (RFC 2782).
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// ParseRecord parses one resource record from msg at *off, advancing *off
// past it.
func ParseRecord(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Record{}, err
	}
	if *off+10 > len(msg) {
		return Record{}, fmt.Errorf("%w: unexpected EOF reading record", ErrMalformed)
	}
	rrType := binary.BigEndian.Uint16(msg[*off : *off+2])
	rrClass := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8 : *off+10]))
	*off += 10
	start := *off
	if start+rdlen > len(msg) {
		return Record{}, fmt.Errorf("%w: unexpected EOF reading record rdata", ErrMalformed)
	}

	data, err := parseRData(msg, off, start, rdlen, RecordType(rrType))
	if err != nil {
		return Record{}, err
	}

	return Record{Name: name, Type: rrType, Class: rrClass, TTL: ttl, Data: data}, nil
}

func parseRData(msg []byte, off *int, start, rdlen int, rt RecordType) (any, error) {
	switch rt {
	case TypeA, TypeAAAA:
		if rdlen != 4 && rdlen != 16 {
			return nil, fmt.Errorf("%w: A/AAAA record must be 4 or 16 bytes, got %d", ErrMalformed, rdlen)
		}
		b := make([]byte, rdlen)
		copy(b, msg[*off:*off+rdlen])
		*off += rdlen
		return net.IP(b), nil

	case TypeCNAME, TypeNS, TypePTR:
		n, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		if *off-start != rdlen {
			return nil, fmt.Errorf("%w: name record rdata length mismatch", ErrMalformed)
		}
		return n, nil

	case TypeMX:
		if *off+2 > len(msg) {
			return nil, fmt.Errorf("%w: unexpected EOF reading MX preference", ErrMalformed)
		}
		pref := binary.BigEndian.Uint16(msg[*off : *off+2])
		*off += 2
		ex, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		if *off-start != rdlen {
			return nil, fmt.Errorf("%w: MX rdata length mismatch", ErrMalformed)
		}
		return MXData{Preference: pref, Exchange: ex}, nil

	case TypeSOA:
		mname, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		rname, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		if *off+20 > len(msg) {
			return nil, fmt.Errorf("%w: unexpected EOF reading SOA fixed fields", ErrMalformed)
		}
		soa := SOAData{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(msg[*off : *off+4]),
			Refresh: binary.BigEndian.Uint32(msg[*off+4 : *off+8]),
			Retry:   binary.BigEndian.Uint32(msg[*off+8 : *off+12]),
			Expire:  binary.BigEndian.Uint32(msg[*off+12 : *off+16]),
			Minimum: binary.BigEndian.Uint32(msg[*off+16 : *off+20]),
		}
		*off += 20
		if *off-start != rdlen {
			return nil, fmt.Errorf("%w: SOA rdata length mismatch", ErrMalformed)
		}
		return soa, nil

	case TypeSRV:
		if *off+6 > len(msg) {
			return nil, fmt.Errorf("%w: unexpected EOF reading SRV fixed fields", ErrMalformed)
		}
		srv := SRVData{
			Priority: binary.BigEndian.Uint16(msg[*off : *off+2]),
			Weight:   binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
			Port:     binary.BigEndian.Uint16(msg[*off+4 : *off+6]),
		}
		*off += 6
		target, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		srv.Target = target
		if *off-start != rdlen {
			return nil, fmt.Errorf("%w: SRV rdata length mismatch", ErrMalformed)
		}
		return srv, nil

	case TypeTXT:
		b := make([]byte, rdlen)
		copy(b, msg[*off:*off+rdlen])
		*off += rdlen
		return b, nil

	default:
		b := make([]byte, rdlen)
		copy(b, msg[*off:*off+rdlen])
		*off += rdlen
		return b, nil
	}
}

// Marshal serializes the record to wire format.
func (rr Record) Marshal() ([]byte, error) {
	nameWire, err := EncodeName(rr.Name)
	if err != nil {
		return nil, err
	}

	rdata, err := rr.marshalRData()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(nameWire)+10+len(rdata))
	out = append(out, nameWire...)
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], rr.Type)
	binary.BigEndian.PutUint16(fixed[2:4], rr.Class)
	binary.BigEndian.PutUint32(fixed[4:8], rr.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	out = append(out, fixed...)
	return append(out, rdata...), nil
}

func (rr Record) marshalRData() ([]byte, error) {
	switch RecordType(rr.Type) {
	case TypeA:
		ip, ok := rr.Data.(net.IP)
		v4 := ip.To4()
		if !ok || v4 == nil {
			return nil, fmt.Errorf("%w: A record data must be an IPv4 net.IP", ErrMalformed)
		}
		return []byte(v4), nil

	case TypeAAAA:
		ip, ok := rr.Data.(net.IP)
		v6 := ip.To16()
		if !ok || v6 == nil || ip.To4() != nil {
			return nil, fmt.Errorf("%w: AAAA record data must be an IPv6 net.IP", ErrMalformed)
		}
		return []byte(v6), nil

	case TypeMX:
		mx, ok := rr.Data.(MXData)
		if !ok {
			return nil, fmt.Errorf("%w: MX record data must be MXData", ErrMalformed)
		}
		ex, err := EncodeName(mx.Exchange)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 2+len(ex))
		binary.BigEndian.PutUint16(out[0:2], mx.Preference)
		copy(out[2:], ex)
		return out, nil

	case TypeCNAME, TypeNS, TypePTR:
		s, ok := rr.Data.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: name-based record data must be a non-empty string", ErrMalformed)
		}
		return EncodeName(s)

	case TypeSOA:
		soa, ok := rr.Data.(SOAData)
		if !ok {
			return nil, fmt.Errorf("%w: SOA record data must be SOAData", ErrMalformed)
		}
		mname, err := EncodeName(soa.MName)
		if err != nil {
			return nil, err
		}
		rname, err := EncodeName(soa.RName)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(mname)+len(rname)+20)
		out = append(out, mname...)
		out = append(out, rname...)
		fixed := make([]byte, 20)
		binary.BigEndian.PutUint32(fixed[0:4], soa.Serial)
		binary.BigEndian.PutUint32(fixed[4:8], soa.Refresh)
		binary.BigEndian.PutUint32(fixed[8:12], soa.Retry)
		binary.BigEndian.PutUint32(fixed[12:16], soa.Expire)
		binary.BigEndian.PutUint32(fixed[16:20], soa.Minimum)
		return append(out, fixed...), nil

	case TypeSRV:
		srv, ok := rr.Data.(SRVData)
		if !ok {
			return nil, fmt.Errorf("%w: SRV record data must be SRVData", ErrMalformed)
		}
		target, err := EncodeName(srv.Target)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 6, 6+len(target))
		binary.BigEndian.PutUint16(out[0:2], srv.Priority)
		binary.BigEndian.PutUint16(out[2:4], srv.Weight)
		binary.BigEndian.PutUint16(out[4:6], srv.Port)
		return append(out, target...), nil

	case TypeTXT:
		return marshalTXT(rr.Data)

	default:
		if b, ok := rr.Data.([]byte); ok {
			return b, nil
		}
		if rr.Data == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: unsupported record type for serialization: %d", ErrMalformed, rr.Type)
	}
}

func marshalTXT(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return marshalTXTString(t), nil
	case []string:
		totalLen := 0
		for _, s := range t {
			totalLen += 1 + len(s)
		}
		out := make([]byte, 0, totalLen)
		for _, s := range t {
			b := []byte(s)
			if len(b) > 255 {
				return nil, fmt.Errorf("%w: TXT character-string cannot exceed 255 bytes", ErrMalformed)
			}
			out = append(out, byte(len(b)))
			out = append(out, b...)
		}
		return out, nil
	case []byte:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: TXT record data must be string, []string, or []byte", ErrMalformed)
	}
}

func marshalTXTString(s string) []byte {
	b := []byte(s)
	if len(b) <= 255 {
		out := make([]byte, 1+len(b))
		out[0] = byte(len(b))
		copy(out[1:], b)
		return out
	}
	numChunks := (len(b) + 254) / 255
	out := make([]byte, 0, len(b)+numChunks)
	for i := 0; i < len(b); i += 255 {
		chunk := b[i:]
		if len(chunk) > 255 {
			chunk = chunk[:255]
		}
		out = append(out, byte(len(chunk)))
		out = append(out, chunk...)
	}
	return out
}

// MinimumTTL returns the minimum TTL across records, or 0 with ok=false if
// records is empty. Used by the cache engine to derive the positive-cache
// TTL for a response (spec: "min_answer_ttl").
func MinimumTTL(records []Record) (uint32, bool) {
	if len(records) == 0 {
		return 0, false
	}
	min := records[0].TTL
	for _, r := range records[1:] {
		if r.TTL < min {
			min = r.TTL
		}
	}
	return min, true
}
