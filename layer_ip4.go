package udhcp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"syscall"

	"github.com/irai/udhcp/fastlog"
	"golang.org/x/net/ipv4"
)

// DefaultTTL is the ttl used for hand built IPv4 headers.
const DefaultTTL = 64

// IP4 provide access to IP fields without copying data.
// see: ipv4.ParseHeader in https://raw.githubusercontent.com/golang/net/master/ipv4/header.go
type IP4 []byte

func (p IP4) IHL() int           { return int(p[0]&0x0f) << 2 } // IP header length
func (p IP4) Version() int       { return int(p[0] >> 4) }
func (p IP4) Protocol() uint8    { return p[9] }
func (p IP4) TOS() int           { return int(p[1]) }
func (p IP4) ID() int            { return int(binary.BigEndian.Uint16(p[4:6])) }
func (p IP4) Flags() uint8       { return uint8(p[6]) & 0b11100000 } // first 3 bits
func (p IP4) TTL() int           { return int(p[8]) }
func (p IP4) Checksum() uint16   { return binary.BigEndian.Uint16(p[10:12]) }
func (p IP4) Src() netip.Addr    { return netip.AddrFrom4(*(*[4]byte)(p[12:16])) }
func (p IP4) Dst() netip.Addr    { return netip.AddrFrom4(*(*[4]byte)(p[16:20])) }
func (p IP4) TotalLen() int      { return int(binary.BigEndian.Uint16(p[2:4])) } // total packet size including header and payload
func (p IP4) Payload() []byte    { return p[p.IHL():p.TotalLen()] }
func (p IP4) String() string     { return fastlog.NewLine("", "").Struct(p).ToString() }
func (p IP4) IsFragmented() bool { return binary.BigEndian.Uint16(p[6:8])&0x3fff != 0 }

// IsValid checks the header lengths only; use CalculateChecksum to verify the header.
func (p IP4) IsValid() error {
	n := len(p)
	if n < ipv4.HeaderLen || n < p.IHL() || p.IHL() < ipv4.HeaderLen {
		return fmt.Errorf("ipv4 header too short len=%d: %w", n, ErrFrameLen)
	}
	if p.Version() != ipv4.Version {
		return fmt.Errorf("ipv4 invalid version=%d: %w", p.Version(), ErrParseFrame)
	}
	if n < p.TotalLen() || p.TotalLen() < p.IHL() {
		return fmt.Errorf("ipv4 len=%d not equal header totallen=%d: %w", n, p.TotalLen(), ErrFrameLen)
	}
	return nil
}

// FastLog implements fastlog interface
func (p IP4) FastLog(line *fastlog.Line) *fastlog.Line {
	line.Int("version", p.Version())
	line.IP("src", p.Src())
	line.IP("dst", p.Dst())
	line.Uint8("proto", p.Protocol())
	line.Int("ttl", p.TTL())
	line.Int("totallen", p.TotalLen())
	return line
}

// EncodeIP4 writes an IPv4 header without options and an empty payload to p.
func EncodeIP4(p []byte, ttl byte, src netip.Addr, dst netip.Addr) IP4 {
	if cap(p) < ipv4.HeaderLen {
		return nil
	}
	p = p[:ipv4.HeaderLen]
	if !src.Is4() {
		src = IP4Zero
	}
	if !dst.Is4() {
		dst = IP4Zero
	}
	p[0] = byte(ipv4.Version<<4 | (ipv4.HeaderLen >> 2 & 0x0f))
	p[1] = 0 // tos
	binary.BigEndian.PutUint16(p[2:4], ipv4.HeaderLen)
	binary.BigEndian.PutUint16(p[4:6], 0) // id
	binary.BigEndian.PutUint16(p[6:8], 0) // flags and fragment offset
	p[8] = ttl
	p[9] = 0                              // protocol set by AppendPayload
	binary.BigEndian.PutUint16(p[10:12], 0) // checksum
	s, d := src.As4(), dst.As4()
	copy(p[12:16], s[:])
	copy(p[16:20], d[:])
	return IP4(p)
}

// AppendPayload copies b after the header, sets the protocol and total length
// and fills in the header checksum.
func (p IP4) AppendPayload(b []byte, protocol byte) (IP4, error) {
	if cap(p)-len(p) < len(b) {
		return nil, ErrPayloadTooBig
	}
	hl := p.IHL()
	p = p[:hl+len(b)]
	copy(p[hl:], b)
	p[9] = protocol
	binary.BigEndian.PutUint16(p[2:4], uint16(hl+len(b)))
	binary.BigEndian.PutUint16(p[10:12], p.CalculateChecksum())
	return p, nil
}

// CalculateChecksum returns the header checksum computed with the checksum field zeroed.
func (p IP4) CalculateChecksum() uint16 {
	var psh [60]byte
	hl := p.IHL()
	copy(psh[:hl], p[:hl])
	psh[10], psh[11] = 0, 0
	return Checksum(psh[:hl])
}

// Checksum is the one's complement of the one's complement sum of b taken
// as big endian 16 bit words; an odd trailing byte is padded with zero.
func Checksum(b []byte) uint16 {
	return ^fold(sum(0, b))
}

func sum(s uint32, b []byte) uint32 {
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		s += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)&1 == 1 {
		s += uint32(b[len(b)-1]) << 8
	}
	return s
}

func fold(s uint32) uint16 {
	for s>>16 != 0 {
		s = s&0xffff + s>>16
	}
	return uint16(s)
}

const UDPHeaderLen = 8

// UDP provides decoding and encoding of udp frames
type UDP []byte

func (p UDP) String() string {
	return fastlog.NewLine("", "").Struct(p).ToString()
}

// FastLog implements fastlog interface
func (p UDP) FastLog(line *fastlog.Line) *fastlog.Line {
	line.Uint16("srcport", p.SrcPort())
	line.Uint16("dstport", p.DstPort())
	line.Int("len", int(p.Len()))
	return line
}

func (p UDP) SrcPort() uint16  { return binary.BigEndian.Uint16(p[0:2]) }
func (p UDP) DstPort() uint16  { return binary.BigEndian.Uint16(p[2:4]) }
func (p UDP) Len() uint16      { return binary.BigEndian.Uint16(p[4:6]) }
func (p UDP) Checksum() uint16 { return binary.BigEndian.Uint16(p[6:8]) }
func (p UDP) Payload() []byte  { return p[UDPHeaderLen:p.Len()] }

func (p UDP) IsValid() error {
	if len(p) < UDPHeaderLen {
		return fmt.Errorf("invalid udp len=%d: %w", len(p), ErrFrameLen)
	}
	if int(p.Len()) < UDPHeaderLen || int(p.Len()) > len(p) {
		return fmt.Errorf("invalid udp header len=%d frame=%d: %w", p.Len(), len(p), ErrFrameLen)
	}
	return nil
}

func EncodeUDP(p []byte, srcPort uint16, dstPort uint16) UDP {
	if cap(p) < UDPHeaderLen {
		return nil
	}
	p = p[:UDPHeaderLen] // change slice in case slice is less than header
	binary.BigEndian.PutUint16(p[0:2], srcPort)
	binary.BigEndian.PutUint16(p[2:4], dstPort)
	binary.BigEndian.PutUint16(p[4:6], UDPHeaderLen)
	binary.BigEndian.PutUint16(p[6:8], 0)
	return UDP(p)
}

func (p UDP) AppendPayload(b []byte) (UDP, error) {
	if cap(p)-len(p) < len(b) {
		return nil, ErrPayloadTooBig
	}
	p = p[:UDPHeaderLen+len(b)]
	copy(p[UDPHeaderLen:], b)
	binary.BigEndian.PutUint16(p[4:6], UDPHeaderLen+uint16(len(b)))
	return p, nil
}

// CalculateChecksum returns the udp checksum over the IPv4 pseudo header,
// the udp header with the checksum field zeroed and the payload.
// A computed zero is returned as 0xffff.
func (p UDP) CalculateChecksum(src netip.Addr, dst netip.Addr) uint16 {
	var psh [12]byte
	s, d := src.As4(), dst.As4()
	copy(psh[0:4], s[:])
	copy(psh[4:8], d[:])
	psh[9] = syscall.IPPROTO_UDP
	binary.BigEndian.PutUint16(psh[10:12], p.Len())

	acc := sum(0, psh[:])
	acc = sum(acc, p[0:6]) // skip checksum field
	acc = sum(acc, p[UDPHeaderLen:p.Len()])
	cs := ^fold(acc)
	if cs == 0 {
		return 0xffff
	}
	return cs
}

// SetChecksum fills in the udp checksum for the given pseudo header addresses.
func (p UDP) SetChecksum(src netip.Addr, dst netip.Addr) {
	binary.BigEndian.PutUint16(p[6:8], p.CalculateChecksum(src, dst))
}

// VerifyChecksum reports whether the udp checksum is valid; a zero checksum means
// the sender did not compute one.
func (p UDP) VerifyChecksum(src netip.Addr, dst netip.Addr) bool {
	if p.Checksum() == 0 {
		return true
	}
	return p.Checksum() == p.CalculateChecksum(src, dst)
}
