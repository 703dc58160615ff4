// Package raw sends and receives dhcp payloads below the kernel ip stack.
//
// A client without an address cannot use a kernel udp socket to receive
// the server replies, so the raw listener reads IPv4 datagrams straight from
// an AF_PACKET socket and validates the ip and udp headers itself. The kernel
// listener and sender are plain udp sockets bound to the interface.
package raw

import (
	"fmt"
	"net/netip"
	"syscall"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/fastlog"
	"golang.org/x/net/bpf"
	"golang.org/x/net/ipv4"
)

const module = "raw"

// Logger is the package logger
var Logger = fastlog.New(module)

// MaxFrameLen is the read buffer size for a raw datagram.
const MaxFrameLen = 1500

// UDPFilter returns a BPF program accepting unfragmented IPv4 udp datagrams
// addressed to port. The program runs on SOCK_DGRAM sockets where the
// packet starts at the ip header.
func UDPFilter(port uint16) ([]bpf.RawInstruction, error) {
	return bpf.Assemble(udpFilter(port))
}

func udpFilter(port uint16) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 9, Size: 1}, // ip protocol
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: syscall.IPPROTO_UDP, SkipTrue: 6},
		bpf.LoadAbsolute{Off: 6, Size: 2}, // flags and fragment offset
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 4},
		bpf.LoadMemShift{Off: 0},           // x = ip header len
		bpf.LoadIndirect{Off: 2, Size: 2}, // udp dst port
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(port), SkipTrue: 1},
		bpf.RetConstant{Val: MaxFrameLen},
		bpf.RetConstant{Val: 0},
	}
}

// EncodeFrame writes an IPv4 udp datagram carrying payload into b and returns
// the encoded slice. Both the ip header checksum and the udp checksum are set.
func EncodeFrame(b []byte, payload []byte, src netip.AddrPort, dst netip.AddrPort) ([]byte, error) {
	if cap(b) < ipv4.HeaderLen+udhcp.UDPHeaderLen+len(payload) {
		return nil, udhcp.ErrPayloadTooBig
	}
	ip4 := udhcp.EncodeIP4(b[:cap(b)], udhcp.DefaultTTL, src.Addr(), dst.Addr())
	udp := udhcp.EncodeUDP(ip4[ipv4.HeaderLen:cap(ip4)], src.Port(), dst.Port())
	udp, err := udp.AppendPayload(payload)
	if err != nil {
		return nil, err
	}
	udp.SetChecksum(ip4.Src(), ip4.Dst())
	ip4, err = ip4.AppendPayload(udp, syscall.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	return ip4, nil
}

// DecodeFrame validates an IPv4 udp datagram addressed to port and returns
// its payload and source address. Any error wraps udhcp.ErrParseFrame,
// udhcp.ErrFrameLen or udhcp.ErrChecksum; callers drop such frames.
func DecodeFrame(frame []byte, port uint16) (payload []byte, src netip.AddrPort, err error) {
	ip4 := udhcp.IP4(frame)
	if err := ip4.IsValid(); err != nil {
		return nil, netip.AddrPort{}, err
	}
	if ip4.Protocol() != syscall.IPPROTO_UDP || ip4.IHL() != ipv4.HeaderLen {
		return nil, netip.AddrPort{}, fmt.Errorf("unrelated ip packet proto=%d ihl=%d: %w", ip4.Protocol(), ip4.IHL(), udhcp.ErrParseFrame)
	}
	if ip4.IsFragmented() {
		return nil, netip.AddrPort{}, fmt.Errorf("fragmented ip packet: %w", udhcp.ErrParseFrame)
	}
	if ip4.Checksum() != ip4.CalculateChecksum() {
		return nil, netip.AddrPort{}, fmt.Errorf("bad ip header checksum: %w", udhcp.ErrChecksum)
	}
	ip4 = ip4[:ip4.TotalLen()]

	udp := udhcp.UDP(ip4.Payload())
	if err := udp.IsValid(); err != nil {
		return nil, netip.AddrPort{}, err
	}
	if int(udp.Len()) != len(udp) {
		return nil, netip.AddrPort{}, fmt.Errorf("udp len=%d ip payload=%d: %w", udp.Len(), len(udp), udhcp.ErrFrameLen)
	}
	if udp.DstPort() != port {
		return nil, netip.AddrPort{}, fmt.Errorf("unrelated udp port=%d: %w", udp.DstPort(), udhcp.ErrParseFrame)
	}
	if !udp.VerifyChecksum(ip4.Src(), ip4.Dst()) {
		return nil, netip.AddrPort{}, fmt.Errorf("bad udp checksum: %w", udhcp.ErrChecksum)
	}
	return udp.Payload(), netip.AddrPortFrom(ip4.Src(), udp.SrcPort()), nil
}
