// Package arp probes whether an IPv4 address is already in use on the link.
//
// The dhcp server probes an address before offering it and the client may
// probe the address it was given before binding to it. A probe is a
// broadcast who-has request; any reply for the target address from a host
// other than the one we are probing for means the address is taken.
package arp

import (
	"encoding/binary"
	"net"
	"net/netip"
	"syscall"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/fastlog"
)

const module = "arp"

// Logger is the package logger
var Logger = fastlog.New(module)

// ARP Operation types
const (
	OperationRequest = 1
	OperationReply   = 2
)

// ARP provides access to ARP fields without copying the structure.
type ARP []byte

// Len is header + 2 * MACs + 2 IPs
const Len = 8 + 2*6 + 2*4

func (b ARP) IsValid() error {
	if len(b) < Len {
		return udhcp.ErrFrameLen
	}
	if b.HType() != 1 || b.Proto() != syscall.ETH_P_IP {
		return udhcp.ErrParseFrame
	}
	if b.HLen() != 6 || b.PLen() != 4 {
		return udhcp.ErrInvalidLen
	}
	return nil
}

func (b ARP) HType() uint16            { return binary.BigEndian.Uint16(b[0:2]) }
func (b ARP) Proto() uint16            { return binary.BigEndian.Uint16(b[2:4]) }
func (b ARP) HLen() uint8              { return b[4] }
func (b ARP) PLen() uint8              { return b[5] }
func (b ARP) Operation() uint16        { return binary.BigEndian.Uint16(b[6:8]) }
func (b ARP) SrcMAC() net.HardwareAddr { return net.HardwareAddr(b[8:14]) }
func (b ARP) SrcIP() netip.Addr        { return netip.AddrFrom4(*(*[4]byte)(b[14:18])) }
func (b ARP) DstMAC() net.HardwareAddr { return net.HardwareAddr(b[18:24]) }
func (b ARP) DstIP() netip.Addr        { return netip.AddrFrom4(*(*[4]byte)(b[24:28])) }
func (b ARP) String() string           { return fastlog.NewLine("", "").Struct(b).ToString() }

func (b ARP) FastLog(line *fastlog.Line) *fastlog.Line {
	line.Uint16("operation", b.Operation())
	line.MAC("srcMAC", b.SrcMAC())
	line.IP("srcIP", b.SrcIP())
	line.MAC("dstMAC", b.DstMAC())
	line.IP("dstIP", b.DstIP())
	return line
}

// EncodeARP writes an ethernet/ipv4 ARP frame to b.
// It returns nil if b has no room for the frame.
// see format: https://en.wikipedia.org/wiki/Address_Resolution_Protocol
func EncodeARP(b []byte, operation uint16, srcAddr udhcp.Addr, dstAddr udhcp.Addr) ARP {
	if cap(b) < Len || len(srcAddr.MAC) < 6 || len(dstAddr.MAC) < 6 {
		return nil
	}
	b = b[:Len]
	binary.BigEndian.PutUint16(b[0:2], 1)                // Hardware Type - Ethernet is 1
	binary.BigEndian.PutUint16(b[2:4], syscall.ETH_P_IP) // Protocol type - IPv4 0x0800
	b[4] = 6
	b[5] = 4
	binary.BigEndian.PutUint16(b[6:8], operation)
	copy(b[8:14], srcAddr.MAC[:6])
	copy(b[18:24], dstAddr.MAC[:6])
	src, dst := udhcp.IP4Zero.As4(), udhcp.IP4Zero.As4()
	if srcAddr.IP.Is4() {
		src = srcAddr.IP.As4()
	}
	if dstAddr.IP.Is4() {
		dst = dstAddr.IP.As4()
	}
	copy(b[14:18], src[:])
	copy(b[24:28], dst[:])
	return ARP(b)
}

// IsConflict reports whether reply shows that ip is in use by a host other
// than safeMAC. self is the hardware address that sent the probe.
func IsConflict(reply ARP, ip netip.Addr, self net.HardwareAddr, safeMAC net.HardwareAddr) bool {
	if reply.IsValid() != nil || reply.Operation() != OperationReply {
		return false
	}
	if reply.SrcIP() != ip {
		return false
	}
	if string(reply.DstMAC()) != string(self) {
		return false
	}
	if safeMAC != nil && string(reply.SrcMAC()) == string(safeMAC) {
		return false
	}
	return true
}
