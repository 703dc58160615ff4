package dhcp4

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/fastlog"
)

// Wire sizes of the fixed dhcp message.
const (
	headerLen  = 236
	cookieLen  = 4
	OptionsLen = 308
	MinLen     = headerLen + cookieLen
	MaxLen     = MinLen + OptionsLen // 548; 576 with ip and udp headers

	chaddrLen = 16
	snameLen  = 64
	fileLen   = 128
)

// MagicCookie identifies a dhcp message after the bootp header.
const MagicCookie uint32 = 0x63825363

// BroadcastFlag is the bootp broadcast bit of the flags field.
const BroadcastFlag uint16 = 0x8000

// HTypeEthernet is the only hardware type we send.
const HTypeEthernet = 1

type OpCode byte

// OpCodes
const (
	BootRequest OpCode = 1 // From Client
	BootReply   OpCode = 2 // From Server
)

type MessageType byte

// DHCP Message Type 53
const (
	Discover MessageType = 1 // Broadcast Packet From Client - Can I have an IP?
	Offer    MessageType = 2 // Broadcast From Server - Here's an IP
	Request  MessageType = 3 // Broadcast From Client - I'll take that IP (Also start for renewals)
	Decline  MessageType = 4 // Broadcast From Client - Sorry I can't use that IP
	ACK      MessageType = 5 // From Server, Yes you can have that IP
	NAK      MessageType = 6 // From Server, No you cannot have that IP
	Release  MessageType = 7 // From Client, I don't need that IP anymore
	Inform   MessageType = 8 // From Client, I have this IP and there's nothing you can do about it
)

func (m MessageType) String() string {
	switch m {
	case Discover:
		return "discover"
	case Offer:
		return "offer"
	case Request:
		return "request"
	case Decline:
		return "decline"
	case ACK:
		return "ack"
	case NAK:
		return "nak"
	case Release:
		return "release"
	case Inform:
		return "inform"
	}
	return fmt.Sprintf("unknown(%d)", byte(m))
}

// DHCP4 is a dhcp message laid over a byte slice. Accessors assume the slice
// passed IsValid or was built with New.
type DHCP4 []byte

// DHCPv4 frame format
// 0                   1                   2                   3
// 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |     op (1)    |   htype (1)   |   hlen (1)    |   hops (1)    |
// +---------------+---------------+---------------+---------------+
// |                            xid (4)                            |
// +-------------------------------+-------------------------------+
// |           secs (2)            |           flags (2)           |
// +-------------------------------+-------------------------------+
// |                          ciaddr  (4)                          |
// +---------------------------------------------------------------+
// |                          yiaddr  (4)                          |
// +---------------------------------------------------------------+
// |                          siaddr  (4)                          |
// +---------------------------------------------------------------+
// |                          giaddr  (4)                          |
// +---------------------------------------------------------------+
// |                          chaddr  (16)                         |
// +---------------------------------------------------------------+
// |                          sname   (64)                         |
// +---------------------------------------------------------------+
// |                          file    (128)                        |
// +---------------------------------------------------------------+
// |cookie(4bytes)                                                 |
// |                          options (308)                        |
// +---------------------------------------------------------------+
func (p DHCP4) OpCode() OpCode     { return OpCode(p[0]) }
func (p DHCP4) HType() byte        { return p[1] }
func (p DHCP4) HLen() byte         { return p[2] }
func (p DHCP4) Hops() byte         { return p[3] }
func (p DHCP4) XID() uint32        { return binary.BigEndian.Uint32(p[4:8]) }
func (p DHCP4) Secs() uint16       { return binary.BigEndian.Uint16(p[8:10]) }
func (p DHCP4) Flags() uint16      { return binary.BigEndian.Uint16(p[10:12]) }
func (p DHCP4) Broadcast() bool    { return p.Flags()&BroadcastFlag != 0 }
func (p DHCP4) CIAddr() netip.Addr { return netip.AddrFrom4(*(*[4]byte)(p[12:16])) }
func (p DHCP4) YIAddr() netip.Addr { return netip.AddrFrom4(*(*[4]byte)(p[16:20])) }
func (p DHCP4) SIAddr() netip.Addr { return netip.AddrFrom4(*(*[4]byte)(p[20:24])) }
func (p DHCP4) GIAddr() netip.Addr { return netip.AddrFrom4(*(*[4]byte)(p[24:28])) }
func (p DHCP4) SName() []byte      { return p[44 : 44+snameLen] } // BOOTP legacy
func (p DHCP4) File() []byte       { return p[108 : 108+fileLen] } // BOOTP legacy
func (p DHCP4) Cookie() uint32     { return binary.BigEndian.Uint32(p[236:240]) }
func (p DHCP4) Options() []byte    { return p[MinLen:] }

// CHAddr returns the hardware address using hlen, capped to the field size.
func (p DHCP4) CHAddr() net.HardwareAddr {
	n := int(p.HLen())
	if n > chaddrLen {
		n = chaddrLen
	}
	return net.HardwareAddr(p[28 : 28+n])
}

// CHAddrRaw returns the full 16 byte chaddr field.
func (p DHCP4) CHAddrRaw() []byte { return p[28 : 28+chaddrLen] }

func (p DHCP4) SetOpCode(c OpCode)      { p[0] = byte(c) }
func (p DHCP4) SetHType(hType byte)     { p[1] = hType }
func (p DHCP4) SetHops(hops byte)       { p[3] = hops }
func (p DHCP4) SetXID(xid uint32)       { binary.BigEndian.PutUint32(p[4:8], xid) }
func (p DHCP4) SetSecs(secs uint16)     { binary.BigEndian.PutUint16(p[8:10], secs) }
func (p DHCP4) SetFlags(flags uint16)   { binary.BigEndian.PutUint16(p[10:12], flags) }
func (p DHCP4) SetCIAddr(ip netip.Addr) { setIP(p[12:16], ip) }
func (p DHCP4) SetYIAddr(ip netip.Addr) { setIP(p[16:20], ip) }
func (p DHCP4) SetSIAddr(ip netip.Addr) { setIP(p[20:24], ip) }
func (p DHCP4) SetGIAddr(ip netip.Addr) { setIP(p[24:28], ip) }

func (p DHCP4) SetBroadcast(broadcast bool) {
	if broadcast {
		p.SetFlags(p.Flags() | BroadcastFlag)
		return
	}
	p.SetFlags(p.Flags() &^ BroadcastFlag)
}

func setIP(b []byte, ip netip.Addr) {
	if !ip.Is4() {
		copy(b, []byte{0, 0, 0, 0})
		return
	}
	a := ip.As4()
	copy(b, a[:])
}

// SetCHAddr copies a into chaddr and sets hlen; the rest of the field is zeroed.
func (p DHCP4) SetCHAddr(a []byte) {
	n := len(a)
	if n > chaddrLen {
		n = chaddrLen
	}
	field := p[28 : 28+chaddrLen]
	copy(field, a[:n])
	clear(field[n:])
	p[2] = byte(n)
}

// BOOTP legacy
func (p DHCP4) SetSName(sName []byte) {
	field := p[44 : 44+snameLen]
	n := copy(field[:snameLen-1], sName)
	clear(field[n:])
}

// BOOTP legacy
func (p DHCP4) SetFile(file []byte) {
	field := p[108 : 108+fileLen]
	n := copy(field[:fileLen-1], file)
	clear(field[n:])
}

// IsValid checks the fixed header and the cookie. Options are validated lazily
// by the scanner.
func (p DHCP4) IsValid() error {
	if len(p) < MinLen {
		return fmt.Errorf("dhcp len=%d: %w", len(p), udhcp.ErrFrameLen)
	}
	if p.OpCode() != BootRequest && p.OpCode() != BootReply {
		return fmt.Errorf("dhcp opcode=%d: %w", p.OpCode(), udhcp.ErrParseFrame)
	}
	if p.Cookie() != MagicCookie {
		return fmt.Errorf("dhcp cookie=%x: %w", p.Cookie(), udhcp.ErrParseFrame)
	}
	if p.HLen() > chaddrLen {
		return fmt.Errorf("dhcp hlen=%d: %w", p.HLen(), udhcp.ErrInvalidMAC)
	}
	return nil
}

func (p DHCP4) String() string {
	return fastlog.NewLine("", "").Struct(p).ToString()
}

func (p DHCP4) FastLog(line *fastlog.Line) *fastlog.Line {
	line.Uint32Hex("xid", p.XID())
	line.Uint8("opcode", uint8(p.OpCode()))
	if t := p.MessageType(); t != 0 {
		line.String("type", t.String())
	}
	line.MAC("chaddr", p.CHAddr())
	line.IP("ciaddr", p.CIAddr())
	line.IP("yiaddr", p.YIAddr())
	if p.GIAddr().IsValid() && !p.GIAddr().IsUnspecified() {
		line.IP("giaddr", p.GIAddr())
	}
	line.Bool("broadcast", p.Broadcast())
	return line
}

// New returns a zeroed MaxLen message in b with op, hardware type, cookie,
// message type option and the END tag set. b is reallocated when too small.
func New(b []byte, op OpCode, mt MessageType) DHCP4 {
	if cap(b) < MaxLen {
		b = make([]byte, MaxLen)
	}
	p := DHCP4(b[:MaxLen])
	clear(p)
	p.SetOpCode(op)
	p.SetHType(HTypeEthernet)
	p[2] = 6
	binary.BigEndian.PutUint32(p[236:240], MagicCookie)
	p.Options()[0] = byte(End)
	p.AddOption(OptionDHCPMessageType, []byte{byte(mt)})
	return p
}

// Copy returns a MaxLen copy of p; shorter messages are padded with zeros.
func Copy(p DHCP4) DHCP4 {
	n := make(DHCP4, MaxLen)
	copy(n, p)
	return n
}
