// Package udhcp holds the pieces shared by the DHCP client and server:
// IPv4/UDP header encoding with checksums, interface discovery and the
// error values returned by the lower layers.
package udhcp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/irai/udhcp/fastlog"
)

const module = "udhcp"

// Logger is the package logger; debug lines are guarded by Logger.IsDebug().
var Logger = fastlog.New(module)

// DHCP well known ports
const (
	ServerPort = 67
	ClientPort = 68
)

var (
	IP4Broadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})
	IP4Zero      = netip.AddrFrom4([4]byte{0, 0, 0, 0})
	EthBroadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// Sentinel errors
var (
	ErrInvalidLen    = errors.New("invalid len")
	ErrPayloadTooBig = errors.New("payload too big")
	ErrParseFrame    = errors.New("failed to parse frame")
	ErrFrameLen      = errors.New("invalid frame length")
	ErrChecksum      = errors.New("invalid checksum")
	ErrInvalidConn   = errors.New("invalid connection")
	ErrInvalidIP     = errors.New("invalid ip")
	ErrInvalidMAC    = errors.New("invalid mac")
	ErrInvalidParam  = errors.New("invalid parameter")
	ErrNoIPAvailable = errors.New("no ip available")
)

var _ net.Addr = &Addr{}

// Addr is a network address which can be used to contact other machines, using
// their hardware addresses.
type Addr struct {
	MAC  net.HardwareAddr
	IP   netip.Addr
	Port uint16
}

func (a Addr) String() string {
	if a.Port == 0 {
		return fmt.Sprintf("mac=%s ip=%s", a.MAC, a.IP)
	}
	return fmt.Sprintf("mac=%s ip=%s port=%d", a.MAC, a.IP, a.Port)
}

// Network returns the address's network name, "raw".
func (a Addr) Network() string {
	return "raw"
}

// CopyMAC simply copies a mac address to a new buffer with the same len
func CopyMAC(srcMAC net.HardwareAddr) net.HardwareAddr {
	mac := make(net.HardwareAddr, len(srcMAC))
	copy(mac, srcMAC)
	return mac
}

// CopyBytes returns a copy of b.
func CopyBytes(b []byte) []byte {
	bb := make([]byte, len(b))
	copy(bb, b)
	return bb
}
