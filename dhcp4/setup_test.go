package dhcp4

import (
	"net"
	"net/netip"
)

var (
	ip1 = netip.AddrFrom4([4]byte{192, 168, 0, 1})
	ip2 = netip.AddrFrom4([4]byte{192, 168, 0, 2})
	ip5 = netip.AddrFrom4([4]byte{10, 0, 0, 5})

	mac1 = net.HardwareAddr{0x00, 0x02, 0x03, 0x04, 0x05, 0x01}
	mac2 = net.HardwareAddr{0x00, 0x02, 0x03, 0x04, 0x05, 0x02}
)

func bytesOf(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}
