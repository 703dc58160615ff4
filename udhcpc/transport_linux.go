//go:build linux

package udhcpc

import (
	"net"
	"net/netip"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/raw"
)

// LinkTransport sends and receives on a real interface.
type LinkTransport struct {
	NIC udhcp.NICInfo
}

// Listen opens the socket for mode.
func (t LinkTransport) Listen(mode ListenMode) (Listener, error) {
	switch mode {
	case ListenRaw:
		l, err := raw.ListenRaw(t.NIC, udhcp.ClientPort)
		if err != nil {
			return nil, err
		}
		return l, nil
	case ListenKernel:
		l, err := raw.ListenKernel(t.NIC.Name, udhcp.ClientPort)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, udhcp.ErrInvalidParam
}

// SendRaw sends p from the packet socket.
func (t LinkTransport) SendRaw(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort, dstMAC net.HardwareAddr) error {
	return raw.SendRaw(t.NIC, p, src, dst, dstMAC)
}

// SendKernel sends p through the kernel udp stack.
func (t LinkTransport) SendKernel(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort) error {
	return raw.SendKernel(t.NIC.Name, p, src, dst)
}
