//go:build linux

package udhcpd

import (
	"net"
	"net/netip"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/raw"
)

// LinkTransport serves on a real interface: requests arrive on a udp socket
// bound to the device, replies to clients leave from a packet socket.
type LinkTransport struct {
	NIC udhcp.NICInfo
}

// Listen opens the server port on the interface.
func (t LinkTransport) Listen() (Listener, error) {
	l, err := raw.ListenKernel(t.NIC.Name, udhcp.ServerPort)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// SendRaw sends p to a client that may not have an address yet.
func (t LinkTransport) SendRaw(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort, dstMAC net.HardwareAddr) error {
	return raw.SendRaw(t.NIC, p, src, dst, dstMAC)
}

// SendKernel sends p to a relay agent.
func (t LinkTransport) SendKernel(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort) error {
	return raw.SendKernel(t.NIC.Name, p, src, dst)
}
