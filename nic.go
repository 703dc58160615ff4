package udhcp

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/irai/udhcp/fastlog"
	"github.com/vishvananda/netlink"
)

// NICInfo stores the network interface info needed by the dhcp sockets.
type NICInfo struct {
	Name    string
	Index   int
	MAC     net.HardwareAddr
	HostIP4 netip.Prefix // invalid when the interface has no ipv4 address
}

func (e NICInfo) FastLog(l *fastlog.Line) *fastlog.Line {
	l.String("nic", e.Name)
	l.Int("index", e.Index)
	l.MAC("mac", e.MAC)
	if e.HostIP4.IsValid() {
		l.IP("ip", e.HostIP4.Addr())
		l.Int("bits", e.HostIP4.Bits())
	}
	return l
}

func (e NICInfo) String() string {
	return fastlog.NewLine("", "").Struct(e).ToString()
}

// GetNICInfo returns index, hardware address and first ipv4 address of the interface.
func GetNICInfo(nic string) (info NICInfo, err error) {
	link, err := netlink.LinkByName(nic)
	if err != nil {
		return NICInfo{}, fmt.Errorf("interface %s: %w", nic, err)
	}
	attrs := link.Attrs()
	info = NICInfo{Name: attrs.Name, Index: attrs.Index, MAC: CopyMAC(attrs.HardwareAddr)}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return NICInfo{}, fmt.Errorf("interface %s address list: %w", nic, err)
	}
	info.HostIP4 = firstIP4(addrs)
	if Logger.IsDebug() {
		Logger.Msg("nic info").Struct(info).Write()
	}
	return info, nil
}

func firstIP4(addrs []netlink.Addr) netip.Prefix {
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IPNet.IP.To4())
		if !ok || ip.IsUnspecified() {
			continue
		}
		ones, _ := a.IPNet.Mask.Size()
		return netip.PrefixFrom(ip, ones)
	}
	return netip.Prefix{}
}
