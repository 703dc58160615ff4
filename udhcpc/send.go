package udhcpc

import (
	"net/netip"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
)

var (
	clientAny       = netip.AddrPortFrom(udhcp.IP4Zero, udhcp.ClientPort)
	serverBroadcast = netip.AddrPortFrom(udhcp.IP4Broadcast, udhcp.ServerPort)
)

// initPacket returns a request of type mt carrying our hardware address and
// the client identification options.
func (c *Client) initPacket(mt dhcp4.MessageType) dhcp4.DHCP4 {
	p := dhcp4.New(nil, dhcp4.BootRequest, mt)
	p.SetCHAddr(c.cfg.NIC.MAC)
	p.SetBroadcast(c.cfg.BroadcastFlag)
	if c.clientID != nil {
		p.AddOption(dhcp4.OptionClientIdentifier, c.clientID)
	}
	if c.hostname != nil {
		p.AddOption(dhcp4.OptionHostName, c.hostname)
	}
	if c.fqdn != nil {
		p.AddOption(dhcp4.OptionFQDN, c.fqdn)
	}
	if mt != dhcp4.Decline && mt != dhcp4.Release && c.vendor != nil {
		p.AddOption(dhcp4.OptionVendorClassIdentifier, c.vendor)
	}
	return p
}

// addRequests appends the parameter request list and our maximum message size.
func (c *Client) addRequests(p dhcp4.DHCP4) {
	if len(c.requests) > 0 {
		p.AddOption(dhcp4.OptionParameterRequestList, c.requests)
	}
	p.AddSimpleOption(dhcp4.OptionMaximumDHCPMessageSize, 576)
}

func (c *Client) broadcast(p dhcp4.DHCP4) error {
	return c.transport.SendRaw(p, clientAny, serverBroadcast, udhcp.EthBroadcast)
}

// sendDiscover broadcasts a DISCOVER.
func (c *Client) sendDiscover() {
	p := c.initPacket(dhcp4.Discover)
	p.SetXID(c.xid)
	if c.requestedIP.IsValid() {
		p.AddIP(dhcp4.OptionRequestedIPAddress, c.requestedIP)
	}
	c.addRequests(p)
	Logger.Msg("sending discover").Uint32Hex("xid", c.xid).Write()
	if err := c.broadcast(p); err != nil {
		Logger.Msg("failed to send discover").Error("error", err).Write()
	}
}

// sendSelect broadcasts a REQUEST for the offered address.
func (c *Client) sendSelect() {
	p := c.initPacket(dhcp4.Request)
	p.SetXID(c.xid)
	p.AddIP(dhcp4.OptionRequestedIPAddress, c.requestedIP)
	p.AddIP(dhcp4.OptionServerIdentifier, c.serverAddr)
	c.addRequests(p)
	Logger.Msg("sending select").IP("ip", c.requestedIP).IP("server", c.serverAddr).Write()
	if err := c.broadcast(p); err != nil {
		Logger.Msg("failed to send select").Error("error", err).Write()
	}
}

// sendRenew sends a REQUEST with ciaddr set; unicast to server through the
// kernel when server is valid, broadcast otherwise.
func (c *Client) sendRenew(server netip.Addr) {
	p := c.initPacket(dhcp4.Request)
	p.SetXID(c.xid)
	p.SetCIAddr(c.requestedIP)
	c.addRequests(p)
	Logger.Msg("sending renew").IP("ip", c.requestedIP).IP("server", server).Write()
	var err error
	if server.IsValid() && !server.IsUnspecified() {
		err = c.transport.SendKernel(p,
			netip.AddrPortFrom(c.requestedIP, udhcp.ClientPort),
			netip.AddrPortFrom(server, udhcp.ServerPort))
	} else {
		err = c.broadcast(p)
	}
	if err != nil {
		Logger.Msg("failed to send renew").Error("error", err).Write()
	}
}

// sendDecline broadcasts a DECLINE for ip.
func (c *Client) sendDecline(ip netip.Addr) {
	p := c.initPacket(dhcp4.Decline)
	p.SetXID(c.xid)
	p.AddIP(dhcp4.OptionRequestedIPAddress, ip)
	p.AddIP(dhcp4.OptionServerIdentifier, c.serverAddr)
	Logger.Msg("sending decline").IP("ip", ip).Write()
	if err := c.broadcast(p); err != nil {
		Logger.Msg("failed to send decline").Error("error", err).Write()
	}
}

// sendRelease unicasts a RELEASE of the current address to the server.
func (c *Client) sendRelease() {
	p := c.initPacket(dhcp4.Release)
	p.SetXID(c.NewXID())
	p.SetCIAddr(c.requestedIP)
	p.AddIP(dhcp4.OptionServerIdentifier, c.serverAddr)
	err := c.transport.SendKernel(p,
		netip.AddrPortFrom(c.requestedIP, udhcp.ClientPort),
		netip.AddrPortFrom(c.serverAddr, udhcp.ServerPort))
	if err != nil {
		Logger.Msg("failed to send release").Error("error", err).Write()
	}
}
