package udhcpd

import (
	"net"
	"net/netip"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
)

// initPacket returns a reply of type mt to req carrying our server id.
func (s *Server) initPacket(req dhcp4.DHCP4, mt dhcp4.MessageType) dhcp4.DHCP4 {
	p := dhcp4.New(nil, dhcp4.BootReply, mt)
	p.SetXID(req.XID())
	p.SetCHAddr(req.CHAddr())
	p.SetFlags(req.Flags())
	p.SetGIAddr(req.GIAddr())
	p.SetCIAddr(req.CIAddr())
	p.AddIP(dhcp4.OptionServerIdentifier, s.serverIP)
	return p
}

// addServerOptions appends the configured options and the bootp fields.
func (s *Server) addServerOptions(p dhcp4.DHCP4) {
	for _, o := range s.cfg.Options {
		var err error
		if len(o.Value) > 255 {
			err = p.AddLongOption(o.Code, o.Value)
		} else {
			err = p.AddOption(o.Code, o.Value)
		}
		if err != nil {
			Logger.Msg("option not added").Uint8("code", uint8(o.Code)).Error("error", err).Write()
		}
	}
	if s.cfg.SIAddr.IsValid() {
		p.SetSIAddr(s.cfg.SIAddr)
	}
	if s.cfg.SName != "" {
		p.SetSName([]byte(s.cfg.SName))
	}
	if s.cfg.BootFile != "" {
		p.SetFile([]byte(s.cfg.BootFile))
	}
}

// sendOffer offers, in order of preference: the static lease, the address
// the client already holds, the address it asked for, a never leased pool
// address and finally an expired one.
func (s *Server) sendOffer(req dhcp4.DHCP4, lease *Lease, static bool, requested netip.Addr, hasRequested bool, now time.Time) {
	mac := req.CHAddr()
	var yiaddr netip.Addr
	switch {
	case lease != nil:
		yiaddr = lease.IP
	case hasRequested && s.available(requested, now):
		yiaddr = requested
	default:
		ip, err := s.findAddress(mac, false, now)
		if err != nil {
			ip, err = s.findAddress(mac, true, now)
		}
		if err != nil {
			Logger.Msg("no free ip addresses, offer abandoned").MAC("mac", mac).Write()
			s.metrics.Dropped.Inc()
			return
		}
		yiaddr = ip
	}

	lt := s.leaseTime(req)
	if lease != nil && !lease.Expired(now) {
		lt = s.alignLeaseTime(req, *lease, now)
	}

	if !static {
		if _, err := s.table.add(mac, yiaddr, seconds(s.cfg.OfferTime), now); err != nil {
			Logger.Msg("lease table full, offer abandoned").MAC("mac", mac).Error("error", err).Write()
			s.metrics.Dropped.Inc()
			return
		}
	}

	p := s.initPacket(req, dhcp4.Offer)
	p.SetYIAddr(yiaddr)
	p.AddSimpleOption(dhcp4.OptionIPAddressLeaseTime, lt)
	s.addServerOptions(p)
	Logger.Msg("sending offer").MAC("mac", mac).IP("ip", yiaddr).Uint32("lease", lt).Write()
	s.send(p, false)
}

// sendACK acknowledges yiaddr and records the lease once the reply is out.
func (s *Server) sendACK(req dhcp4.DHCP4, yiaddr netip.Addr, now time.Time) {
	lt := s.leaseTime(req)
	p := s.initPacket(req, dhcp4.ACK)
	p.SetYIAddr(yiaddr)
	p.AddSimpleOption(dhcp4.OptionIPAddressLeaseTime, lt)
	s.addServerOptions(p)
	Logger.Msg("sending ack").MAC("mac", req.CHAddr()).IP("ip", yiaddr).Uint32("lease", lt).Write()
	if err := s.send(p, false); err != nil {
		return
	}
	if _, err := s.table.add(req.CHAddr(), yiaddr, seconds(lt), now); err != nil {
		Logger.Msg("failed to record lease").IP("ip", yiaddr).Error("error", err).Write()
	}
}

func (s *Server) sendNAK(req dhcp4.DHCP4) {
	p := s.initPacket(req, dhcp4.NAK)
	Logger.Msg("sending nak").MAC("mac", req.CHAddr()).Write()
	s.send(p, true)
}

// sendInform answers an INFORM with the configured options and no lease.
func (s *Server) sendInform(req dhcp4.DHCP4) {
	p := s.initPacket(req, dhcp4.ACK)
	s.addServerOptions(p)
	Logger.Msg("sending inform reply").MAC("mac", req.CHAddr()).IP("ciaddr", req.CIAddr()).Write()
	s.send(p, false)
}

// replyDest returns where a reply goes when it is not relayed: NAKs and
// clients asking for it get a broadcast, a client with ciaddr gets a unicast
// there, anybody else a unicast to yiaddr at its hardware address.
func replyDest(p dhcp4.DHCP4, forceBroadcast bool) (netip.Addr, net.HardwareAddr) {
	switch {
	case forceBroadcast:
	case !p.CIAddr().IsUnspecified():
		return p.CIAddr(), p.CHAddr()
	case p.Broadcast():
	case !p.YIAddr().IsUnspecified():
		return p.YIAddr(), p.CHAddr()
	}
	return udhcp.IP4Broadcast, udhcp.EthBroadcast
}

// send delivers p to the relay in giaddr through the kernel or to the
// client from the packet socket.
func (s *Server) send(p dhcp4.DHCP4, forceBroadcast bool) error {
	src := netip.AddrPortFrom(s.serverIP, udhcp.ServerPort)
	var err error
	if giaddr := p.GIAddr(); !giaddr.IsUnspecified() {
		err = s.transport.SendKernel(p, src, netip.AddrPortFrom(giaddr, udhcp.ServerPort))
	} else {
		ip, mac := replyDest(p, forceBroadcast)
		err = s.transport.SendRaw(p, src, netip.AddrPortFrom(ip, udhcp.ClientPort), mac)
	}
	if err != nil {
		Logger.Msg("failed to send reply").String("type", p.MessageType().String()).Error("error", err).Write()
		return err
	}
	s.metrics.Sent.WithLabelValues(p.MessageType().String()).Inc()
	return nil
}
