// Package udhcpd implements the dhcp server lease engine.
//
// A Server owns the configuration, the lease table and the static leases.
// HandlePacket decides whether to OFFER, ACK, NAK or stay silent and sends
// the reply through a Transport; Run feeds it from the server socket and
// saves the lease file on a timer and on signals.
package udhcpd

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/fastlog"
	"github.com/prometheus/client_golang/prometheus"
)

const module = "udhcpd"

// Logger is the package logger
var Logger = fastlog.New(module)

// Listener is a receive socket.
type Listener interface {
	ReadPacket(b []byte) (int, netip.AddrPort, error)
	Close() error
}

// Transport opens the server socket and sends replies.
type Transport interface {
	Listen() (Listener, error)
	SendRaw(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort, dstMAC net.HardwareAddr) error
	SendKernel(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort) error
}

// Prober checks whether an address answers ARP.
type Prober interface {
	Probe(ctx context.Context, ip netip.Addr, src netip.Addr, safeMAC net.HardwareAddr) (bool, error)
}

// Server is the explicit server context.
type Server struct {
	cfg       Config
	nic       udhcp.NICInfo
	serverIP  netip.Addr
	transport Transport
	prober    Prober
	metrics   *Metrics

	table    leaseTable
	static   map[string]netip.Addr
	staticIP map[netip.Addr]struct{}
}

// New returns a server for cfg answering from the address of nic.
func New(cfg Config, nic udhcp.NICInfo, transport Transport) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	serverIP := nic.HostIP4.Addr()
	if !serverIP.Is4() || serverIP.IsUnspecified() {
		return nil, fmt.Errorf("server address nic=%s: %w", nic.Name, udhcp.ErrInvalidIP)
	}
	s := &Server{
		cfg:       cfg,
		nic:       nic,
		serverIP:  serverIP,
		transport: transport,
		table:     newLeaseTable(cfg.MaxLeases),
		static:    make(map[string]netip.Addr, len(cfg.StaticLeases)),
		staticIP:  make(map[netip.Addr]struct{}, len(cfg.StaticLeases)),
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	for _, v := range cfg.StaticLeases {
		s.static[string(v.MAC)] = v.IP
		s.staticIP[v.IP] = struct{}{}
	}
	return s, nil
}

// SetProber enables the ARP check of free addresses before they are offered.
func (s *Server) SetProber(p Prober) { s.prober = p }

// SetMetrics replaces the private metrics.
func (s *Server) SetMetrics(m *Metrics) { s.metrics = m }

// Config returns the validated configuration.
func (s *Server) Config() Config { return s.cfg }

// Leases returns a copy of the leases that have not expired at now,
// reservations for declined addresses included.
func (s *Server) Leases(now time.Time) []Lease {
	return s.table.active(now)
}

// Lease returns the unexpired lease of mac.
func (s *Server) Lease(mac net.HardwareAddr, now time.Time) (Lease, bool) {
	if l := s.table.findMAC(mac); l != nil && !l.Expired(now) {
		return *l, true
	}
	return Lease{}, false
}

func seconds(n uint32) time.Duration {
	return time.Duration(n) * time.Second
}

func (s *Server) drop(msg string, p dhcp4.DHCP4, err error) {
	s.metrics.Dropped.Inc()
	if Logger.IsDebug() {
		line := Logger.Msg(msg).Error("error", err)
		if p != nil {
			line.Struct(p)
		}
		line.Write()
	}
}

// HandlePacket processes one client message at now. Invalid messages are
// dropped; nothing is returned since no request failure stops the server.
func (s *Server) HandlePacket(p dhcp4.DHCP4, now time.Time) {
	if err := p.IsValid(); err != nil {
		s.drop("invalid packet, ignoring", nil, err)
		return
	}
	if p.OpCode() != dhcp4.BootRequest {
		s.drop("not a request, ignoring", p, nil)
		return
	}
	if p.HLen() != 6 {
		s.drop("mac length != 6, ignoring", p, nil)
		return
	}
	mt := p.MessageType()
	if mt < dhcp4.Discover || mt > dhcp4.Inform {
		s.drop("no or bad message type, ignoring", p, nil)
		return
	}
	s.metrics.Received.WithLabelValues(mt.String()).Inc()
	if Logger.IsDebug() {
		Logger.Msg("received").Struct(p).Write()
	}

	serverID, hasServerID := p.GetIP(dhcp4.OptionServerIdentifier)
	if hasServerID && serverID != s.serverIP {
		s.drop("server id does not match, ignoring", p, nil)
		return
	}
	requested, hasRequested := p.GetIP(dhcp4.OptionRequestedIPAddress)
	mac := p.CHAddr()

	// a static client always looks known
	var lease *Lease
	staticIP, static := s.static[string(mac)]
	if static {
		lease = &Lease{MAC: mac, IP: staticIP, Expires: now.Add(seconds(s.cfg.Lease))}
	} else {
		lease = s.table.findMAC(mac)
	}

	switch mt {
	case dhcp4.Discover:
		s.sendOffer(p, lease, static, requested, hasRequested, now)

	case dhcp4.Request:
		s.handleRequest(p, lease, hasServerID, requested, hasRequested, now)

	case dhcp4.Decline:
		l := s.table.findMAC(mac)
		if l != nil && (!hasRequested || requested == l.IP) {
			Logger.Msg("address declined").MAC("mac", mac).IP("ip", l.IP).Write()
			s.table.clearMAC(l)
			l.Expires = now.Add(seconds(s.cfg.DeclineTime))
		}

	case dhcp4.Release:
		l := s.table.findMAC(mac)
		if l != nil && p.CIAddr() == l.IP {
			Logger.Msg("address released").MAC("mac", mac).IP("ip", l.IP).Write()
			l.Expires = now
		}

	case dhcp4.Inform:
		s.sendInform(p)

	default:
		s.drop("unexpected message type, ignoring", p, nil)
	}
	s.metrics.ActiveLeases.Set(float64(len(s.table.active(now))))
}

// handleRequest answers a REQUEST. The client state is inferred from the
// options: a server id means SELECTING, a requested address alone means
// INIT-REBOOT, neither means RENEWING or REBINDING.
func (s *Server) handleRequest(p dhcp4.DHCP4, lease *Lease, hasServerID bool, requested netip.Addr, hasRequested bool, now time.Time) {
	if lease != nil {
		switch {
		case hasServerID:
			if hasRequested && requested == lease.IP {
				s.sendACK(p, lease.IP, now)
			}
		case hasRequested:
			if requested == lease.IP {
				s.sendACK(p, lease.IP, now)
			} else {
				s.sendNAK(p)
			}
		case p.CIAddr() == lease.IP:
			s.sendACK(p, lease.IP, now)
		default:
			s.sendNAK(p)
		}
		return
	}

	// no record of this client
	if hasServerID || !hasRequested {
		return
	}
	if _, ok := s.staticIP[requested]; ok {
		s.sendNAK(p)
		return
	}
	if l := s.table.findIP(requested); l != nil {
		if l.Expired(now) {
			// free it and let the clients contend for it
			s.table.clearMAC(l)
			return
		}
		s.sendNAK(p)
	}
	// an address we never leased, in the pool or not, may belong to
	// another server
}

// available reports whether ip may be offered to a client asking for it.
func (s *Server) available(ip netip.Addr, now time.Time) bool {
	if !s.cfg.InPool(ip) || ip == s.serverIP {
		return false
	}
	if _, ok := s.staticIP[ip]; ok {
		return false
	}
	l := s.table.findIP(ip)
	return l == nil || l.Expired(now)
}

// findAddress returns the first pool address without a lease, or with an
// expired lease when checkExpired is set. Addresses answering ARP are
// reserved for conflict_time and skipped.
func (s *Server) findAddress(mac net.HardwareAddr, checkExpired bool, now time.Time) (netip.Addr, error) {
	start, end := ip2uint(s.cfg.Start), ip2uint(s.cfg.End)
	for n := start; ; n++ {
		if n&0xff != 0 && n&0xff != 0xff {
			ip := uint2ip(n)
			if s.candidate(ip, checkExpired, now) {
				if !s.inUse(ip, mac) {
					return ip, nil
				}
				Logger.Msg("address in use, reserving").IP("ip", ip).Uint32("seconds", s.cfg.ConflictTime).Write()
				if _, err := s.table.add(nil, ip, seconds(s.cfg.ConflictTime), now); err != nil {
					Logger.Msg("failed to reserve conflicting address").IP("ip", ip).Error("error", err).Write()
				}
			}
		}
		if n == end {
			break
		}
	}
	return netip.Addr{}, udhcp.ErrNoIPAvailable
}

func (s *Server) candidate(ip netip.Addr, checkExpired bool, now time.Time) bool {
	if ip == s.serverIP {
		return false
	}
	if _, ok := s.staticIP[ip]; ok {
		return false
	}
	l := s.table.findIP(ip)
	return l == nil || (checkExpired && l.Expired(now))
}

func (s *Server) inUse(ip netip.Addr, mac net.HardwareAddr) bool {
	if s.prober == nil {
		return false
	}
	inUse, err := s.prober.Probe(context.Background(), ip, s.serverIP, mac)
	if err != nil {
		Logger.Msg("arp probe failed").IP("ip", ip).Error("error", err).Write()
		return false
	}
	return inUse
}

// leaseTime returns the lease the client asked for, capped to the
// configured lease. A request below min_lease gets the configured lease.
func (s *Server) leaseTime(p dhcp4.DHCP4) uint32 {
	lt := s.cfg.Lease
	if v, ok := p.GetUint32(dhcp4.OptionIPAddressLeaseTime); ok {
		lt = v
		if lt > s.cfg.Lease {
			lt = s.cfg.Lease
		}
		if lt < s.cfg.MinLease {
			lt = s.cfg.Lease
		}
	}
	return lt
}

// alignLeaseTime returns the time left on an active lease, capped to the
// configured lease, unless the client asked for a lease time.
func (s *Server) alignLeaseTime(req dhcp4.DHCP4, lease Lease, now time.Time) uint32 {
	if _, ok := req.GetUint32(dhcp4.OptionIPAddressLeaseTime); ok {
		return s.leaseTime(req)
	}
	left := uint32(lease.Expires.Sub(now) / time.Second)
	if left > s.cfg.Lease {
		left = s.cfg.Lease
	}
	if left < s.cfg.MinLease {
		left = s.cfg.Lease
	}
	return left
}
