package udhcpd

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
)

var cmpAddr = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

var (
	serverMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xfe}
	mac1      = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	mac2      = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	mac3      = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x03}
	serverIP  = netip.MustParseAddr("10.0.0.1")
	ip10      = netip.MustParseAddr("10.0.0.10")
	ip11      = netip.MustParseAddr("10.0.0.11")
	ip15      = netip.MustParseAddr("10.0.0.15")
	t0        = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	testXID   = uint32(0xaabbccdd)
	testNIC   = udhcp.NICInfo{Name: "eth0", Index: 2, MAC: serverMAC, HostIP4: netip.MustParsePrefix("10.0.0.1/24")}
)

type sentPacket struct {
	p      dhcp4.DHCP4
	kernel bool
	src    netip.AddrPort
	dst    netip.AddrPort
	mac    net.HardwareAddr
}

// fakeTransport records replies and serves a channel backed listener.
type fakeTransport struct {
	sync.Mutex
	sent    []sentPacket
	listens int
	inbound chan dhcp4.DHCP4
	onSend  func(s sentPacket)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan dhcp4.DHCP4, 16)}
}

func (t *fakeTransport) Listen() (Listener, error) {
	t.Lock()
	t.listens++
	t.Unlock()
	return &fakeListener{in: t.inbound, done: make(chan struct{})}, nil
}

func (t *fakeTransport) record(s sentPacket) error {
	t.Lock()
	t.sent = append(t.sent, s)
	onSend := t.onSend
	t.Unlock()
	if onSend != nil {
		onSend(s)
	}
	return nil
}

func (t *fakeTransport) SendRaw(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort, dstMAC net.HardwareAddr) error {
	return t.record(sentPacket{p: dhcp4.Copy(p), src: src, dst: dst, mac: dstMAC})
}

func (t *fakeTransport) SendKernel(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort) error {
	return t.record(sentPacket{p: dhcp4.Copy(p), kernel: true, src: src, dst: dst})
}

func (t *fakeTransport) count() int {
	t.Lock()
	defer t.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) last(tb testing.TB) sentPacket {
	tb.Helper()
	t.Lock()
	defer t.Unlock()
	if len(t.sent) == 0 {
		tb.Fatal("no packet sent")
	}
	return t.sent[len(t.sent)-1]
}

type fakeListener struct {
	in   chan dhcp4.DHCP4
	done chan struct{}
	once sync.Once
}

func (l *fakeListener) ReadPacket(b []byte) (int, netip.AddrPort, error) {
	select {
	case p := <-l.in:
		return copy(b, p), netip.AddrPortFrom(udhcp.IP4Zero, udhcp.ClientPort), nil
	case <-l.done:
		return 0, netip.AddrPort{}, errors.New("closed")
	}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// fakeProber reports the addresses in inUse as taken.
type fakeProber struct {
	inUse map[netip.Addr]bool
	calls []netip.Addr
}

func (p *fakeProber) Probe(ctx context.Context, ip netip.Addr, src netip.Addr, safeMAC net.HardwareAddr) (bool, error) {
	p.calls = append(p.calls, ip)
	if src != serverIP {
		return false, errors.New("invalid source")
	}
	return p.inUse[ip], nil
}

// testConfig serves 10.0.0.10 to 10.0.0.20 with a one hour lease.
func testConfig() Config {
	cfg := Defaults()
	cfg.Start = ip10
	cfg.End = netip.MustParseAddr("10.0.0.20")
	cfg.LeaseFile = ""
	cfg.Lease = 3600
	cfg.Options = []OptionValue{
		{Code: dhcp4.OptionSubnetMask, Value: []byte{255, 255, 255, 0}},
		{Code: dhcp4.OptionRouter, Value: []byte{10, 0, 0, 1}},
	}
	return cfg
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	s, err := New(cfg, testNIC, tr)
	if err != nil {
		t.Fatal("New() failed", err)
	}
	return s, tr
}

type packetOption func(p dhcp4.DHCP4)

func withRequested(ip netip.Addr) packetOption {
	return func(p dhcp4.DHCP4) { p.AddIP(dhcp4.OptionRequestedIPAddress, ip) }
}

func withServerID(ip netip.Addr) packetOption {
	return func(p dhcp4.DHCP4) { p.AddIP(dhcp4.OptionServerIdentifier, ip) }
}

func withCIAddr(ip netip.Addr) packetOption {
	return func(p dhcp4.DHCP4) { p.SetCIAddr(ip) }
}

func withGIAddr(ip netip.Addr) packetOption {
	return func(p dhcp4.DHCP4) { p.SetGIAddr(ip) }
}

func withLease(n uint32) packetOption {
	return func(p dhcp4.DHCP4) { p.AddSimpleOption(dhcp4.OptionIPAddressLeaseTime, n) }
}

// clientPacket builds a client message of type mt from mac.
func clientPacket(mt dhcp4.MessageType, mac net.HardwareAddr, opts ...packetOption) dhcp4.DHCP4 {
	p := dhcp4.New(nil, dhcp4.BootRequest, mt)
	p.SetXID(testXID)
	p.SetCHAddr(mac)
	for _, o := range opts {
		o(p)
	}
	return p
}

// bind runs discover and request for mac at now and returns the address.
func bind(t *testing.T, s *Server, tr *fakeTransport, mac net.HardwareAddr, now time.Time) netip.Addr {
	t.Helper()
	n := tr.count()
	s.HandlePacket(clientPacket(dhcp4.Discover, mac), now)
	if tr.count() != n+1 {
		t.Fatalf("bind() no offer for mac=%s", mac)
	}
	offer := tr.last(t).p
	if offer.MessageType() != dhcp4.Offer {
		t.Fatalf("bind() invalid reply got=%s want=offer", offer.MessageType())
	}
	s.HandlePacket(clientPacket(dhcp4.Request, mac, withServerID(serverIP), withRequested(offer.YIAddr())), now)
	ack := tr.last(t).p
	if ack.MessageType() != dhcp4.ACK || ack.YIAddr() != offer.YIAddr() {
		t.Fatalf("bind() invalid reply got=%s ip=%s want=ack ip=%s", ack.MessageType(), ack.YIAddr(), offer.YIAddr())
	}
	return ack.YIAddr()
}
