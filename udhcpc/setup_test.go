package udhcpc

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
)

var (
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	otherMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	serverIP  = netip.MustParseAddr("10.0.0.1")
	offerIP   = netip.MustParseAddr("10.0.0.5")
	t0        = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	testXID   = uint32(0x11223344)
)

type sentPacket struct {
	p      dhcp4.DHCP4
	kernel bool
	src    netip.AddrPort
	dst    netip.AddrPort
	mac    net.HardwareAddr
}

// fakeTransport records sent packets and serves a channel backed listener.
type fakeTransport struct {
	sync.Mutex
	sent    []sentPacket
	modes   []ListenMode
	inbound chan dhcp4.DHCP4
	onSend  func(p dhcp4.DHCP4) // called without the lock
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan dhcp4.DHCP4, 16)}
}

func (t *fakeTransport) Listen(mode ListenMode) (Listener, error) {
	t.Lock()
	t.modes = append(t.modes, mode)
	t.Unlock()
	return &fakeListener{in: t.inbound, done: make(chan struct{})}, nil
}

func (t *fakeTransport) record(s sentPacket) {
	t.Lock()
	t.sent = append(t.sent, s)
	onSend := t.onSend
	t.Unlock()
	if onSend != nil {
		onSend(s.p)
	}
}

func (t *fakeTransport) SendRaw(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort, dstMAC net.HardwareAddr) error {
	t.record(sentPacket{p: dhcp4.Copy(p), src: src, dst: dst, mac: dstMAC})
	return nil
}

func (t *fakeTransport) SendKernel(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort) error {
	t.record(sentPacket{p: dhcp4.Copy(p), kernel: true, src: src, dst: dst})
	return nil
}

func (t *fakeTransport) packets() []sentPacket {
	t.Lock()
	defer t.Unlock()
	return append([]sentPacket{}, t.sent...)
}

func (t *fakeTransport) last(tb testing.TB) sentPacket {
	tb.Helper()
	s := t.packets()
	if len(s) == 0 {
		tb.Fatal("no packet sent")
	}
	return s[len(s)-1]
}

type fakeListener struct {
	in   chan dhcp4.DHCP4
	done chan struct{}
	once sync.Once
}

func (l *fakeListener) ReadPacket(b []byte) (int, netip.AddrPort, error) {
	select {
	case p := <-l.in:
		return copy(b, p), netip.AddrPortFrom(serverIP, udhcp.ServerPort), nil
	case <-l.done:
		return 0, netip.AddrPort{}, errors.New("closed")
	}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// fakeHook records script actions.
type fakeHook struct {
	sync.Mutex
	actions []string
}

func (h *fakeHook) Run(action string, p dhcp4.DHCP4) {
	h.Lock()
	h.actions = append(h.actions, action)
	h.Unlock()
}

func (h *fakeHook) list() []string {
	h.Lock()
	defer h.Unlock()
	return append([]string{}, h.actions...)
}

type fakeProber struct{ inUse bool }

func (p fakeProber) Probe(ctx context.Context, ip netip.Addr, src netip.Addr, safeMAC net.HardwareAddr) (bool, error) {
	return p.inUse, nil
}

func testConfig() Config {
	cfg := Defaults()
	cfg.NIC = udhcp.NICInfo{Name: "eth0", Index: 2, MAC: clientMAC}
	return cfg
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeTransport, *fakeHook) {
	t.Helper()
	tr := newFakeTransport()
	hook := &fakeHook{}
	c, err := New(cfg, tr, hook)
	if err != nil {
		t.Fatal("New() failed", err)
	}
	c.NewXID = func() uint32 { return testXID }
	return c, tr, hook
}

// serverReply builds a reply from serverIP.
func serverReply(mt dhcp4.MessageType, xid uint32, mac net.HardwareAddr, yiaddr netip.Addr, lease uint32) dhcp4.DHCP4 {
	p := dhcp4.New(nil, dhcp4.BootReply, mt)
	p.SetXID(xid)
	p.SetCHAddr(mac)
	if yiaddr.IsValid() {
		p.SetYIAddr(yiaddr)
	}
	p.AddIP(dhcp4.OptionServerIdentifier, serverIP)
	if lease > 0 {
		p.AddSimpleOption(dhcp4.OptionIPAddressLeaseTime, lease)
	}
	return p
}

// boundClient returns a client bound to offerIP with a one hour lease at t0.
func boundClient(t *testing.T, cfg Config) (*Client, *fakeTransport, *fakeHook) {
	t.Helper()
	c, tr, hook := newTestClient(t, cfg)
	c.Start(t0)
	c.HandleTimeout(t0)
	c.HandlePacket(serverReply(dhcp4.Offer, testXID, clientMAC, offerIP, 3600), t0)
	c.HandleTimeout(t0)
	c.HandlePacket(serverReply(dhcp4.ACK, testXID, clientMAC, offerIP, 3600), t0)
	if c.State() != Bound {
		t.Fatalf("boundClient() invalid state=%s", c.State())
	}
	return c, tr, hook
}
