// Package udhcpc implements the dhcp client state machine.
//
// A Client holds the configuration and the protocol state for one
// interface. Start, HandleTimeout, HandlePacket and HandleSignal are
// deterministic functions of the current state, the input and the time
// passed in; Run drives them from the sockets, the signal pump and a timer.
package udhcpc

import (
	"context"
	"math/rand/v2"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/fastlog"
)

const module = "udhcpc"

// Logger is the package logger
var Logger = fastlog.New(module)

// State is the client protocol state.
type State uint8

const (
	InitSelecting State = iota
	Requesting
	RenewRequested
	Bound
	Renewing
	Rebinding
	Released
)

func (s State) String() string {
	switch s {
	case InitSelecting:
		return "init_selecting"
	case Requesting:
		return "requesting"
	case RenewRequested:
		return "renew_requested"
	case Bound:
		return "bound"
	case Renewing:
		return "renewing"
	case Rebinding:
		return "rebinding"
	case Released:
		return "released"
	}
	return "unknown"
}

// ListenMode selects the receive socket.
type ListenMode uint8

const (
	ListenNone   ListenMode = iota // no socket
	ListenKernel                   // udp socket on the client port
	ListenRaw                      // packet socket; used while the interface has no address
)

func (m ListenMode) String() string {
	switch m {
	case ListenKernel:
		return "kernel"
	case ListenRaw:
		return "raw"
	}
	return "none"
}

// Listener is a receive socket.
type Listener interface {
	ReadPacket(b []byte) (int, netip.AddrPort, error)
	Close() error
}

// Transport opens receive sockets and sends packets.
type Transport interface {
	Listen(mode ListenMode) (Listener, error)
	SendRaw(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort, dstMAC net.HardwareAddr) error
	SendKernel(p dhcp4.DHCP4, src netip.AddrPort, dst netip.AddrPort) error
}

// Prober checks whether an address answers ARP.
type Prober interface {
	Probe(ctx context.Context, ip netip.Addr, src netip.Addr, safeMAC net.HardwareAddr) (bool, error)
}

// Client is the explicit client context: configuration plus protocol state.
type Client struct {
	cfg       Config
	transport Transport
	hook      Hook
	prober    Prober

	clientID []byte
	hostname []byte
	fqdn     []byte
	vendor   []byte
	requests []byte

	state       State
	listenMode  ListenMode
	xid         uint32
	requestedIP netip.Addr
	serverAddr  netip.Addr
	lease       uint32 // seconds
	t1          uint32 // seconds after start
	t2          uint32 // seconds after start
	start       time.Time
	timeout     time.Time // zero means wait forever
	packetNum   int

	done     bool
	exitCode int

	// NewXID returns transaction ids; replaced in tests.
	NewXID func() uint32
}

// New returns a client for cfg. hook may be nil.
func New(cfg Config, transport Transport, hook Hook) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, transport: transport, hook: hook, NewXID: rand.Uint32}
	var err error
	if c.clientID, c.hostname, c.fqdn, c.vendor, err = cfg.clientOptions(); err != nil {
		return nil, err
	}
	c.requests = cfg.requestList()
	if hook == nil {
		c.hook = nopHook{}
	}
	c.requestedIP = cfg.RequestedIP
	return c, nil
}

// SetProber enables the ARP check of ACKed addresses.
func (c *Client) SetProber(p Prober) {
	c.prober = p
}

// State returns the current state.
func (c *Client) State() State { return c.state }

// ListenMode returns the receive socket the state requires.
func (c *Client) ListenMode() ListenMode { return c.listenMode }

// Timeout returns the next wake up time; zero means none.
func (c *Client) Timeout() time.Time { return c.timeout }

// Lease returns the lease, t1 and t2 in seconds of the last ACK.
func (c *Client) Lease() (lease uint32, t1 uint32, t2 uint32) { return c.lease, c.t1, c.t2 }

// RequestedIP returns the address the client is asking for or holds.
func (c *Client) RequestedIP() netip.Addr { return c.requestedIP }

// ServerAddr returns the server identifier of the current lease or offer.
func (c *Client) ServerAddr() netip.Addr { return c.serverAddr }

// Done reports whether the client finished and the exit status.
func (c *Client) Done() (exitCode int, done bool) { return c.exitCode, c.done }

func (c *Client) FastLog(l *fastlog.Line) *fastlog.Line {
	l.String("state", c.state.String())
	l.Uint32Hex("xid", c.xid)
	if c.requestedIP.IsValid() {
		l.IP("ip", c.requestedIP)
	}
	if c.serverAddr.IsValid() {
		l.IP("server", c.serverAddr)
	}
	l.Int("packetnum", c.packetNum)
	return l
}

func (c *Client) run(action string, p dhcp4.DHCP4) {
	if Logger.IsDebug() {
		Logger.Msg("running script").String("action", action).Write()
	}
	c.hook.Run(action, p)
}

func (c *Client) exit(code int) {
	c.done = true
	c.exitCode = code
}

// Start moves the client to INIT_SELECTING with an immediate timeout.
func (c *Client) Start(now time.Time) {
	c.state = InitSelecting
	c.run(ActionDeconfig, nil)
	c.listenMode = ListenRaw
	c.timeout = now
	c.packetNum = 0
}

// HandleTimeout runs the retransmission and lease timers for the current state.
func (c *Client) HandleTimeout(now time.Time) {
	switch c.state {
	case InitSelecting:
		if c.packetNum < c.cfg.Retries {
			if c.packetNum == 0 {
				c.xid = c.NewXID()
			}
			c.sendDiscover()
			c.timeout = now.Add(c.cfg.Timeout)
			c.packetNum++
			return
		}
		c.run(ActionLeasefail, nil)
		switch {
		case c.cfg.BackgroundNoLease:
			Logger.Msg("no lease, continuing in background").Write()
		case c.cfg.AbortNoLease:
			Logger.Msg("no lease, failing").Write()
			c.exit(1)
			return
		}
		c.packetNum = 0
		c.timeout = now.Add(c.cfg.TryAgain)

	case RenewRequested, Requesting:
		if c.packetNum < c.cfg.Retries {
			if c.state == RenewRequested {
				c.sendRenew(c.serverAddr)
			} else {
				c.sendSelect()
			}
			c.timeout = now.Add(c.cfg.Timeout)
			c.packetNum++
			return
		}
		if c.state == RenewRequested {
			c.run(ActionDeconfig, nil)
		}
		c.restart(now)

	case Bound:
		c.state = Renewing
		c.listenMode = ListenKernel
		if Logger.IsDebug() {
			Logger.Msg("entering renew state").Struct(c).Write()
		}
		c.renewing(now)

	case Renewing:
		c.renewing(now)

	case Rebinding:
		if c.lease-c.t2 <= c.lease/14400+1 {
			Logger.Msg("lease lost, entering init state").IP("ip", c.requestedIP).Write()
			c.run(ActionDeconfig, nil)
			c.restart(now)
			return
		}
		c.sendRenew(netip.Addr{})
		c.t2 = (c.lease-c.t2)/2 + c.t2
		c.timeout = c.start.Add(seconds(c.t2))

	case Released:
		c.timeout = time.Time{}
	}
}

// renewing sends a unicast renew at half the remaining time to t2, or
// enters REBINDING when the window is too small.
func (c *Client) renewing(now time.Time) {
	if c.t2-c.t1 <= c.lease/14400+1 {
		c.state = Rebinding
		c.timeout = now.Add(seconds(c.t2 - c.t1))
		if Logger.IsDebug() {
			Logger.Msg("entering rebinding state").Struct(c).Write()
		}
		return
	}
	c.sendRenew(c.serverAddr)
	c.t1 = (c.t2-c.t1)/2 + c.t1
	c.timeout = c.start.Add(seconds(c.t1))
}

// restart returns to INIT_SELECTING with an immediate timeout.
func (c *Client) restart(now time.Time) {
	c.state = InitSelecting
	c.timeout = now
	c.packetNum = 0
	c.listenMode = ListenRaw
}

// HandlePacket processes a received message. Packets that are not replies
// to our transaction are dropped.
func (c *Client) HandlePacket(p dhcp4.DHCP4, now time.Time) {
	if err := p.IsValid(); err != nil || p.OpCode() != dhcp4.BootReply {
		if Logger.IsDebug() {
			Logger.Msg("invalid packet ignored").Error("error", err).Write()
		}
		return
	}
	if p.XID() != c.xid {
		if Logger.IsDebug() {
			Logger.Msg("xid mismatch ignored").Uint32Hex("got", p.XID()).Uint32Hex("want", c.xid).Write()
		}
		return
	}
	if string(p.CHAddrRaw()[:6]) != string(c.cfg.NIC.MAC) {
		if Logger.IsDebug() {
			Logger.Msg("packet for other mac ignored").MAC("chaddr", p.CHAddr()).Write()
		}
		return
	}
	msgType := p.MessageType()
	if msgType == 0 {
		Logger.Msg("no message type option, ignoring packet").Write()
		return
	}

	switch c.state {
	case InitSelecting:
		if msgType != dhcp4.Offer {
			return
		}
		server, ok := p.GetIP(dhcp4.OptionServerIdentifier)
		if !ok {
			Logger.Msg("no server id in offer").Write()
			return
		}
		c.serverAddr = server
		c.requestedIP = p.YIAddr()
		c.state = Requesting
		c.timeout = now
		c.packetNum = 0
		if Logger.IsInfo() {
			Logger.Msg("offer received").IP("ip", c.requestedIP).IP("server", server).Write()
		}

	case RenewRequested, Requesting, Renewing, Rebinding:
		switch msgType {
		case dhcp4.ACK:
			c.handleACK(p, now)
		case dhcp4.NAK:
			Logger.Msg("received dhcp nak").Write()
			c.run(ActionNak, p)
			if c.state != Requesting {
				c.run(ActionDeconfig, nil)
			}
			c.restart(now)
			c.timeout = now.Add(nakBackoff)
			c.requestedIP = netip.Addr{}
		}
	}
}

func (c *Client) handleACK(p dhcp4.DHCP4, now time.Time) {
	lease, ok := p.GetUint32(dhcp4.OptionIPAddressLeaseTime)
	if !ok {
		Logger.Msg("no lease time with ack, using 1 hour lease").Write()
		lease = defaultLease
	}

	if c.cfg.ARPCheck && c.prober != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		inUse, err := c.prober.Probe(ctx, p.YIAddr(), udhcp.IP4Zero, nil)
		cancel()
		if err != nil {
			Logger.Msg("arp check failed").Error("error", err).Write()
		}
		if inUse {
			Logger.Msg("offered address is in use, declining").IP("ip", p.YIAddr()).Write()
			c.sendDecline(p.YIAddr())
			if c.state != Requesting {
				c.run(ActionDeconfig, nil)
			}
			c.restart(now)
			c.timeout = now.Add(c.cfg.TryAgain)
			c.requestedIP = netip.Addr{}
			return
		}
	}

	c.lease = lease
	c.t1 = lease / 2
	c.t2 = uint32(uint64(lease) * 7 >> 3)
	c.start = now
	c.timeout = now.Add(seconds(c.t1))
	c.requestedIP = p.YIAddr()
	Logger.Msg("lease obtained").IP("ip", c.requestedIP).Uint32("lease", lease).Write()

	if c.state == Renewing || c.state == Rebinding {
		c.run(ActionRenew, p)
	} else {
		c.run(ActionBound, p)
	}
	c.state = Bound
	c.listenMode = ListenNone

	if c.cfg.QuitAfterLease {
		if c.cfg.ReleaseOnQuit {
			c.release()
		}
		c.exit(0)
	}
}

// HandleSignal processes SIGUSR1 (renew), SIGUSR2 (release) and SIGTERM.
func (c *Client) HandleSignal(sig syscall.Signal, now time.Time) {
	switch sig {
	case syscall.SIGUSR1:
		c.renew(now)
	case syscall.SIGUSR2:
		c.release()
	case syscall.SIGTERM:
		Logger.Msg("received sigterm").Write()
		if c.cfg.ReleaseOnQuit {
			c.release()
		}
		c.exit(0)
	}
}

// renew forces the next request cycle.
func (c *Client) renew(now time.Time) {
	Logger.Msg("performing a dhcp renew").String("state", c.state.String()).Write()
	switch c.state {
	case Bound, Renewing, Rebinding:
		c.listenMode = ListenKernel
		c.state = RenewRequested
	case RenewRequested:
		c.run(ActionDeconfig, nil)
		c.listenMode = ListenRaw
		c.state = InitSelecting
	case Requesting, Released:
		c.listenMode = ListenRaw
		c.state = InitSelecting
	}
	c.packetNum = 0
	c.timeout = now
}

// release gives the lease back and enters RELEASED.
func (c *Client) release() {
	switch c.state {
	case Bound, Renewing, Rebinding:
		Logger.Msg("unicasting a release").IP("ip", c.requestedIP).IP("server", c.serverAddr).Write()
		c.sendRelease()
		c.run(ActionDeconfig, nil)
	}
	Logger.Msg("entering released state").Write()
	c.listenMode = ListenNone
	c.state = Released
	c.timeout = time.Time{}
}

func seconds(s uint32) time.Duration {
	return time.Duration(s) * time.Second
}
