//go:build linux

package raw

// The packet socket below follows the raw package github.com/mdlayher/raw
// by Matt Layher, reduced to the SOCK_DGRAM case used by the dhcp sockets.

import (
	"net"
	"os"
	"syscall"
	"time"
	"unsafe"

	"github.com/irai/udhcp"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Must implement net.PacketConn at compile-time.
var _ net.PacketConn = &Conn{}

// Conn is an AF_PACKET SOCK_DGRAM socket bound to one interface and ethertype.
// The kernel strips the link layer header on receive and builds it on send
// from the destination hardware address.
type Conn struct {
	nic udhcp.NICInfo
	s   socket
	pbe uint16
}

// socket is an interface which enables swapping out socket syscalls for
// testing.
type socket interface {
	Bind(unix.Sockaddr) error
	Close() error
	Recvfrom([]byte, int) (int, unix.Sockaddr, error)
	Sendto([]byte, int, unix.Sockaddr) error
	SetSockoptSockFprog(level, name int, fprog *unix.SockFprog) error
	SetDeadline(time.Time) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// htons converts a short (uint16) from host-to-network byte order.
func htons(i uint16) uint16 {
	return (i<<8)&0xff00 | i>>8
}

// ListenPacket opens a packet socket for the ethertype proto on the interface.
// The optional filter is attached before the socket is bound so no
// unfiltered frame is ever queued.
func ListenPacket(nic udhcp.NICInfo, proto uint16, filter []bpf.RawInstruction) (*Conn, error) {
	// Do not specify a protocol to avoid queuing frames before the filter
	// is attached; bind() sets the protocol.
	sock, err := unix.Socket(unix.AF_PACKET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetNonblock(sock, true); err != nil {
		unix.Close(sock)
		return nil, err
	}

	// SetNonblock puts the descriptor into non-blocking mode so os.NewFile
	// registers it with the runtime poller.
	f := os.NewFile(uintptr(sock), "dhcp-packet-socket")
	sc, err := f.SyscallConn()
	if err != nil {
		f.Close()
		return nil, err
	}

	pc, err := newConn(nic, &sysSocket{f: f, rc: sc}, htons(proto), filter)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := pc.bind(); err != nil {
		f.Close()
		return nil, err
	}
	return pc, nil
}

// newConn is the entry point for tests in this package.
func newConn(nic udhcp.NICInfo, s socket, pbe uint16, filter []bpf.RawInstruction) (*Conn, error) {
	pc := &Conn{
		nic: nic,
		s:   s,
		pbe: pbe,
	}
	if len(filter) > 0 {
		if err := pc.SetBPF(filter); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// bind the packet socket to the interface.
// packet(7):
//
//	Only the sll_protocol and the sll_ifindex address fields are used for
//	purposes of binding.
func (p *Conn) bind() error {
	return p.s.Bind(&unix.SockaddrLinklayer{Protocol: p.pbe, Ifindex: p.nic.Index})
}

// ReadFrom implements the net.PacketConn.ReadFrom method.
// The returned address carries the sender hardware address.
func (p *Conn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, addr, err := p.s.Recvfrom(b, 0)
	if err != nil {
		return n, nil, err
	}
	sa, ok := addr.(*unix.SockaddrLinklayer)
	if !ok {
		return n, nil, unix.EINVAL
	}
	halen := int(sa.Halen)
	if halen > len(sa.Addr) {
		halen = len(sa.Addr)
	}
	mac := make(net.HardwareAddr, halen)
	copy(mac, sa.Addr[:])
	return n, &udhcp.Addr{MAC: mac}, nil
}

// WriteTo implements the net.PacketConn.WriteTo method.
// addr must be a *udhcp.Addr with the destination hardware address.
func (p *Conn) WriteTo(b []byte, addr net.Addr) (int, error) {
	a, ok := addr.(*udhcp.Addr)
	if !ok || a.MAC == nil {
		return 0, unix.EINVAL
	}

	var baddr [8]byte
	copy(baddr[:], a.MAC)

	// packet(7):
	//   When you send packets it is enough to specify sll_family, sll_addr,
	//   sll_halen, sll_ifindex, and sll_protocol.
	err := p.s.Sendto(b, 0, &unix.SockaddrLinklayer{
		Ifindex:  p.nic.Index,
		Halen:    uint8(len(a.MAC)),
		Addr:     baddr,
		Protocol: p.pbe,
	})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the connection.
func (p *Conn) Close() error {
	return p.s.Close()
}

// LocalAddr returns the local network address.
func (p *Conn) LocalAddr() net.Addr {
	return &udhcp.Addr{MAC: p.nic.MAC}
}

// SetDeadline implements the net.PacketConn.SetDeadline method.
func (p *Conn) SetDeadline(t time.Time) error {
	return p.s.SetDeadline(t)
}

// SetReadDeadline implements the net.PacketConn.SetReadDeadline method.
func (p *Conn) SetReadDeadline(t time.Time) error {
	return p.s.SetReadDeadline(t)
}

// SetWriteDeadline implements the net.PacketConn.SetWriteDeadline method.
func (p *Conn) SetWriteDeadline(t time.Time) error {
	return p.s.SetWriteDeadline(t)
}

// SetBPF attaches an assembled BPF program to the socket.
func (p *Conn) SetBPF(filter []bpf.RawInstruction) error {
	if len(filter) == 0 {
		return udhcp.ErrInvalidParam
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: (*unix.SockFilter)(unsafe.Pointer(&filter[0])),
	}
	return p.s.SetSockoptSockFprog(unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog)
}

// sysSocket is the default socket implementation.
type sysSocket struct {
	f  *os.File
	rc syscall.RawConn
}

func (s *sysSocket) SetDeadline(t time.Time) error      { return s.f.SetDeadline(t) }
func (s *sysSocket) SetReadDeadline(t time.Time) error  { return s.f.SetReadDeadline(t) }
func (s *sysSocket) SetWriteDeadline(t time.Time) error { return s.f.SetWriteDeadline(t) }
func (s *sysSocket) Close() error                       { return s.f.Close() }

func (s *sysSocket) Bind(sa unix.Sockaddr) error {
	var err error
	cerr := s.rc.Control(func(fd uintptr) {
		err = unix.Bind(int(fd), sa)
	})
	if err != nil {
		return os.NewSyscallError("bind", err)
	}
	return cerr
}

func (s *sysSocket) Recvfrom(p []byte, flags int) (n int, addr unix.Sockaddr, err error) {
	cerr := s.rc.Read(func(fd uintptr) bool {
		n, addr, err = unix.Recvfrom(int(fd), p, flags)
		// EAGAIN means the poller must wait for readiness.
		return err != unix.EAGAIN
	})
	if err != nil {
		return n, addr, err
	}
	return n, addr, cerr
}

func (s *sysSocket) Sendto(p []byte, flags int, to unix.Sockaddr) error {
	var err error
	cerr := s.rc.Write(func(fd uintptr) bool {
		err = unix.Sendto(int(fd), p, flags, to)
		return err != unix.EAGAIN
	})
	if err != nil {
		return err
	}
	return cerr
}

func (s *sysSocket) SetSockoptSockFprog(level, name int, fprog *unix.SockFprog) error {
	var err error
	cerr := s.rc.Control(func(fd uintptr) {
		if errno := unix.SetsockoptSockFprog(int(fd), level, name, fprog); errno != nil {
			err = os.NewSyscallError("setsockopt", errno)
		}
	})
	if err != nil {
		return err
	}
	return cerr
}
