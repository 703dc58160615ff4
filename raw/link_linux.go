//go:build linux

package raw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"github.com/irai/udhcp"
	"golang.org/x/sys/unix"
)

// RawListener reads dhcp payloads from an AF_PACKET socket filtered on the
// udp destination port. Frames failing validation are logged and skipped.
type RawListener struct {
	conn *Conn
	port uint16
	buf  [MaxFrameLen]byte
}

// ListenRaw opens a raw listener on the interface for udp port.
func ListenRaw(nic udhcp.NICInfo, port uint16) (*RawListener, error) {
	filter, err := UDPFilter(port)
	if err != nil {
		return nil, fmt.Errorf("bpf assemble: %w", err)
	}
	conn, err := ListenPacket(nic, unix.ETH_P_IP, filter)
	if err != nil {
		return nil, fmt.Errorf("raw listen nic=%s: %w", nic.Name, err)
	}
	return &RawListener{conn: conn, port: port}, nil
}

// ReadPacket blocks until a valid datagram arrives and copies its payload to b.
func (l *RawListener) ReadPacket(b []byte) (int, netip.AddrPort, error) {
	for {
		n, _, err := l.conn.ReadFrom(l.buf[:])
		if err != nil {
			return 0, netip.AddrPort{}, err
		}
		payload, src, err := DecodeFrame(l.buf[:n], l.port)
		if err != nil {
			if Logger.IsDebug() {
				Logger.Msg("raw packet dropped").Error("error", err).Write()
			}
			continue
		}
		return copy(b, payload), src, nil
	}
}

// Close closes the underlying socket; a blocked ReadPacket returns an error.
func (l *RawListener) Close() error {
	return l.conn.Close()
}

// KernelListener reads dhcp payloads from a udp socket.
type KernelListener struct {
	conn net.PacketConn
}

// NewKernelListener wraps an existing connection.
func NewKernelListener(conn net.PacketConn) *KernelListener {
	return &KernelListener{conn: conn}
}

// ListenKernel opens a udp socket on port bound to the interface with
// SO_BROADCAST and SO_REUSEADDR set.
func ListenKernel(ifname string, port uint16) (*KernelListener, error) {
	lc := net.ListenConfig{Control: socketControl(ifname)}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("kernel listen nic=%s port=%d: %w", ifname, port, err)
	}
	return &KernelListener{conn: conn}, nil
}

// ReadPacket blocks until a datagram arrives and copies its payload to b.
func (l *KernelListener) ReadPacket(b []byte) (int, netip.AddrPort, error) {
	n, addr, err := l.conn.ReadFrom(b)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	var src netip.AddrPort
	if u, ok := addr.(*net.UDPAddr); ok {
		src = u.AddrPort()
		src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
	}
	return n, src, nil
}

// Close closes the socket; a blocked ReadPacket returns an error.
func (l *KernelListener) Close() error {
	return l.conn.Close()
}

// SendRaw sends payload in a hand built IPv4 udp datagram to the hardware
// address dstMAC. It is used when the sender has no usable ip address or the
// destination has none yet.
func SendRaw(nic udhcp.NICInfo, payload []byte, src netip.AddrPort, dst netip.AddrPort, dstMAC net.HardwareAddr) error {
	var b [MaxFrameLen]byte
	frame, err := EncodeFrame(b[:0], payload, src, dst)
	if err != nil {
		return err
	}
	conn, err := ListenPacket(nic, unix.ETH_P_IP, nil)
	if err != nil {
		return fmt.Errorf("raw socket nic=%s: %w", nic.Name, err)
	}
	defer conn.Close()
	if _, err := conn.WriteTo(frame, &udhcp.Addr{MAC: dstMAC}); err != nil {
		return fmt.Errorf("raw sendto dst=%s: %w", dst, err)
	}
	return nil
}

// SendKernel sends payload through the kernel udp stack from src to dst.
// The socket is bound to src with SO_REUSEADDR so it can share the port
// with a listening socket.
func SendKernel(ifname string, payload []byte, src netip.AddrPort, dst netip.AddrPort) error {
	d := net.Dialer{
		LocalAddr: net.UDPAddrFromAddrPort(src),
		Control:   socketControl(ifname),
	}
	conn, err := d.Dial("udp4", dst.String())
	if err != nil {
		return fmt.Errorf("kernel dial src=%s dst=%s: %w", src, dst, err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("kernel send dst=%s: %w", dst, err)
	}
	return nil
}

func socketControl(ifname string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
				return
			}
			if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); serr != nil {
				return
			}
			if ifname != "" {
				serr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifname)
			}
		})
		return errors.Join(err, serr)
	}
}
