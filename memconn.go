package udhcp

import (
	"net"
	"time"
)

// bufferedPacketConn is a net.PacketConn pipe to enable testing
type bufferedPacketConn struct {
	conn net.Conn
	addr net.Addr
	peer net.Addr
}

// TestNewBufferedConn create a pair of connected in memory packet conns for testing.
// Writes on one side block until the other side reads.
func TestNewBufferedConn() (a *bufferedPacketConn, b *bufferedPacketConn) {
	a = &bufferedPacketConn{addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: ServerPort}}
	b = &bufferedPacketConn{addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2), Port: ClientPort}}
	a.peer, b.peer = b.addr, a.addr
	a.conn, b.conn = net.Pipe()
	return a, b
}

func (p *bufferedPacketConn) Close() error {
	return p.conn.Close()
}

func (p *bufferedPacketConn) LocalAddr() net.Addr                { return p.addr }
func (p *bufferedPacketConn) SetDeadline(t time.Time) error      { return p.conn.SetDeadline(t) }
func (p *bufferedPacketConn) SetReadDeadline(t time.Time) error  { return p.conn.SetReadDeadline(t) }
func (p *bufferedPacketConn) SetWriteDeadline(t time.Time) error { return p.conn.SetWriteDeadline(t) }

func (p *bufferedPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := p.conn.Read(b)
	return n, p.peer, err
}

func (p *bufferedPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	return p.conn.Write(b)
}
