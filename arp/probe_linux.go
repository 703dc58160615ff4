//go:build linux

package arp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/raw"
	"golang.org/x/sys/unix"
)

// DefaultTimeout is how long a probe waits for a reply.
const DefaultTimeout = 2000 * time.Millisecond

// Prober sends ARP probes on one interface.
type Prober struct {
	NIC     udhcp.NICInfo
	Timeout time.Duration
}

// Probe broadcasts a who-has for ip from src and reports whether any host
// other than safeMAC answered before the timeout. src.IP may be the zero
// address when the sender has no address yet.
func (p Prober) Probe(ctx context.Context, ip netip.Addr, src netip.Addr, safeMAC net.HardwareAddr) (inUse bool, err error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := raw.ListenPacket(p.NIC, unix.ETH_P_ARP, nil)
	if err != nil {
		return false, fmt.Errorf("arp socket nic=%s: %w", p.NIC.Name, err)
	}
	defer conn.Close()

	var b [Len]byte
	frame := EncodeARP(b[:0], OperationRequest,
		udhcp.Addr{MAC: p.NIC.MAC, IP: src},
		udhcp.Addr{MAC: net.HardwareAddr{0, 0, 0, 0, 0, 0}, IP: ip})
	if frame == nil {
		return false, udhcp.ErrInvalidMAC
	}
	if _, err := conn.WriteTo(frame, &udhcp.Addr{MAC: udhcp.EthBroadcast}); err != nil {
		return false, fmt.Errorf("arp send: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}

	buf := make([]byte, 128)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return false, nil
			}
			return false, fmt.Errorf("arp read: %w", err)
		}
		if IsConflict(ARP(buf[:n]), ip, p.NIC.MAC, safeMAC) {
			if Logger.IsInfo() {
				Logger.Msg("address in use").IP("ip", ip).MAC("mac", ARP(buf[:n]).SrcMAC()).Write()
			}
			return true, nil
		}
	}
}
