package udhcpc

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/pump"
)

// maxWait bounds the timer when the state has no timeout.
const maxWait = 24 * time.Hour

type packetEvent struct {
	p   dhcp4.DHCP4
	err error
}

// reader feeds one listener into its own channel until stop is closed.
func reader(l Listener, out chan<- packetEvent, stop <-chan struct{}) {
	buf := make([]byte, 1500)
	for {
		n, _, err := l.ReadPacket(buf)
		ev := packetEvent{err: err}
		if err == nil {
			ev.p = dhcp4.DHCP4(udhcp.CopyBytes(buf[:n]))
		}
		select {
		case out <- ev:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// socket tracks the open listener and its reader goroutine.
type socket struct {
	mode    ListenMode
	l       Listener
	packets chan packetEvent
	stop    chan struct{}
}

func (s *socket) close() {
	if s.l != nil {
		close(s.stop)
		s.l.Close()
	}
	*s = socket{}
}

// Now returns the time used by Run; replaced in tests.
var Now = time.Now

// Run drives the client until it exits or ctx is cancelled. It returns the
// exit status. Only failing to open a socket is returned as an error.
func (c *Client) Run(ctx context.Context, signals <-chan os.Signal) (int, error) {
	var sock socket
	defer sock.close()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	c.Start(Now())
	for {
		if code, done := c.Done(); done {
			return code, nil
		}

		if c.listenMode != sock.mode {
			sock.close()
			if c.listenMode != ListenNone {
				l, err := c.transport.Listen(c.listenMode)
				if err != nil {
					return 1, fmt.Errorf("listen mode=%s: %w", c.listenMode, err)
				}
				sock = socket{mode: c.listenMode, l: l, packets: make(chan packetEvent), stop: make(chan struct{})}
				go reader(l, sock.packets, sock.stop)
			}
			if Logger.IsDebug() {
				Logger.Msg("listen mode").String("mode", c.listenMode.String()).Write()
			}
		}

		now := Now()
		wait := maxWait
		if !c.timeout.IsZero() {
			if !now.Before(c.timeout) {
				c.HandleTimeout(now)
				continue
			}
			if d := c.timeout.Sub(now); d < wait {
				wait = d
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()

		case sig := <-signals:
			c.HandleSignal(pump.ToSignal(sig), Now())

		case ev := <-sock.packets:
			if ev.err != nil {
				Logger.Msg("read error, reopening socket").Error("error", ev.err).Write()
				sock.close()
				continue
			}
			c.HandlePacket(ev.p, Now())

		case <-timer.C:
			// the deadline is checked at the top of the loop
		}
	}
}
