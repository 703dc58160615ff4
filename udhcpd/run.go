package udhcpd

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/pump"
)

// Now returns the time used by Run; replaced in tests.
var Now = time.Now

type packetEvent struct {
	p   dhcp4.DHCP4
	err error
}

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

func (s *Server) listen() (socket, error) {
	l, err := s.transport.Listen()
	if err != nil {
		return socket{}, fmt.Errorf("listen nic=%s: %w", s.cfg.Interface, err)
	}
	sock := socket{l: l, packets: make(chan packetEvent), stop: make(chan struct{})}
	go reader(l, sock.packets, sock.stop)
	return sock, nil
}

// Run serves requests until SIGTERM or ctx is cancelled. The lease file is
// written every auto_time seconds, on SIGUSR1 and before returning. A read
// error reopens the socket.
func (s *Server) Run(ctx context.Context, signals <-chan os.Signal) error {
	sock, err := s.listen()
	if err != nil {
		return err
	}
	defer func() { sock.close() }()
	Logger.Msg("server started").Struct(s.nic).IP("start", s.cfg.Start).IP("end", s.cfg.End).Write()

	var autoC <-chan time.Time
	var auto *time.Ticker
	if s.cfg.AutoTime > 0 {
		auto = time.NewTicker(seconds(s.cfg.AutoTime))
		defer auto.Stop()
		autoC = auto.C
	}
	save := func() {
		if err := s.SaveLeases(Now()); err != nil {
			Logger.Msg("failed to save leases").Error("error", err).Write()
		}
	}

	for {
		select {
		case <-ctx.Done():
			save()
			return ctx.Err()

		case sig := <-signals:
			switch pump.ToSignal(sig) {
			case syscall.SIGUSR1:
				Logger.Msg("received SIGUSR1").Write()
				save()
				if auto != nil {
					auto.Reset(seconds(s.cfg.AutoTime))
				}
			case syscall.SIGTERM:
				Logger.Msg("received SIGTERM").Write()
				save()
				return nil
			}

		case ev := <-sock.packets:
			if ev.err != nil {
				Logger.Msg("read error, reopening socket").Error("error", ev.err).Write()
				sock.close()
				if sock, err = s.listen(); err != nil {
					save()
					return err
				}
				continue
			}
			s.HandlePacket(ev.p, Now())

		case <-autoC:
			save()
		}
	}
}
