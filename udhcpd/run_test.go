package udhcpd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/pump"
)

func TestRun(t *testing.T) {
	cfg := testConfig()
	cfg.LeaseFile = filepath.Join(t.TempDir(), "udhcpd.leases")
	s, tr := newTestServer(t, cfg)

	sigs := pump.NewPipe()
	replies := make(chan sentPacket, 4)
	tr.onSend = func(s sentPacket) { replies <- s }

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), sigs.C()) }()

	tr.inbound <- clientPacket(dhcp4.Discover, mac1)
	select {
	case r := <-replies:
		if r.p.MessageType() != dhcp4.Offer || r.p.YIAddr() != ip10 {
			t.Errorf("Run() invalid reply got=%s", r.p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() no reply to discover")
	}

	sigs.Inject(syscall.SIGTERM)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() invalid error got=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop on SIGTERM")
	}

	f, err := os.Open(cfg.LeaseFile)
	if err != nil {
		t.Fatal("lease file not written on exit", err)
	}
	defer f.Close()
	if _, records, err := ReadLeaseFile(f); err != nil || len(records) != 1 || records[0].IP != ip10 {
		t.Errorf("lease file invalid records=%v err=%v", records, err)
	}
}

func TestRun_SaveOnSignal(t *testing.T) {
	cfg := testConfig()
	cfg.LeaseFile = filepath.Join(t.TempDir(), "udhcpd.leases")
	s, _ := newTestServer(t, cfg)

	sigs := pump.NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, sigs.C()) }()

	sigs.Inject(syscall.SIGUSR1)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(cfg.LeaseFile); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lease file not written on SIGUSR1")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() invalid error got=%v want=%v", err, context.Canceled)
	}
}
