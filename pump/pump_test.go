package pump

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestPump_Inject(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if got := p.Read(); got != 0 {
		t.Fatalf("Read() invalid got=%v want=0", got)
	}
	p.Inject(syscall.SIGUSR1)
	p.Inject(syscall.SIGTERM)
	if got := p.Read(); got != syscall.SIGUSR1 {
		t.Errorf("Read() invalid got=%v want=%v", got, syscall.SIGUSR1)
	}
	if got := p.Read(); got != syscall.SIGTERM {
		t.Errorf("Read() invalid got=%v want=%v", got, syscall.SIGTERM)
	}
	if got := p.Read(); got != 0 {
		t.Errorf("Read() invalid got=%v want=0", got)
	}
}

func TestPump_Full(t *testing.T) {
	p := NewPipe()
	for i := 0; i < queueLen; i++ {
		if !p.Inject(syscall.SIGUSR2) {
			t.Fatalf("Inject() failed at %d", i)
		}
	}
	if p.Inject(syscall.SIGUSR2) {
		t.Error("Inject() expected false on full queue")
	}
}

func TestPump_OSSignal(t *testing.T) {
	p := New(syscall.SIGUSR1)
	defer p.Close()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Skip("cannot signal self", err)
	}
	select {
	case sig := <-p.C():
		if ToSignal(sig) != syscall.SIGUSR1 {
			t.Errorf("signal invalid got=%v want=%v", sig, syscall.SIGUSR1)
		}
	case <-time.After(2 * time.Second):
		t.Error("signal not delivered")
	}
}

func TestToSignal(t *testing.T) {
	if got := ToSignal(os.Interrupt); got != syscall.SIGINT {
		t.Errorf("ToSignal() invalid got=%v want=%v", got, syscall.SIGINT)
	}
}
