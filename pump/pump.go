// Package pump delivers asynchronous process signals to the dhcp event loop.
//
// Signals arrive on a buffered channel that the loop selects on together
// with the socket reader and the wake up timer, so a signal is handled
// between two packets and never in the middle of one.
package pump

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/irai/udhcp/fastlog"
)

const module = "pump"

// Logger is the package logger
var Logger = fastlog.New(module)

// queueLen is the number of undelivered signals kept; more are dropped.
const queueLen = 8

// Signals handled by the dhcp daemons
var Signals = []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM}

// Pump queues received signals.
type Pump struct {
	ch     chan os.Signal
	notify bool
}

// New returns a pump registered for sigs; with no arguments it registers Signals.
func New(sigs ...os.Signal) *Pump {
	if len(sigs) == 0 {
		sigs = Signals
	}
	p := &Pump{ch: make(chan os.Signal, queueLen), notify: true}
	signal.Notify(p.ch, sigs...)
	return p
}

// NewPipe returns a pump that is not registered with the os; signals are
// only delivered with Inject.
func NewPipe() *Pump {
	return &Pump{ch: make(chan os.Signal, queueLen)}
}

// C returns the channel the event loop selects on.
func (p *Pump) C() <-chan os.Signal {
	return p.ch
}

// Read returns the next queued signal without blocking, or 0 if none is queued.
func (p *Pump) Read() syscall.Signal {
	select {
	case sig := <-p.ch:
		return ToSignal(sig)
	default:
		return 0
	}
}

// Inject queues sig as if it had been received from the os.
// It returns false if the queue is full.
func (p *Pump) Inject(sig os.Signal) bool {
	select {
	case p.ch <- sig:
		return true
	default:
		Logger.Msg("signal queue full").String("signal", sig.String()).Write()
		return false
	}
}

// Close stops signal delivery.
func (p *Pump) Close() {
	if p.notify {
		signal.Stop(p.ch)
	}
}

// ToSignal converts an os.Signal to its number; unknown implementations map to 0.
func ToSignal(sig os.Signal) syscall.Signal {
	if s, ok := sig.(syscall.Signal); ok {
		return s
	}
	return 0
}
