package udhcpc

import (
	"bytes"
	"context"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/irai/udhcp/dhcp4"
)

// Script actions
const (
	ActionDeconfig  = "deconfig"
	ActionBound     = "bound"
	ActionRenew     = "renew"
	ActionNak       = "nak"
	ActionLeasefail = "leasefail"
)

// Hook is told about every state change that affects the interface
// configuration. p is nil for deconfig and leasefail.
type Hook interface {
	Run(action string, p dhcp4.DHCP4)
}

type nopHook struct{}

func (nopHook) Run(string, dhcp4.DHCP4) {}

// ScriptHook runs an external program as "path action" with the lease in
// its environment. It blocks until the program exits or Timeout elapses.
type ScriptHook struct {
	Path      string
	Interface string
	Timeout   time.Duration
}

// Run executes the script; failures are logged only.
func (h ScriptHook) Run(action string, p dhcp4.DHCP4) {
	if h.Path == "" {
		return
	}
	ctx := context.Background()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, h.Path, action)
	cmd.Env = append(os.Environ(), Env(h.Interface, p)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		Logger.Msg("script failed").String("script", h.Path).String("action", action).Error("error", err).Write()
	}
}

// Env returns the script environment for a packet: interface, ip, siaddr,
// sname, boot_file, mask and one variable per known option present.
func Env(ifname string, p dhcp4.DHCP4) []string {
	env := []string{"interface=" + ifname}
	if p == nil || p.IsValid() != nil {
		return env
	}
	env = append(env, "ip="+p.YIAddr().String())
	if siaddr := p.SIAddr(); !siaddr.IsUnspecified() {
		env = append(env, "siaddr="+siaddr.String())
	}

	options, err := p.ParseOptions()
	if err != nil && Logger.IsDebug() {
		Logger.Msg("bad options").Error("error", err).Write()
	}

	var overload byte
	if v := options[dhcp4.OptionOverload]; len(v) == 1 {
		overload = v[0]
	}
	if overload&dhcp4.OverloadFile == 0 {
		if f := cString(p.File()); f != "" {
			env = append(env, "boot_file="+f)
		}
	}
	if overload&dhcp4.OverloadSName == 0 {
		if s := cString(p.SName()); s != "" {
			env = append(env, "sname="+s)
		}
	}

	for _, o := range dhcp4.Options() {
		v, ok := options[o.Code]
		if !ok {
			continue
		}
		value, err := o.Format(v)
		if err != nil {
			if Logger.IsDebug() {
				Logger.Msg("bad option value").String("option", o.Name).Error("error", err).Write()
			}
			continue
		}
		env = append(env, o.Name+"="+value)
		if o.Code == dhcp4.OptionSubnetMask && len(v) == 4 {
			ones, _ := net.IPMask(v).Size()
			env = append(env, "mask="+strconv.Itoa(ones))
		}
	}
	return env
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
