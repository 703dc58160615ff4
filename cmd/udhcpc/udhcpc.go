// Command udhcpc is a small DHCP client.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/arp"
	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/internal/cli"
	"github.com/irai/udhcp/pump"
	"github.com/irai/udhcp/udhcpc"
	"github.com/spf13/cobra"
)

type flags struct {
	nic        string
	clientID   string
	noClientID bool
	vendor     string
	hostname   string
	fqdn       string
	script     string
	pidFile    string
	requested  string
	options    []string
	noDefaults bool
	retries    int
	timeout    int
	tryAgain   int
	foreground bool
	background bool
	quit       bool
	abort      bool
	release    bool
	broadcast  bool
	arpCheck   bool
	syslog     bool
	level      string
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:          "udhcpc",
		Short:        "DHCP client",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&f.nic, "interface", "i", "eth0", "interface to use")
	root.Flags().StringVarP(&f.clientID, "clientid", "c", "", "client identifier")
	root.Flags().BoolVarP(&f.noClientID, "clientid-none", "C", false, "do not send a client identifier")
	root.Flags().StringVarP(&f.vendor, "vendorclass", "V", udhcpc.DefaultVendor, "vendor class identifier")
	root.Flags().StringVarP(&f.hostname, "hostname", "H", "", "send hostname to the server")
	root.Flags().StringVarP(&f.fqdn, "fqdn", "F", "", "ask the server to update dns for this name")
	root.Flags().StringVarP(&f.script, "script", "s", udhcpc.DefaultScript, "script run on lease changes")
	root.Flags().StringVarP(&f.pidFile, "pidfile", "p", "", "create pidfile")
	root.Flags().StringVarP(&f.requested, "request", "r", "", "ip address to request")
	root.Flags().StringSliceVarP(&f.options, "request-option", "O", nil, "request option by name or number")
	root.Flags().BoolVarP(&f.noDefaults, "no-default-options", "o", false, "do not request the default options")
	root.Flags().IntVarP(&f.retries, "retries", "t", udhcpc.DefaultRetries, "send up to N discover packets")
	root.Flags().IntVarP(&f.timeout, "timeout", "T", int(udhcpc.DefaultTimeout/time.Second), "pause between packets in seconds")
	root.Flags().IntVarP(&f.tryAgain, "tryagain", "A", int(udhcpc.DefaultTryAgain/time.Second), "wait seconds after failure")
	root.Flags().BoolVarP(&f.foreground, "foreground", "f", true, "run in foreground (always on)")
	root.Flags().BoolVarP(&f.background, "background", "b", false, "keep running if no lease is obtained")
	root.Flags().BoolVarP(&f.quit, "quit", "q", false, "exit after obtaining a lease")
	root.Flags().BoolVarP(&f.abort, "now", "n", false, "exit if no lease is obtained")
	root.Flags().BoolVarP(&f.release, "release", "R", false, "release the ip on exit")
	root.Flags().BoolVarP(&f.broadcast, "broadcast", "B", false, "request broadcast replies")
	root.Flags().BoolVarP(&f.arpCheck, "arping", "a", false, "use arp to validate the offered address")
	root.Flags().BoolVarP(&f.syslog, "syslog", "S", false, "log to syslog")
	root.Flags().StringVarP(&f.level, "debug", "d", "info", "set to error, info or debug")

	code := 0
	root.RunE = func(cmd *cobra.Command, args []string) (err error) {
		code, err = run(f)
		return err
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(code)
}

func config(f flags) (udhcpc.Config, error) {
	cfg := udhcpc.Defaults()
	cfg.ClientID = f.clientID
	cfg.NoClientID = f.noClientID
	cfg.VendorClass = f.vendor
	cfg.Hostname = f.hostname
	cfg.FQDN = f.fqdn
	cfg.NoDefaultOptions = f.noDefaults
	cfg.Retries = f.retries
	cfg.Timeout = time.Duration(f.timeout) * time.Second
	cfg.TryAgain = time.Duration(f.tryAgain) * time.Second
	cfg.QuitAfterLease = f.quit
	cfg.AbortNoLease = f.abort
	cfg.BackgroundNoLease = f.background
	cfg.ReleaseOnQuit = f.release
	cfg.BroadcastFlag = f.broadcast
	cfg.ARPCheck = f.arpCheck
	if f.requested != "" {
		ip, err := netip.ParseAddr(f.requested)
		if err != nil {
			return cfg, fmt.Errorf("requested ip %q: %w", f.requested, udhcp.ErrInvalidIP)
		}
		cfg.RequestedIP = ip
	}
	for _, name := range f.options {
		o, ok := dhcp4.OptionByName(name)
		if !ok {
			return cfg, fmt.Errorf("option %q: %w", name, udhcp.ErrInvalidParam)
		}
		cfg.ExtraOptions = append(cfg.ExtraOptions, o.Code)
	}
	return cfg, nil
}

func run(f flags) (int, error) {
	cli.SetLogLevel(f.level)
	if f.syslog {
		if err := cli.UseSyslog("udhcpc"); err != nil {
			return 1, err
		}
	}

	cfg, err := config(f)
	if err != nil {
		return 1, err
	}
	if cfg.NIC, err = udhcp.GetNICInfo(f.nic); err != nil {
		return 1, err
	}

	if err := udhcp.WritePidFile(f.pidFile); err != nil {
		return 1, err
	}
	defer udhcp.RemovePidFile(f.pidFile)

	hook := udhcpc.ScriptHook{Path: f.script, Interface: cfg.NIC.Name}
	client, err := udhcpc.New(cfg, udhcpc.LinkTransport{NIC: cfg.NIC}, hook)
	if err != nil {
		return 1, err
	}
	if cfg.ARPCheck {
		client.SetProber(arp.Prober{NIC: cfg.NIC})
	}

	sigs := pump.New()
	defer sigs.Close()
	return client.Run(context.Background(), sigs.C())
}
