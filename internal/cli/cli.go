// Package cli holds the setup shared by the udhcp commands.
package cli

import (
	"fmt"
	"log/syslog"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/arp"
	"github.com/irai/udhcp/dhcp4"
	"github.com/irai/udhcp/fastlog"
	"github.com/irai/udhcp/pump"
	"github.com/irai/udhcp/raw"
	"github.com/irai/udhcp/udhcpc"
	"github.com/irai/udhcp/udhcpd"
)

// Loggers lists every module logger.
var Loggers = []*fastlog.Logger{
	udhcp.Logger, dhcp4.Logger, raw.Logger, arp.Logger, pump.Logger, udhcpc.Logger, udhcpd.Logger,
}

// SetLogLevel sets level on all module loggers. Valid levels are error, info and debug.
func SetLogLevel(level string) {
	l := fastlog.Str2LogLevel(level)
	for _, logger := range Loggers {
		logger.SetLevel(l)
	}
}

// UseSyslog sends log lines to the local syslog daemon instead of stderr.
// Call it before any goroutine logs.
func UseSyslog(tag string) error {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return fmt.Errorf("syslog: %w", err)
	}
	fastlog.Std.Out = w
	return nil
}
