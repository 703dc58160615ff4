package main

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
)

func TestConfig(t *testing.T) {
	f := flags{
		vendor:    "test",
		hostname:  "box",
		requested: "10.0.0.10",
		options:   []string{"ntpsrv", "42", "0x79"},
		retries:   5,
		timeout:   2,
		tryAgain:  20,
		quit:      true,
	}
	cfg, err := config(f)
	if err != nil {
		t.Fatal("config() failed", err)
	}
	if cfg.RequestedIP != netip.MustParseAddr("10.0.0.10") {
		t.Errorf("config() invalid requested ip got=%s", cfg.RequestedIP)
	}
	if cfg.Timeout != 2*time.Second || cfg.TryAgain != 20*time.Second || cfg.Retries != 5 {
		t.Errorf("config() invalid timers got=%s/%s/%d", cfg.Timeout, cfg.TryAgain, cfg.Retries)
	}
	want := []dhcp4.OptionCode{dhcp4.OptionNTPServers, dhcp4.OptionNTPServers, dhcp4.OptionClasslessRouteFormat}
	if len(cfg.ExtraOptions) != len(want) {
		t.Fatalf("config() invalid options got=%v want=%v", cfg.ExtraOptions, want)
	}
	for i := range want {
		if cfg.ExtraOptions[i] != want[i] {
			t.Errorf("config() invalid option %d got=%v want=%v", i, cfg.ExtraOptions[i], want[i])
		}
	}
	if !cfg.QuitAfterLease || cfg.VendorClass != "test" || cfg.Hostname != "box" {
		t.Errorf("config() invalid flags got=%+v", cfg)
	}

	if _, err := config(flags{requested: "nope"}); !errors.Is(err, udhcp.ErrInvalidIP) {
		t.Errorf("config() invalid error got=%v want=%v", err, udhcp.ErrInvalidIP)
	}
	if _, err := config(flags{options: []string{"nosuch"}}); !errors.Is(err, udhcp.ErrInvalidParam) {
		t.Errorf("config() invalid error got=%v want=%v", err, udhcp.ErrInvalidParam)
	}
}
