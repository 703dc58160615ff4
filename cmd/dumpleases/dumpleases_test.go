package main

import (
	"bytes"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irai/udhcp/udhcpd"
)

func TestDump(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	records := []udhcpd.LeaseRecord{
		{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, IP: netip.MustParseAddr("10.0.0.10"), Expires: 90061},
		{IP: netip.MustParseAddr("10.0.0.11"), Expires: 60},
	}
	tests := []struct {
		name           string
		records        []udhcpd.LeaseRecord
		now            time.Time
		storedAbsolute bool
		want           string
	}{
		{name: "remaining", records: records, now: t0, want: "" +
			"Mac Address       IP Address      Expires in\n" +
			"02:00:00:00:00:01 10.0.0.10       1 days 01:01:01\n" +
			"00:00:00:00:00:00 10.0.0.11       00:01:00\n"},
		{name: "aged", records: records, now: t0.Add(2 * time.Minute), want: "" +
			"Mac Address       IP Address      Expires in\n" +
			"02:00:00:00:00:01 10.0.0.10       1 days 00:59:01\n" +
			"00:00:00:00:00:00 10.0.0.11       expired\n"},
		{name: "stored absolute", now: t0, storedAbsolute: true,
			records: []udhcpd.LeaseRecord{{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, IP: netip.MustParseAddr("10.0.0.10"), Expires: uint32(t0.Add(time.Hour).Unix())}},
			want: "" +
				"Mac Address       IP Address      Expires in\n" +
				"02:00:00:00:00:01 10.0.0.10       01:00:00\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			dump(&buf, t0, tt.records, tt.now, tt.storedAbsolute, false)
			if diff := cmp.Diff(tt.want, buf.String()); diff != "" {
				t.Errorf("dump() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
