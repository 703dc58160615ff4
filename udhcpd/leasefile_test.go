package udhcpd

import (
	"bytes"
	"encoding/binary"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irai/udhcp/dhcp4"
)

func TestWriteLeaseFile(t *testing.T) {
	records := []LeaseRecord{
		{MAC: mac1, IP: ip10, Expires: 3600},
		{IP: ip11, Expires: 60},
	}
	var buf bytes.Buffer
	if err := WriteLeaseFile(&buf, t0, records); err != nil {
		t.Fatal("WriteLeaseFile() failed", err)
	}
	b := buf.Bytes()
	if len(b) != leaseFileHeaderLen+2*leaseRecordLen {
		t.Fatalf("WriteLeaseFile() invalid len got=%d want=%d", len(b), leaseFileHeaderLen+2*leaseRecordLen)
	}
	if got := binary.BigEndian.Uint64(b); got != uint64(t0.Unix()) {
		t.Errorf("WriteLeaseFile() invalid header got=%d want=%d", got, t0.Unix())
	}
	rec := b[leaseFileHeaderLen : leaseFileHeaderLen+leaseRecordLen]
	want := []byte{
		0x02, 0, 0, 0, 0, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // chaddr
		10, 0, 0, 10, // yiaddr
		0, 0, 0x0e, 0x10, // 3600
	}
	if !bytes.Equal(rec, want) {
		t.Errorf("WriteLeaseFile() invalid record got=% x want=% x", rec, want)
	}

	// a truncated trailing record is ignored
	b = append(b, 1, 2, 3)
	writtenAt, got, err := ReadLeaseFile(bytes.NewReader(b))
	if err != nil {
		t.Fatal("ReadLeaseFile() failed", err)
	}
	if !writtenAt.Equal(t0) {
		t.Errorf("ReadLeaseFile() invalid time got=%s want=%s", writtenAt, t0)
	}
	if diff := cmp.Diff(records, got, cmpAddr); diff != "" {
		t.Errorf("ReadLeaseFile() mismatch (-want +got):\n%s", diff)
	}

	if _, _, err := ReadLeaseFile(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Error("ReadLeaseFile() expected error for short header")
	}
}

func TestServer_SaveLoadLeases(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.LeaseFile = filepath.Join(dir, "udhcpd.leases")
	cfg.DeclineTime = 600

	s, tr := newTestServer(t, cfg)
	bind(t, s, tr, mac1, t0)
	bind(t, s, tr, mac2, t0)
	s.HandlePacket(clientPacket(dhcp4.Decline, mac2, withRequested(ip11)), t0)
	if err := s.SaveLeases(t0); err != nil {
		t.Fatal("SaveLeases() failed", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want []Lease
	}{
		{name: "aged", now: t0.Add(100 * time.Second), want: []Lease{
			{MAC: mac1, IP: ip10, Expires: t0.Add(100 * time.Second).Add(3500 * time.Second)},
			{IP: ip11, Expires: t0.Add(100 * time.Second).Add(500 * time.Second)},
		}},
		{name: "declined expired", now: t0.Add(700 * time.Second), want: []Lease{
			{MAC: mac1, IP: ip10, Expires: t0.Add(700 * time.Second).Add(2900 * time.Second)},
		}},
		// an old file is loaded without ageing
		{name: "stale file", now: t0.Add(13 * time.Hour), want: []Lease{
			{MAC: mac1, IP: ip10, Expires: t0.Add(13 * time.Hour).Add(3600 * time.Second)},
			{IP: ip11, Expires: t0.Add(13 * time.Hour).Add(600 * time.Second)},
		}},
		{name: "clock went back", now: t0.Add(-time.Hour), want: []Lease{
			{MAC: mac1, IP: ip10, Expires: t0.Add(-time.Hour).Add(3600 * time.Second)},
			{IP: ip11, Expires: t0.Add(-time.Hour).Add(600 * time.Second)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s2, _ := newTestServer(t, cfg)
			if err := s2.LoadLeases(tt.now); err != nil {
				t.Fatal("LoadLeases() failed", err)
			}
			if diff := cmp.Diff(tt.want, s2.Leases(tt.now), cmpAddr); diff != "" {
				t.Errorf("LoadLeases() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestServer_LoadLeasesFiltered(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.LeaseFile = filepath.Join(dir, "udhcpd.leases")
	cfg.End = netip.MustParseAddr("10.0.0.12") // three addresses
	cfg.StaticLeases = []StaticLease{{MAC: mac3, IP: netip.MustParseAddr("10.0.0.12")}}

	records := []LeaseRecord{
		{MAC: mac1, IP: netip.MustParseAddr("192.168.1.5"), Expires: 100}, // out of pool
		{MAC: mac2, IP: ip10, Expires: 0},                                 // expired
		{MAC: mac3, IP: ip11, Expires: 100},                               // static client
		{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 4}, IP: netip.MustParseAddr("10.0.0.12"), Expires: 100}, // static address
		{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 5}, IP: ip11, Expires: 100},
		{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 6}, IP: ip10, Expires: 100},
		{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 7}, IP: netip.MustParseAddr("10.0.0.12"), Expires: 100},
	}
	var buf bytes.Buffer
	if err := WriteLeaseFile(&buf, t0, records); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.LeaseFile, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	s, _ := newTestServer(t, cfg)
	if err := s.LoadLeases(t0); err != nil {
		t.Fatal("LoadLeases() failed", err)
	}
	want := []Lease{
		{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 5}, IP: ip11, Expires: t0.Add(100 * time.Second)},
		{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 6}, IP: ip10, Expires: t0.Add(100 * time.Second)},
	}
	if diff := cmp.Diff(want, s.Leases(t0), cmpAddr); diff != "" {
		t.Errorf("LoadLeases() mismatch (-want +got):\n%s", diff)
	}

	// a missing file is not an error
	cfg.LeaseFile = filepath.Join(dir, "missing")
	s, _ = newTestServer(t, cfg)
	if err := s.LoadLeases(t0); err != nil {
		t.Errorf("LoadLeases() missing file got=%v", err)
	}
}

func TestServer_SaveAbsolute(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.LeaseFile = filepath.Join(dir, "udhcpd.leases")
	cfg.Remaining = false
	s, tr := newTestServer(t, cfg)
	bind(t, s, tr, mac1, t0)
	if err := s.SaveLeases(t0); err != nil {
		t.Fatal("SaveLeases() failed", err)
	}
	f, err := os.Open(cfg.LeaseFile)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	_, records, err := ReadLeaseFile(f)
	if err != nil || len(records) != 1 {
		t.Fatalf("ReadLeaseFile() invalid records=%v err=%v", records, err)
	}
	if got, want := records[0].Expires, uint32(t0.Add(time.Hour).Unix()); got != want {
		t.Errorf("SaveLeases() invalid absolute expiry got=%d want=%d", got, want)
	}

	s2, _ := newTestServer(t, cfg)
	if err := s2.LoadLeases(t0.Add(time.Minute)); err != nil {
		t.Fatal("LoadLeases() failed", err)
	}
	if l, ok := s2.Lease(mac1, t0.Add(time.Minute)); !ok || !l.Expires.Equal(t0.Add(time.Hour)) {
		t.Errorf("LoadLeases() invalid lease got=%v ok=%v", l, ok)
	}
}

func TestServer_NotifyFile(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	script := filepath.Join(dir, "notify.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho \"$1\" > "+out+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.LeaseFile = filepath.Join(dir, "udhcpd.leases")
	cfg.NotifyFile = script
	s, _ := newTestServer(t, cfg)
	if err := s.SaveLeases(t0); err != nil {
		t.Fatal("SaveLeases() failed", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal("notify file did not run", err)
	}
	if got := strings.TrimSpace(string(b)); got != cfg.LeaseFile {
		t.Errorf("notify file invalid argument got=%q want=%q", got, cfg.LeaseFile)
	}
}
