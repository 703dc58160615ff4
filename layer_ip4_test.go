package udhcp

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ip1 = netip.AddrFrom4([4]byte{192, 168, 0, 1})
	ip2 = netip.AddrFrom4([4]byte{192, 168, 0, 2})
)

func TestIP4Checksum(t *testing.T) {
	// wikipedia example
	// https://en.wikipedia.org/wiki/IPv4_header_checksum
	packet := []byte{0x45, 0x00, 0x00, 0x73, 0, 0, 0x40, 0x00, 0x40, 0x11, 0xb8, 0x61, 0xc0, 0xa8, 0, 0x01, 0xc0, 0xa8, 0, 0xc7}
	if IP4(packet).CalculateChecksum() != 0xb861 {
		t.Errorf("check sum failed %x", IP4(packet).CalculateChecksum())
	}
	if Checksum(packet) != 0 {
		t.Errorf("checksum over valid header got=%x want=0", Checksum(packet))
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{name: "zero even", data: make([]byte, 20), want: 0xffff},
		{name: "zero odd", data: make([]byte, 7), want: 0xffff},
		{name: "empty", data: []byte{}, want: 0xffff},
		{name: "odd trailing byte", data: []byte{0x01}, want: ^uint16(0x0100)},
		{name: "carry", data: []byte{0xff, 0xff, 0x00, 0x01}, want: ^uint16(0x0001)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum() invalid got=%x want=%x", got, tt.want)
			}
		})
	}
}

func TestChecksum_Verify(t *testing.T) {
	buf := []byte{0x12, 0x34, 0, 0, 0xab, 0xcd, 0xef, 0x01, 0x99}
	cs := Checksum(buf)
	buf[2], buf[3] = byte(cs>>8), byte(cs)
	if got := Checksum(buf); got != 0 {
		t.Errorf("Checksum() verify invalid got=%x want=0", got)
	}
}

func TestIP4_IsValid(t *testing.T) {
	b := make([]byte, 100)
	ip := EncodeIP4(b, DefaultTTL, ip1, ip2)
	ip, _ = ip.AppendPayload([]byte{1, 2, 3, 4}, 17)

	tests := []struct {
		name    string
		p       IP4
		wantErr error
	}{
		{name: "valid", p: ip, wantErr: nil},
		{name: "short", p: ip[:10], wantErr: ErrFrameLen},
		{name: "truncated payload", p: ip[:21], wantErr: ErrFrameLen},
		{name: "version", p: IP4(append([]byte{0x65}, ip[1:]...)), wantErr: ErrParseFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.IsValid(); !errors.Is(err, tt.wantErr) {
				t.Errorf("IP4.IsValid() invalid error got=%v want=%v", err, tt.wantErr)
			}
		})
	}
}

// the encoded frame must match what gopacket serializes with computed checksums
func TestEncodeIP4UDP_gopacket(t *testing.T) {
	payload := []byte("a dhcp payload of odd len")
	src := IP4Zero
	dst := IP4Broadcast

	b := make([]byte, 1500)
	ip := EncodeIP4(b, DefaultTTL, src, dst)
	udp := EncodeUDP(ip[len(ip):cap(ip)], ClientPort, ServerPort)
	udp, err := udp.AppendPayload(payload)
	if err != nil {
		t.Fatal(err)
	}
	udp.SetChecksum(src, dst)
	ip, err = ip.AppendPayload(udp, 17)
	if err != nil {
		t.Fatal(err)
	}

	ipl := &layers.IPv4{Version: 4, TTL: DefaultTTL, Protocol: layers.IPProtocolUDP, SrcIP: net.IPv4zero.To4(), DstIP: net.IPv4bcast.To4()}
	udpl := &layers.UDP{SrcPort: ClientPort, DstPort: ServerPort}
	udpl.SetNetworkLayerForChecksum(ipl)
	sb := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(sb, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ipl, udpl, gopacket.Payload(payload)); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ip, sb.Bytes()) {
		t.Errorf("encode invalid\n got=% x\nwant=% x", []byte(ip), sb.Bytes())
	}

	if err := ip.IsValid(); err != nil {
		t.Errorf("IsValid() unexpected error %s", err)
	}
	if !UDP(ip.Payload()).VerifyChecksum(src, dst) {
		t.Errorf("VerifyChecksum() failed")
	}
	if !bytes.Equal(UDP(ip.Payload()).Payload(), payload) {
		t.Errorf("payload invalid")
	}
}

func TestUDP_IsValid(t *testing.T) {
	udp := EncodeUDP(make([]byte, 20), 1, 2)
	udp, _ = udp.AppendPayload([]byte{1, 2, 3})
	if err := udp.IsValid(); err != nil {
		t.Fatalf("IsValid() unexpected err %s", err)
	}
	if err := UDP(udp[:9]).IsValid(); !errors.Is(err, ErrFrameLen) {
		t.Errorf("IsValid() truncated got=%v want=%v", err, ErrFrameLen)
	}
	if err := UDP(udp[:4]).IsValid(); !errors.Is(err, ErrFrameLen) {
		t.Errorf("IsValid() short got=%v want=%v", err, ErrFrameLen)
	}
}
