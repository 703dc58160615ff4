package dhcp4

import (
	"bytes"
	"testing"
)

func TestOption_ParseFormat(t *testing.T) {
	tests := []struct {
		name   string
		option string
		values []string
		wire   []byte
		format string
	}{
		{name: "subnet", option: "subnet", values: []string{"255.255.255.0"}, wire: []byte{255, 255, 255, 0}, format: "255.255.255.0"},
		{name: "dns list", option: "dns", values: []string{"8.8.8.8", "1.1.1.1"}, wire: []byte{8, 8, 8, 8, 1, 1, 1, 1}, format: "8.8.8.8 1.1.1.1"},
		{name: "lease", option: "lease", values: []string{"864000"}, wire: []byte{0, 0x0d, 0x2f, 0}, format: "864000"},
		{name: "mtu", option: "mtu", values: []string{"1500"}, wire: []byte{0x05, 0xdc}, format: "1500"},
		{name: "timezone negative", option: "timezone", values: []string{"-3600"}, wire: []byte{0xff, 0xff, 0xf1, 0xf0}, format: "-3600"},
		{name: "ttl", option: "ipttl", values: []string{"64"}, wire: []byte{64}, format: "64"},
		{name: "domain", option: "domain", values: []string{"local"}, wire: []byte("local"), format: "local"},
		{name: "message joins words", option: "message", values: []string{"hello", "world"}, wire: []byte("hello world"), format: "hello world"},
		{name: "search", option: "search", values: []string{"a.lan", "b.lan"}, wire: []byte("\x01a\x03lan\x00\x01b\xc0\x02"), format: "a.lan b.lan"},
		{name: "staticroutes", option: "staticroutes", values: []string{"10.0.0.0/8", "192.168.0.1"}, wire: []byte{8, 10, 192, 168, 0, 1}, format: "10.0.0.0/8 192.168.0.1"},
		{name: "routes pair", option: "routes", values: []string{"10.0.0.1", "192.168.0.1"}, wire: []byte{10, 0, 0, 1, 192, 168, 0, 1}, format: "10.0.0.1/192.168.0.1"},
		{name: "clientid hex", option: "clientid", values: []string{"01:00:02:03:04:05:01"}, wire: []byte{1, 0, 2, 3, 4, 5, 1}, format: "01000203040501"},
		{name: "numeric code", option: "0xe0", values: []string{"abcd"}, wire: []byte{0xab, 0xcd}, format: "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, ok := OptionByName(tt.option)
			if !ok {
				t.Fatalf("OptionByName(%s) not found", tt.option)
			}
			wire, err := o.Parse(tt.values)
			if err != nil {
				t.Fatalf("Parse() error %s", err)
			}
			if !bytes.Equal(wire, tt.wire) {
				t.Errorf("Parse() invalid got=% x want=% x", wire, tt.wire)
			}
			s, err := o.Format(wire)
			if err != nil {
				t.Fatalf("Format() error %s", err)
			}
			if s != tt.format {
				t.Errorf("Format() invalid got=%q want=%q", s, tt.format)
			}
		})
	}
}

func TestOption_ParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		option string
		values []string
	}{
		{name: "no value", option: "dns", values: nil},
		{name: "bad ip", option: "router", values: []string{"10.0.0"}},
		{name: "ipv6", option: "router", values: []string{"::1"}},
		{name: "single value option", option: "subnet", values: []string{"255.0.0.0", "255.255.0.0"}},
		{name: "overflow u8", option: "ipttl", values: []string{"256"}},
		{name: "bad number", option: "lease", values: []string{"ten"}},
		{name: "odd pairs", option: "routes", values: []string{"10.0.0.1"}},
		{name: "bad hex", option: "clientid", values: []string{"zz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := OptionByName(tt.option)
			if _, err := o.Parse(tt.values); err == nil {
				t.Errorf("Parse() expected error")
			}
		})
	}
}

func TestOption_FormatErrors(t *testing.T) {
	subnet := OptionByCode(OptionSubnetMask)
	if _, err := subnet.Format([]byte{1, 2, 3}); err == nil {
		t.Errorf("Format() short ip expected error")
	}
	if _, err := subnet.Format([]byte{1, 2, 3, 4, 5, 6, 7, 8}); err == nil {
		t.Errorf("Format() list on single value expected error")
	}
}

func TestOptionByName(t *testing.T) {
	if _, ok := OptionByName("nosuchoption"); ok {
		t.Errorf("OptionByName() unexpected match")
	}
	if _, ok := OptionByName("255"); ok {
		t.Errorf("OptionByName() END must not be an option")
	}
	if o, ok := OptionByName("DNS"); !ok || o.Code != OptionDomainNameServer {
		t.Errorf("OptionByName() case insensitive failed")
	}
	if o := OptionByCode(OptionCode(224)); o.Name != "opt224" || o.Type != TypeBinary {
		t.Errorf("OptionByCode() unknown invalid got=%+v", o)
	}
}

func TestRequestList(t *testing.T) {
	list := RequestList()
	for _, code := range []OptionCode{OptionSubnetMask, OptionRouter, OptionDomainNameServer, OptionDomainSearch} {
		if bytes.IndexByte(list, byte(code)) < 0 {
			t.Errorf("RequestList() missing %d", code)
		}
	}
	if bytes.IndexByte(list, byte(OptionIPAddressLeaseTime)) >= 0 {
		t.Errorf("RequestList() must not contain lease")
	}
}
