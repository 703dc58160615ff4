package dhcp4

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/irai/udhcp/fastlog"
)

const module = "dhcp4"

// Logger is the package logger.
var Logger = fastlog.New(module)

var (
	ErrNoSpace   = errors.New("no space left in options")
	ErrMalformed = errors.New("malformed options")
	ErrOptionLen = errors.New("invalid option len")
)

type OptionCode byte

// DHCP Options
// see complete list here: https://www.iana.org/assignments/bootp-dhcp-parameters/bootp-dhcp-parameters.xhtml
const (
	Pad                          OptionCode = 0
	OptionSubnetMask             OptionCode = 1
	OptionTimeOffset             OptionCode = 2
	OptionRouter                 OptionCode = 3
	OptionTimeServer             OptionCode = 4
	OptionNameServer             OptionCode = 5
	OptionDomainNameServer       OptionCode = 6
	OptionLogServer              OptionCode = 7
	OptionCookieServer           OptionCode = 8
	OptionLPRServer              OptionCode = 9
	OptionHostName               OptionCode = 12
	OptionBootFileSize           OptionCode = 13
	OptionDomainName             OptionCode = 15
	OptionSwapServer             OptionCode = 16
	OptionRootPath               OptionCode = 17
	OptionDefaultIPTimeToLive    OptionCode = 23
	OptionInterfaceMTU           OptionCode = 26
	OptionBroadcastAddress       OptionCode = 28
	OptionStaticRoute            OptionCode = 33
	OptionNISDomain              OptionCode = 40
	OptionNISServers             OptionCode = 41
	OptionNTPServers             OptionCode = 42
	OptionVendorSpecific         OptionCode = 43
	OptionNetBIOSNameServer      OptionCode = 44
	OptionRequestedIPAddress     OptionCode = 50 // DHCP Extensions
	OptionIPAddressLeaseTime     OptionCode = 51
	OptionOverload               OptionCode = 52
	OptionDHCPMessageType        OptionCode = 53
	OptionServerIdentifier       OptionCode = 54
	OptionParameterRequestList   OptionCode = 55
	OptionMessage                OptionCode = 56
	OptionMaximumDHCPMessageSize OptionCode = 57
	OptionRenewalTimeValue       OptionCode = 58
	OptionRebindingTimeValue     OptionCode = 59
	OptionVendorClassIdentifier  OptionCode = 60
	OptionClientIdentifier       OptionCode = 61
	OptionTFTPServerName         OptionCode = 66
	OptionBootFileName           OptionCode = 67
	OptionUserClass              OptionCode = 77
	OptionFQDN                   OptionCode = 81
	OptionRelayAgentInformation  OptionCode = 82
	OptionTZPOSIXString          OptionCode = 100
	OptionTZDatabaseString       OptionCode = 101
	OptionDomainSearch           OptionCode = 119
	OptionClasslessRouteFormat   OptionCode = 121
	OptionMSClasslessRouteFormat OptionCode = 249
	OptionWebProxyAutoDiscovery  OptionCode = 252
	End                          OptionCode = 255
)

// OptionOverload values
const (
	OverloadFile  = 1
	OverloadSName = 2
)

// ScanOptions walks the option TLVs as one logical stream: the options field,
// then file and sname when the options field carries OptionOverload.
// fn returns false to stop. A length running past its buffer returns
// ErrMalformed; PAD is skipped and END or the buffer end closes a segment.
func (p DHCP4) ScanOptions(fn func(code OptionCode, value []byte) bool) error {
	if len(p) < MinLen {
		return ErrMalformed
	}
	var segs [3][]byte
	segs[0] = p.Options()
	n := 1
	var overload byte
	for i := 0; i < n; i++ {
		b := segs[i]
	scan:
		for pos := 0; pos < len(b); {
			switch OptionCode(b[pos]) {
			case Pad:
				pos++
				continue
			case End:
				break scan
			}
			if pos+2 > len(b) {
				return ErrMalformed
			}
			l := int(b[pos+1])
			if pos+2+l > len(b) {
				return ErrMalformed
			}
			code, value := OptionCode(b[pos]), b[pos+2:pos+2+l]
			if i == 0 && code == OptionOverload && l == 1 {
				overload = value[0]
			}
			if !fn(code, value) {
				return nil
			}
			pos += 2 + l
		}
		if i == 0 {
			if overload&OverloadFile != 0 {
				segs[n] = p.File()
				n++
			}
			if overload&OverloadSName != 0 {
				segs[n] = p.SName()
				n++
			}
		}
	}
	return nil
}

// GetOption returns the value of code or nil when absent or when the options
// are malformed. Repeated occurrences are concatenated (RFC 3396).
func (p DHCP4) GetOption(code OptionCode) []byte {
	var value []byte
	count := 0
	err := p.ScanOptions(func(c OptionCode, v []byte) bool {
		if c != code {
			return true
		}
		switch count {
		case 0:
			value = v
		case 1:
			value = append(append(make([]byte, 0, len(value)+len(v)), value...), v...)
		default:
			value = append(value, v...)
		}
		count++
		return true
	})
	if err != nil {
		if Logger.IsDebug() {
			Logger.Msg("bad options").Uint8("code", uint8(code)).Error("error", err).Write()
		}
		return nil
	}
	return value
}

// ParseOptions returns all options keyed by code; repeated codes are concatenated.
// Values for single occurrences point into p.
func (p DHCP4) ParseOptions() (map[OptionCode][]byte, error) {
	options := make(map[OptionCode][]byte, 16)
	seen := make(map[OptionCode]int, 16)
	err := p.ScanOptions(func(c OptionCode, v []byte) bool {
		switch seen[c] {
		case 0:
			options[c] = v
		case 1:
			options[c] = append(append(make([]byte, 0, len(options[c])+len(v)), options[c]...), v...)
		default:
			options[c] = append(options[c], v...)
		}
		seen[c]++
		return true
	})
	if err != nil {
		return nil, err
	}
	return options, nil
}

// MessageType returns the value of option 53 or zero.
func (p DHCP4) MessageType() MessageType {
	if v := p.GetOption(OptionDHCPMessageType); len(v) == 1 {
		return MessageType(v[0])
	}
	return 0
}

// GetIP returns a four byte option as an address.
func (p DHCP4) GetIP(code OptionCode) (netip.Addr, bool) {
	v := p.GetOption(code)
	if len(v) != 4 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4(*(*[4]byte)(v)), true
}

// GetUint32 returns a four byte option in host order.
func (p DHCP4) GetUint32(code OptionCode) (uint32, bool) {
	v := p.GetOption(code)
	if len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// options buffer limited to the fixed options field
func (p DHCP4) optionsBuf() []byte {
	b := p.Options()
	if len(b) > OptionsLen {
		b = b[:OptionsLen]
	}
	return b
}

// endOption returns the index of END in b or -1.
func endOption(b []byte) int {
	for i := 0; i < len(b); {
		switch OptionCode(b[i]) {
		case End:
			return i
		case Pad:
			i++
		default:
			if i+1 >= len(b) {
				return -1
			}
			i += 2 + int(b[i+1])
		}
	}
	return -1
}

// OptionsEnd returns the number of option bytes in use, END included, or -1
// when the options field is not terminated.
func (p DHCP4) OptionsEnd() int {
	if end := endOption(p.optionsBuf()); end >= 0 {
		return end + 1
	}
	return -1
}

// AddOptionString appends a pre-built code,len,value option before END.
// It returns the bytes written or ErrNoSpace when the option and END would
// not fit in the options field.
func (p DHCP4) AddOptionString(opt []byte) (int, error) {
	if len(opt) < 2 || int(opt[1])+2 != len(opt) {
		return 0, ErrOptionLen
	}
	if code := OptionCode(opt[0]); code == Pad || code == End {
		return 0, ErrOptionLen
	}
	b := p.optionsBuf()
	end := endOption(b)
	if end < 0 || end+len(opt)+1 > len(b) {
		Logger.Msg("option did not fit into the packet").Uint8("code", opt[0]).Int("len", len(opt)).Write()
		return 0, ErrNoSpace
	}
	copy(b[end:], opt)
	b[end+len(opt)] = byte(End)
	return len(opt), nil
}

// AddOption appends code with value.
func (p DHCP4) AddOption(code OptionCode, value []byte) error {
	if len(value) > 255 {
		return ErrOptionLen
	}
	var buf [257]byte
	buf[0] = byte(code)
	buf[1] = byte(len(value))
	n := copy(buf[2:], value)
	_, err := p.AddOptionString(buf[:2+n])
	return err
}

// AddLongOption splits value into as many 255 byte options as needed (RFC 3396).
// Nothing is written when the whole value does not fit.
func (p DHCP4) AddLongOption(code OptionCode, value []byte) error {
	chunks := (len(value) + 254) / 255
	if chunks == 0 {
		chunks = 1
	}
	b := p.optionsBuf()
	end := endOption(b)
	if end < 0 || end+len(value)+2*chunks+1 > len(b) {
		return ErrNoSpace
	}
	for len(value) > 255 {
		if err := p.AddOption(code, value[:255]); err != nil {
			return err
		}
		value = value[255:]
	}
	return p.AddOption(code, value)
}

// AddSimpleOption appends a numeric option in network byte order; the option
// width comes from the option table and defaults to four bytes.
func (p DHCP4) AddSimpleOption(code OptionCode, value uint32) error {
	var buf [4]byte
	switch OptionByCode(code).Type.size() {
	case 1:
		buf[0] = byte(value)
		return p.AddOption(code, buf[:1])
	case 2:
		binary.BigEndian.PutUint16(buf[:2], uint16(value))
		return p.AddOption(code, buf[:2])
	}
	binary.BigEndian.PutUint32(buf[:], value)
	return p.AddOption(code, buf[:])
}

// AddIP appends a four byte address option.
func (p DHCP4) AddIP(code OptionCode, ip netip.Addr) error {
	a := ip.As4()
	return p.AddOption(code, a[:])
}
