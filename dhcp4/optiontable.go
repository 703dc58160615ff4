package dhcp4

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// OptionType is the value layout of an option.
type OptionType uint8

const (
	TypeBinary OptionType = iota
	TypeIP
	TypeIPPair
	TypeString
	TypeBool
	TypeU8
	TypeU16
	TypeS16
	TypeU32
	TypeS32
	TypeDomainList
	TypeStaticRoutes
)

// size returns the width of one element for fixed size types.
func (t OptionType) size() int {
	switch t {
	case TypeIP, TypeU32, TypeS32:
		return 4
	case TypeIPPair:
		return 8
	case TypeBool, TypeU8:
		return 1
	case TypeU16, TypeS16:
		return 2
	}
	return 0
}

// Option describes a known option: config and environment name, layout,
// whether it holds a list and whether the client asks for it.
type Option struct {
	Code    OptionCode
	Name    string
	Type    OptionType
	List    bool
	Request bool
}

var optionTable = []Option{
	{Code: OptionSubnetMask, Name: "subnet", Type: TypeIP, Request: true},
	{Code: OptionTimeOffset, Name: "timezone", Type: TypeS32},
	{Code: OptionRouter, Name: "router", Type: TypeIP, List: true, Request: true},
	{Code: OptionTimeServer, Name: "timesrv", Type: TypeIP, List: true},
	{Code: OptionNameServer, Name: "namesrv", Type: TypeIP, List: true},
	{Code: OptionDomainNameServer, Name: "dns", Type: TypeIP, List: true, Request: true},
	{Code: OptionLogServer, Name: "logsrv", Type: TypeIP, List: true},
	{Code: OptionCookieServer, Name: "cookiesrv", Type: TypeIP, List: true},
	{Code: OptionLPRServer, Name: "lprsrv", Type: TypeIP, List: true},
	{Code: OptionHostName, Name: "hostname", Type: TypeString, Request: true},
	{Code: OptionBootFileSize, Name: "bootsize", Type: TypeU16},
	{Code: OptionDomainName, Name: "domain", Type: TypeString, Request: true},
	{Code: OptionSwapServer, Name: "swapsrv", Type: TypeIP},
	{Code: OptionRootPath, Name: "rootpath", Type: TypeString},
	{Code: OptionDefaultIPTimeToLive, Name: "ipttl", Type: TypeU8},
	{Code: OptionInterfaceMTU, Name: "mtu", Type: TypeU16},
	{Code: OptionBroadcastAddress, Name: "broadcast", Type: TypeIP, Request: true},
	{Code: OptionStaticRoute, Name: "routes", Type: TypeIPPair, List: true},
	{Code: OptionNISDomain, Name: "nisdomain", Type: TypeString},
	{Code: OptionNISServers, Name: "nissrv", Type: TypeIP, List: true},
	{Code: OptionNTPServers, Name: "ntpsrv", Type: TypeIP, List: true, Request: true},
	{Code: OptionNetBIOSNameServer, Name: "wins", Type: TypeIP, List: true},
	{Code: OptionRequestedIPAddress, Name: "requestip", Type: TypeIP},
	{Code: OptionIPAddressLeaseTime, Name: "lease", Type: TypeU32},
	{Code: OptionDHCPMessageType, Name: "dhcptype", Type: TypeU8},
	{Code: OptionServerIdentifier, Name: "serverid", Type: TypeIP},
	{Code: OptionMessage, Name: "message", Type: TypeString},
	{Code: OptionMaximumDHCPMessageSize, Name: "maxsize", Type: TypeU16},
	{Code: OptionVendorClassIdentifier, Name: "vendorclass", Type: TypeString},
	{Code: OptionClientIdentifier, Name: "clientid", Type: TypeBinary},
	{Code: OptionTFTPServerName, Name: "tftp", Type: TypeString},
	{Code: OptionBootFileName, Name: "bootfile", Type: TypeString},
	{Code: OptionUserClass, Name: "userclass", Type: TypeString},
	{Code: OptionTZPOSIXString, Name: "tzstr", Type: TypeString},
	{Code: OptionTZDatabaseString, Name: "tzdbstr", Type: TypeString},
	{Code: OptionDomainSearch, Name: "search", Type: TypeDomainList, List: true, Request: true},
	{Code: OptionClasslessRouteFormat, Name: "staticroutes", Type: TypeStaticRoutes, List: true},
	{Code: OptionMSClasslessRouteFormat, Name: "msstaticroutes", Type: TypeStaticRoutes, List: true},
	{Code: OptionWebProxyAutoDiscovery, Name: "wpad", Type: TypeString},
}

// Options returns the option table.
func Options() []Option {
	return optionTable
}

// OptionByCode returns the table entry for code; unknown codes return a binary
// option named after the code.
func OptionByCode(code OptionCode) Option {
	for _, o := range optionTable {
		if o.Code == code {
			return o
		}
	}
	return Option{Code: code, Name: "opt" + strconv.Itoa(int(code)), Type: TypeBinary}
}

// OptionByName accepts a table name or a decimal or hex code.
func OptionByName(name string) (Option, bool) {
	name = strings.ToLower(name)
	for _, o := range optionTable {
		if o.Name == name {
			return o, true
		}
	}
	if n, err := strconv.ParseUint(name, 0, 8); err == nil && n != uint64(Pad) && n != uint64(End) {
		return OptionByCode(OptionCode(n)), true
	}
	return Option{}, false
}

// RequestList returns the codes flagged for the parameter request list.
func RequestList() []byte {
	list := make([]byte, 0, 12)
	for _, o := range optionTable {
		if o.Request {
			list = append(list, byte(o.Code))
		}
	}
	return list
}

// Parse converts config values into the option wire value.
func (o Option) Parse(values []string) ([]byte, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("option %s: no value: %w", o.Name, ErrOptionLen)
	}
	switch o.Type {
	case TypeString:
		return []byte(strings.Join(values, " ")), nil
	case TypeBinary:
		b, err := hex.DecodeString(strings.ReplaceAll(strings.Join(values, ""), ":", ""))
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", o.Name, err)
		}
		return b, nil
	case TypeDomainList:
		return EncodeDomainList(values)
	case TypeStaticRoutes:
		routes, err := ParseRoutes(values)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", o.Name, err)
		}
		return EncodeClasslessRoutes(routes)
	case TypeIPPair:
		if len(values)%2 != 0 {
			return nil, fmt.Errorf("option %s needs address pairs: %w", o.Name, ErrOptionLen)
		}
	}

	if !o.List && len(values) > 1 {
		return nil, fmt.Errorf("option %s takes one value: %w", o.Name, ErrOptionLen)
	}
	buf := make([]byte, 0, len(values)*4)
	for _, v := range values {
		var err error
		if buf, err = o.appendValue(buf, v); err != nil {
			return nil, fmt.Errorf("option %s value %q: %w", o.Name, v, err)
		}
	}
	return buf, nil
}

func (o Option) appendValue(buf []byte, v string) ([]byte, error) {
	switch o.Type {
	case TypeIP, TypeIPPair:
		ip, err := netip.ParseAddr(v)
		if err != nil || !ip.Is4() {
			return nil, fmt.Errorf("invalid ipv4 %q", v)
		}
		a := ip.As4()
		return append(buf, a[:]...), nil
	case TypeBool:
		switch strings.ToLower(v) {
		case "yes", "true", "1", "on":
			return append(buf, 1), nil
		case "no", "false", "0", "off":
			return append(buf, 0), nil
		}
		return nil, fmt.Errorf("invalid bool %q", v)
	case TypeU8, TypeU16, TypeU32:
		n, err := strconv.ParseUint(v, 0, o.Type.size()*8)
		if err != nil {
			return nil, err
		}
		return appendUint(buf, uint32(n), o.Type.size()), nil
	case TypeS16, TypeS32:
		n, err := strconv.ParseInt(v, 0, o.Type.size()*8)
		if err != nil {
			return nil, err
		}
		return appendUint(buf, uint32(n), o.Type.size()), nil
	}
	return nil, fmt.Errorf("type %d not parseable", o.Type)
}

func appendUint(buf []byte, v uint32, size int) []byte {
	switch size {
	case 1:
		return append(buf, byte(v))
	case 2:
		return binary.BigEndian.AppendUint16(buf, uint16(v))
	}
	return binary.BigEndian.AppendUint32(buf, v)
}

// Format renders a wire value the way the client script expects it:
// addresses and numbers in decimal separated by spaces, strings verbatim.
func (o Option) Format(value []byte) (string, error) {
	switch o.Type {
	case TypeString:
		return strings.TrimRight(string(value), "\x00"), nil
	case TypeBinary:
		return hex.EncodeToString(value), nil
	case TypeDomainList:
		names, err := DecodeDomainList(value)
		if err != nil {
			return "", err
		}
		return strings.Join(names, " "), nil
	case TypeStaticRoutes:
		routes, err := DecodeClasslessRoutes(value)
		if err != nil {
			return "", err
		}
		return formatRoutes(routes), nil
	}

	size := o.Type.size()
	if size == 0 || len(value) == 0 || len(value)%size != 0 || (!o.List && len(value) != size) {
		return "", fmt.Errorf("option %s len=%d: %w", o.Name, len(value), ErrOptionLen)
	}
	s := make([]string, 0, len(value)/size)
	for ; len(value) > 0; value = value[size:] {
		s = append(s, o.formatElement(value[:size]))
	}
	return strings.Join(s, " "), nil
}

func (o Option) formatElement(v []byte) string {
	switch o.Type {
	case TypeIP:
		return netip.AddrFrom4(*(*[4]byte)(v)).String()
	case TypeIPPair:
		return netip.AddrFrom4(*(*[4]byte)(v[:4])).String() + "/" + netip.AddrFrom4(*(*[4]byte)(v[4:8])).String()
	case TypeBool:
		if v[0] != 0 {
			return "yes"
		}
		return "no"
	case TypeU8:
		return strconv.FormatUint(uint64(v[0]), 10)
	case TypeU16:
		return strconv.FormatUint(uint64(binary.BigEndian.Uint16(v)), 10)
	case TypeS16:
		return strconv.FormatInt(int64(int16(binary.BigEndian.Uint16(v))), 10)
	case TypeU32:
		return strconv.FormatUint(uint64(binary.BigEndian.Uint32(v)), 10)
	case TypeS32:
		return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(v))), 10)
	}
	return hex.EncodeToString(v)
}
