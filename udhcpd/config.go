package udhcpd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
	"gopkg.in/yaml.v2"
)

// Default values used when the config file does not set them.
const (
	DefaultConfigFile   = "/etc/udhcpd.conf"
	DefaultLeaseFile    = "/var/lib/misc/udhcpd.leases"
	DefaultPidFile      = "/var/run/udhcpd.pid"
	DefaultInterface    = "eth0"
	DefaultMaxLeases    = 235
	DefaultAutoTime     = 7200
	DefaultDeclineTime  = 3600
	DefaultConflictTime = 3600
	DefaultOfferTime    = 60
	DefaultMinLease     = 60
	DefaultLease        = 864000 // 10 days
)

// StaticLease binds a MAC address to a fixed IP.
type StaticLease struct {
	MAC net.HardwareAddr
	IP  netip.Addr
}

// OptionValue is an option the server sends in every reply.
type OptionValue struct {
	Code  dhcp4.OptionCode
	Value []byte
}

// Config is the server configuration. Times are in seconds.
type Config struct {
	Start        netip.Addr
	End          netip.Addr
	Interface    string
	Options      []OptionValue
	MaxLeases    uint32
	Remaining    bool // lease file stores remaining time instead of absolute expiry
	AutoTime     uint32
	DeclineTime  uint32
	ConflictTime uint32
	OfferTime    uint32
	MinLease     uint32
	Lease        uint32 // max lease time; set with "option lease"
	LeaseFile    string
	PidFile      string
	NotifyFile   string
	SIAddr       netip.Addr
	SName        string
	BootFile     string
	StaticLeases []StaticLease
}

// Defaults returns the built in configuration.
func Defaults() Config {
	return Config{
		Start:        netip.MustParseAddr("192.168.0.20"),
		End:          netip.MustParseAddr("192.168.0.254"),
		Interface:    DefaultInterface,
		MaxLeases:    DefaultMaxLeases,
		Remaining:    true,
		AutoTime:     DefaultAutoTime,
		DeclineTime:  DefaultDeclineTime,
		ConflictTime: DefaultConflictTime,
		OfferTime:    DefaultOfferTime,
		MinLease:     DefaultMinLease,
		Lease:        DefaultLease,
		LeaseFile:    DefaultLeaseFile,
		PidFile:      DefaultPidFile,
	}
}

// PoolSize returns the number of addresses between Start and End inclusive.
func (c Config) PoolSize() uint32 {
	if !c.Start.Is4() || !c.End.Is4() || c.End.Less(c.Start) {
		return 0
	}
	return ip2uint(c.End) - ip2uint(c.Start) + 1
}

// InPool reports whether ip is between Start and End.
func (c Config) InPool(ip netip.Addr) bool {
	return ip.Is4() && !ip.Less(c.Start) && !c.End.Less(ip)
}


// validate checks the pool and clamps max_leases to the pool size.
func (c *Config) validate() error {
	if !c.Start.Is4() || !c.End.Is4() || c.End.Less(c.Start) {
		return fmt.Errorf("pool start=%s end=%s: %w", c.Start, c.End, udhcp.ErrInvalidIP)
	}
	if c.Interface == "" {
		return fmt.Errorf("interface: %w", udhcp.ErrInvalidParam)
	}
	if n := c.PoolSize(); c.MaxLeases > n {
		Logger.Msg("max_leases is too big, clamping to pool size").Uint32("max_leases", c.MaxLeases).Uint32("pool", n).Write()
		c.MaxLeases = n
	}
	if c.MaxLeases == 0 {
		return fmt.Errorf("max_leases=0: %w", udhcp.ErrInvalidParam)
	}
	if c.Lease == 0 {
		c.Lease = DefaultLease
	}
	return nil
}

func ip2uint(ip netip.Addr) uint32 {
	b := ip.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint2ip(n uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

// LoadConfig reads path on top of Defaults. Files ending in .yaml or .yml are
// read as YAML with the same keywords; anything else uses the udhcpd.conf
// "keyword value..." line format.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = cfg.parseYAML(b)
	default:
		err = cfg.parse(bytes.NewReader(b))
	}
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig reads the line format from r on top of Defaults.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := Defaults()
	if err := cfg.parse(r); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := c.set(fields[0], fields[1:]); err != nil {
			return fmt.Errorf("line %d: %w", lineno, err)
		}
	}
	return scanner.Err()
}

func (c *Config) parseYAML(b []byte) error {
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	for _, item := range doc {
		keyword := fmt.Sprint(item.Key)
		var err error
		switch keyword {
		case "option", "opt":
			err = c.yamlOptions(item.Value)
		case "static_lease":
			err = c.yamlLines(keyword, item.Value)
		default:
			err = c.set(keyword, yamlStrings(item.Value))
		}
		if err != nil {
			return fmt.Errorf("%s: %w", keyword, err)
		}
	}
	return nil
}

// yamlOptions accepts a map of name to value or list, or a list of
// "name value..." strings.
func (c *Config) yamlOptions(v interface{}) error {
	if m, ok := v.(yaml.MapSlice); ok {
		for _, item := range m {
			args := append([]string{fmt.Sprint(item.Key)}, yamlStrings(item.Value)...)
			if err := c.set("option", args); err != nil {
				return err
			}
		}
		return nil
	}
	return c.yamlLines("option", v)
}

func (c *Config) yamlLines(keyword string, v interface{}) error {
	list, ok := v.([]interface{})
	if !ok {
		list = []interface{}{v}
	}
	for _, e := range list {
		if err := c.set(keyword, yamlStrings(e)); err != nil {
			return err
		}
	}
	return nil
}

func yamlStrings(v interface{}) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return []string{"yes"}
		}
		return []string{"no"}
	case []interface{}:
		var out []string
		for _, e := range v {
			out = append(out, yamlStrings(e)...)
		}
		return out
	case string:
		return strings.Fields(v)
	}
	return []string{fmt.Sprint(v)}
}

func (c *Config) set(keyword string, args []string) error {
	one := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%s: want one value got %d: %w", keyword, len(args), udhcp.ErrInvalidParam)
		}
		return args[0], nil
	}
	u32 := func(dst *uint32) error {
		s, err := one()
		if err != nil {
			return err
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", keyword, err)
		}
		*dst = uint32(n)
		return nil
	}
	ip := func(dst *netip.Addr) error {
		s, err := one()
		if err != nil {
			return err
		}
		a, err := netip.ParseAddr(s)
		if err != nil || !a.Is4() {
			return fmt.Errorf("%s=%q: %w", keyword, s, udhcp.ErrInvalidIP)
		}
		*dst = a
		return nil
	}
	str := func(dst *string) error {
		s, err := one()
		if err != nil {
			return err
		}
		*dst = s
		return nil
	}

	switch strings.ToLower(keyword) {
	case "start":
		return ip(&c.Start)
	case "end":
		return ip(&c.End)
	case "interface":
		return str(&c.Interface)
	case "option", "opt":
		return c.addOption(args)
	case "max_leases":
		return u32(&c.MaxLeases)
	case "remaining":
		s, err := one()
		if err != nil {
			return err
		}
		c.Remaining = yesNo(s)
		return nil
	case "auto_time":
		return u32(&c.AutoTime)
	case "decline_time":
		return u32(&c.DeclineTime)
	case "conflict_time":
		return u32(&c.ConflictTime)
	case "offer_time":
		return u32(&c.OfferTime)
	case "min_lease":
		return u32(&c.MinLease)
	case "lease_file":
		return str(&c.LeaseFile)
	case "pidfile":
		return str(&c.PidFile)
	case "notify_file":
		return str(&c.NotifyFile)
	case "siaddr":
		return ip(&c.SIAddr)
	case "sname":
		return str(&c.SName)
	case "boot_file":
		return str(&c.BootFile)
	case "static_lease":
		return c.addStaticLease(args)
	}
	return fmt.Errorf("unknown keyword %q: %w", keyword, udhcp.ErrInvalidParam)
}

func yesNo(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "y", "on", "true", "1":
		return true
	}
	return false
}

// addOption parses "name value...". A repeated list option appends to the
// existing value; a repeated scalar option keeps the first value.
func (c *Config) addOption(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("option needs a name and a value: %w", udhcp.ErrInvalidParam)
	}
	opt, ok := dhcp4.OptionByName(args[0])
	if !ok {
		return fmt.Errorf("option %q: %w", args[0], udhcp.ErrInvalidParam)
	}
	value, err := opt.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("option %s: %w", opt.Name, err)
	}
	if opt.Code == dhcp4.OptionIPAddressLeaseTime {
		if len(value) != 4 {
			return fmt.Errorf("option lease: %w", udhcp.ErrInvalidLen)
		}
		c.Lease = uint32(value[0])<<24 | uint32(value[1])<<16 | uint32(value[2])<<8 | uint32(value[3])
		return nil
	}
	for i := range c.Options {
		if c.Options[i].Code != opt.Code {
			continue
		}
		switch {
		case opt.Type == dhcp4.TypeDomainList:
			// compression pointers are relative to the option start so the
			// merged list is encoded again
			merged, err := mergeDomainLists(c.Options[i].Value, value)
			if err != nil {
				return fmt.Errorf("option %s: %w", opt.Name, err)
			}
			c.Options[i].Value = merged
		case opt.List:
			c.Options[i].Value = append(c.Options[i].Value, value...)
		default:
			Logger.Msg("duplicate option ignored").String("option", opt.Name).Write()
		}
		return nil
	}
	c.Options = append(c.Options, OptionValue{Code: opt.Code, Value: value})
	return nil
}

func mergeDomainLists(a []byte, b []byte) ([]byte, error) {
	names, err := dhcp4.DecodeDomainList(a)
	if err != nil {
		return nil, err
	}
	more, err := dhcp4.DecodeDomainList(b)
	if err != nil {
		return nil, err
	}
	return dhcp4.EncodeDomainList(append(names, more...))
}

func (c *Config) addStaticLease(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("static_lease needs mac and ip: %w", udhcp.ErrInvalidParam)
	}
	mac, err := net.ParseMAC(args[0])
	if err != nil || len(mac) != 6 {
		return fmt.Errorf("static_lease mac=%q: %w", args[0], udhcp.ErrInvalidMAC)
	}
	ip, err := netip.ParseAddr(args[1])
	if err != nil || !ip.Is4() {
		return fmt.Errorf("static_lease ip=%q: %w", args[1], udhcp.ErrInvalidIP)
	}
	c.StaticLeases = append(c.StaticLeases, StaticLease{MAC: mac, IP: ip})
	return nil
}
