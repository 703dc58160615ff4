package udhcpc

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/dhcp4"
)

// Default timers
const (
	DefaultRetries  = 3
	DefaultTimeout  = 3 * time.Second
	DefaultTryAgain = 60 * time.Second
	DefaultScript   = "/usr/share/udhcpc/default.script"
	DefaultVendor   = "udhcp"

	// nakBackoff is the wait before discovery restarts after a NAK.
	nakBackoff = 3 * time.Second

	// defaultLease is used when an ACK carries no lease time.
	defaultLease = 60 * 60
)

// Config holds the client settings. It is read only once the client starts.
type Config struct {
	NIC         udhcp.NICInfo
	RequestedIP netip.Addr // optional address to ask for in DISCOVER

	ClientID    string // sent as type 0 client identifier; empty means type 1 + MAC
	NoClientID  bool   // do not send a client identifier
	VendorClass string
	Hostname    string
	FQDN        string

	// ExtraOptions are appended to the parameter request list.
	ExtraOptions []dhcp4.OptionCode
	// NoDefaultOptions sends only ExtraOptions in the parameter request list.
	NoDefaultOptions bool

	Retries  int
	Timeout  time.Duration // wait between DISCOVER or REQUEST retransmissions
	TryAgain time.Duration // wait after a failed discovery cycle

	QuitAfterLease    bool // exit once a lease is obtained
	ReleaseOnQuit     bool // send RELEASE before exit
	AbortNoLease      bool // exit 1 when discovery fails
	BackgroundNoLease bool // keep running after a failed discovery cycle
	BroadcastFlag     bool // ask servers to broadcast replies
	ARPCheck          bool // probe the ACKed address and decline it when in use
}

// Defaults returns a config with the default timers and vendor class.
func Defaults() Config {
	return Config{
		VendorClass: DefaultVendor,
		Retries:     DefaultRetries,
		Timeout:     DefaultTimeout,
		TryAgain:    DefaultTryAgain,
	}
}

func (c Config) validate() error {
	if len(c.NIC.MAC) != 6 {
		return fmt.Errorf("interface %s mac=%s: %w", c.NIC.Name, c.NIC.MAC, udhcp.ErrInvalidMAC)
	}
	if c.Retries <= 0 || c.Timeout <= 0 || c.TryAgain <= 0 {
		return fmt.Errorf("retries=%d timeout=%s tryagain=%s: %w", c.Retries, c.Timeout, c.TryAgain, udhcp.ErrInvalidParam)
	}
	if c.RequestedIP.IsValid() && !c.RequestedIP.Is4() {
		return fmt.Errorf("requested ip=%s: %w", c.RequestedIP, udhcp.ErrInvalidIP)
	}
	return nil
}

// clientOptions builds the option strings attached to every packet.
func (c Config) clientOptions() (clientID []byte, hostname []byte, fqdn []byte, vendor []byte, err error) {
	switch {
	case c.NoClientID:
	case c.ClientID != "":
		clientID = append([]byte{0}, c.ClientID...)
	default:
		clientID = append([]byte{1}, c.NIC.MAC...)
	}
	if c.Hostname != "" {
		hostname = []byte(dhcp4.HostnameASCII(c.Hostname))
	}
	if c.FQDN != "" {
		if fqdn, err = dhcp4.EncodeFQDN(c.FQDN); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("fqdn %q: %w", c.FQDN, err)
		}
	}
	if c.VendorClass != "" {
		vendor = []byte(c.VendorClass)
	}
	for _, v := range [][]byte{clientID, hostname, fqdn, vendor} {
		if len(v) > 255 {
			return nil, nil, nil, nil, fmt.Errorf("client option too long len=%d: %w", len(v), dhcp4.ErrOptionLen)
		}
	}
	return clientID, hostname, fqdn, vendor, nil
}

// requestList returns the parameter request list.
func (c Config) requestList() []byte {
	var list []byte
	if !c.NoDefaultOptions {
		list = dhcp4.RequestList()
	}
	for _, code := range c.ExtraOptions {
		dup := false
		for _, v := range list {
			if v == byte(code) {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, byte(code))
		}
	}
	return list
}
