package dhcp4

import (
	"fmt"
	"net/netip"
	"strings"
)

// Route is one entry of the classless static route option.
type Route struct {
	Dest    netip.Prefix
	Gateway netip.Addr
}

func (r Route) String() string {
	return r.Dest.String() + " " + r.Gateway.String()
}

// Classless Route Option Format
// The code for this option is 121, and its minimum length is 5 bytes.
// This option can contain one or more static routes, each of which
// consists of a destination descriptor and the IP address of the router
// that should be used to reach that destination.
//
// Code Len Destination 1    Router 1
// +-----+---+----+-----+----+----+----+----+----+
// | 121 | n | d1 | ... | dN | r1 | r2 | r3 | r4 |
// +-----+---+----+-----+----+----+----+----+----+
// The destination encoding consists of one octet describing the width of the subnet mask,
// followed by all the significant octets of the subnet number.
// see https://tools.ietf.org/html/rfc3442

// EncodeClasslessRoutes returns the option 121 value for routes.
func EncodeClasslessRoutes(routes []Route) ([]byte, error) {
	buf := make([]byte, 0, len(routes)*9)
	for _, r := range routes {
		if !r.Dest.Addr().Is4() || !r.Gateway.Is4() {
			return nil, fmt.Errorf("route %s: %w", r, ErrMalformed)
		}
		ones := r.Dest.Bits()
		octets := (ones + 7) / 8
		dst := r.Dest.Masked().Addr().As4()
		gw := r.Gateway.As4()
		buf = append(buf, byte(ones))
		buf = append(buf, dst[:octets]...)
		buf = append(buf, gw[:]...)
	}
	return buf, nil
}

// DecodeClasslessRoutes parses an option 121 value.
func DecodeClasslessRoutes(b []byte) ([]Route, error) {
	var routes []Route
	for len(b) > 0 {
		ones := int(b[0])
		if ones > 32 {
			return nil, fmt.Errorf("route width=%d: %w", ones, ErrMalformed)
		}
		octets := (ones + 7) / 8
		if len(b) < 1+octets+4 {
			return nil, fmt.Errorf("route truncated: %w", ErrMalformed)
		}
		var dst [4]byte
		copy(dst[:], b[1:1+octets])
		gw := netip.AddrFrom4(*(*[4]byte)(b[1+octets : 1+octets+4]))
		routes = append(routes, Route{Dest: netip.PrefixFrom(netip.AddrFrom4(dst), ones).Masked(), Gateway: gw})
		b = b[1+octets+4:]
	}
	return routes, nil
}

// ParseRoutes reads "dest/bits gateway" pairs.
func ParseRoutes(values []string) ([]Route, error) {
	if len(values)%2 != 0 {
		return nil, fmt.Errorf("routes need dest/bits gateway pairs: %w", ErrMalformed)
	}
	routes := make([]Route, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		dest, err := netip.ParsePrefix(values[i])
		if err != nil {
			return nil, err
		}
		gw, err := netip.ParseAddr(values[i+1])
		if err != nil {
			return nil, err
		}
		routes = append(routes, Route{Dest: dest.Masked(), Gateway: gw})
	}
	return routes, nil
}

func formatRoutes(routes []Route) string {
	s := make([]string, len(routes))
	for i := range routes {
		s[i] = routes[i].String()
	}
	return strings.Join(s, " ")
}
