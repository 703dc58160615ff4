package dhcp4

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
	"gitlab.com/golang-commonmark/puny"
)

// maxNameWire is the longest wire form of a single name.
const maxNameWire = 255

// EncodeDomainList returns the RFC 1035 wire form of names using the
// compression pointers allowed by RFC 3397. Unicode labels are converted with
// punycode first.
func EncodeDomainList(names []string) ([]byte, error) {
	msg := make([]byte, len(names)*maxNameWire)
	compression := make(map[string]int, len(names)*3)
	off := 0
	var err error
	for _, name := range names {
		name = strings.TrimSuffix(strings.TrimSpace(name), ".")
		if name == "" {
			continue
		}
		off, err = dns.PackDomainName(dns.Fqdn(puny.ToASCII(name)), msg, off, compression, true)
		if err != nil {
			return nil, fmt.Errorf("domain %q: %w", name, err)
		}
	}
	return msg[:off], nil
}

// DecodeDomainList returns the names in an RFC 3397 list without the trailing dot.
// Compression pointers may only refer to the list itself.
func DecodeDomainList(b []byte) ([]string, error) {
	var names []string
	for off := 0; off < len(b); {
		name, next, err := dns.UnpackDomainName(b, off)
		if err != nil {
			return nil, fmt.Errorf("domain list offset=%d: %w", off, err)
		}
		if name = strings.TrimSuffix(name, "."); name != "" {
			names = append(names, name)
		}
		off = next
	}
	return names, nil
}

// FQDN option flags (RFC 4702)
const (
	FQDNFlagServerUpdate = 0x01 // S: server updates the A record
	FQDNFlagEncoded      = 0x04 // E: name is in wire format
)

// EncodeFQDN returns the value of option 81: flags, two reserved rcode bytes
// and the name in wire format.
func EncodeFQDN(name string) ([]byte, error) {
	wire, err := EncodeDomainList([]string{name})
	if err != nil {
		return nil, err
	}
	return append([]byte{FQDNFlagServerUpdate | FQDNFlagEncoded, 0, 0}, wire...), nil
}

// DecodeFQDN returns the name carried by option 81 in either encoding.
func DecodeFQDN(b []byte) (string, error) {
	if len(b) < 3 {
		return "", ErrOptionLen
	}
	if b[0]&FQDNFlagEncoded == 0 {
		return string(b[3:]), nil
	}
	names, err := DecodeDomainList(b[3:])
	if err != nil || len(names) != 1 {
		return "", fmt.Errorf("fqdn: %w", ErrMalformed)
	}
	return names[0], nil
}

// HostnameASCII converts a unicode host name to its punycode form.
func HostnameASCII(name string) string {
	return puny.ToASCII(name)
}
