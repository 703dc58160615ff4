package udhcpd

import (
	"net"
	"net/netip"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/fastlog"
)

// Lease is an address handed to a client. A lease with an empty MAC is a
// reservation for a declined or conflicting address.
type Lease struct {
	MAC     net.HardwareAddr
	IP      netip.Addr
	Expires time.Time
}

// Expired reports whether the lease is reclaimable at now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.Expires)
}

func (l Lease) String() string {
	return fastlog.NewLine("", "").Struct(l).ToString()
}

func (l Lease) FastLog(line *fastlog.Line) *fastlog.Line {
	line.MAC("mac", l.MAC)
	line.IP("ip", l.IP)
	line.Time("expires", l.Expires)
	return line
}

// leaseTable is a fixed capacity set of leases indexed by MAC and IP.
type leaseTable struct {
	slots []Lease // zero IP marks a free slot
	byMAC map[string]int
	byIP  map[netip.Addr]int
}

func newLeaseTable(capacity uint32) leaseTable {
	return leaseTable{
		slots: make([]Lease, capacity),
		byMAC: make(map[string]int),
		byIP:  make(map[netip.Addr]int),
	}
}

// findMAC returns the lease for mac whether or not it has expired.
func (t *leaseTable) findMAC(mac net.HardwareAddr) *Lease {
	if len(mac) == 0 {
		return nil
	}
	if i, ok := t.byMAC[string(mac)]; ok {
		return &t.slots[i]
	}
	return nil
}

// findIP returns the lease for ip whether or not it has expired.
func (t *leaseTable) findIP(ip netip.Addr) *Lease {
	if i, ok := t.byIP[ip]; ok {
		return &t.slots[i]
	}
	return nil
}

func (t *leaseTable) remove(i int) {
	l := &t.slots[i]
	if len(l.MAC) > 0 {
		delete(t.byMAC, string(l.MAC))
	}
	delete(t.byIP, l.IP)
	*l = Lease{}
}

// clearMAC drops the MAC of l so the address stays reserved until it
// expires but no longer belongs to a client.
func (t *leaseTable) clearMAC(l *Lease) {
	if len(l.MAC) > 0 {
		delete(t.byMAC, string(l.MAC))
	}
	l.MAC = nil
}

// oldestExpired returns a free slot or the slot that expired first; -1 if
// every lease is still valid.
func (t *leaseTable) oldestExpired(now time.Time) int {
	idx := -1
	var oldest time.Time
	for i := range t.slots {
		l := &t.slots[i]
		if !l.IP.IsValid() {
			return i
		}
		if l.Expired(now) && (idx < 0 || l.Expires.Before(oldest)) {
			idx = i
			oldest = l.Expires
		}
	}
	return idx
}

// add stores a lease for mac and ip valid for d, replacing any lease with
// the same mac or ip.
func (t *leaseTable) add(mac net.HardwareAddr, ip netip.Addr, d time.Duration, now time.Time) (*Lease, error) {
	if i, ok := t.byMAC[string(mac)]; ok && len(mac) > 0 {
		t.remove(i)
	}
	if i, ok := t.byIP[ip]; ok {
		t.remove(i)
	}
	i := t.oldestExpired(now)
	if i < 0 {
		return nil, udhcp.ErrNoIPAvailable
	}
	t.remove(i)
	l := &t.slots[i]
	if len(mac) > 0 {
		l.MAC = udhcp.CopyMAC(mac)
	}
	l.IP = ip
	l.Expires = now.Add(d)
	if len(mac) > 0 {
		t.byMAC[string(l.MAC)] = i
	}
	t.byIP[ip] = i
	return l, nil
}

// active returns the unexpired leases.
func (t *leaseTable) active(now time.Time) []Lease {
	var list []Lease
	for _, l := range t.slots {
		if l.IP.IsValid() && !l.Expired(now) {
			list = append(list, l)
		}
	}
	return list
}

// all returns every used slot, expired or not.
func (t *leaseTable) all() []Lease {
	var list []Lease
	for _, l := range t.slots {
		if l.IP.IsValid() {
			list = append(list, l)
		}
	}
	return list
}
