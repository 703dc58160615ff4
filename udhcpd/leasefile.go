package udhcpd

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"time"

	"github.com/irai/udhcp"
)

// Lease file layout: an 8 byte big endian unix time of the write followed by
// fixed 24 byte records.
const (
	leaseFileHeaderLen = 8
	leaseRecordLen     = 24
	recordMACLen       = 16

	// a write older than this, or in the future, is not trusted to age the
	// stored times
	maxTimePassed = 12 * time.Hour
)

// LeaseRecord is one lease file entry. Expires is the remaining lease in
// seconds or, for servers configured with "remaining no", the absolute
// expiry in unix seconds.
type LeaseRecord struct {
	MAC     net.HardwareAddr
	IP      netip.Addr
	Expires uint32
}

// WriteLeaseFile writes the header and records to w.
func WriteLeaseFile(w io.Writer, writtenAt time.Time, records []LeaseRecord) error {
	bw := bufio.NewWriter(w)
	var b [leaseRecordLen]byte
	binary.BigEndian.PutUint64(b[:leaseFileHeaderLen], uint64(writtenAt.Unix()))
	if _, err := bw.Write(b[:leaseFileHeaderLen]); err != nil {
		return err
	}
	for _, r := range records {
		clear(b[:])
		copy(b[:recordMACLen], r.MAC)
		if r.IP.Is4() {
			ip := r.IP.As4()
			copy(b[recordMACLen:recordMACLen+4], ip[:])
		}
		binary.BigEndian.PutUint32(b[recordMACLen+4:], r.Expires)
		if _, err := bw.Write(b[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadLeaseFile reads a lease file. A trailing partial record is ignored.
func ReadLeaseFile(r io.Reader) (writtenAt time.Time, records []LeaseRecord, err error) {
	br := bufio.NewReader(r)
	var b [leaseRecordLen]byte
	if _, err := io.ReadFull(br, b[:leaseFileHeaderLen]); err != nil {
		return time.Time{}, nil, fmt.Errorf("lease file header: %w", udhcp.ErrInvalidLen)
	}
	writtenAt = time.Unix(int64(binary.BigEndian.Uint64(b[:leaseFileHeaderLen])), 0)
	for {
		if _, err := io.ReadFull(br, b[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return writtenAt, records, nil
			}
			return writtenAt, records, err
		}
		rec := LeaseRecord{
			IP:      netip.AddrFrom4(*(*[4]byte)(b[recordMACLen : recordMACLen+4])),
			Expires: binary.BigEndian.Uint32(b[recordMACLen+4:]),
		}
		if mac := net.HardwareAddr(b[:6]); !isZero(mac) {
			rec.MAC = udhcp.CopyMAC(mac)
		}
		records = append(records, rec)
	}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// SaveLeases writes every lease to the lease file and runs notify_file.
func (s *Server) SaveLeases(now time.Time) error {
	if s.cfg.LeaseFile == "" {
		return nil
	}
	all := s.table.all()
	records := make([]LeaseRecord, 0, len(all))
	for _, l := range all {
		rec := LeaseRecord{MAC: l.MAC, IP: l.IP}
		if s.cfg.Remaining {
			if d := l.Expires.Sub(now); d > 0 {
				rec.Expires = uint32(d / time.Second)
			}
		} else {
			rec.Expires = uint32(l.Expires.Unix())
		}
		records = append(records, rec)
	}

	f, err := os.OpenFile(s.cfg.LeaseFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("lease file: %w", err)
	}
	if err := WriteLeaseFile(f, now, records); err != nil {
		f.Close()
		return fmt.Errorf("lease file %s: %w", s.cfg.LeaseFile, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("lease file %s: %w", s.cfg.LeaseFile, err)
	}
	s.metrics.LeaseWrites.Inc()
	if Logger.IsDebug() {
		Logger.Msg("leases saved").String("file", s.cfg.LeaseFile).Int("count", len(records)).Write()
	}

	if s.cfg.NotifyFile != "" {
		cmd := exec.Command(s.cfg.NotifyFile, s.cfg.LeaseFile)
		if out, err := cmd.CombinedOutput(); err != nil {
			Logger.Msg("notify file failed").String("cmd", s.cfg.NotifyFile).String("output", string(out)).Error("error", err).Write()
		}
	}
	return nil
}

// LoadLeases restores the lease file. Records outside the pool, expired
// records and records clashing with a static lease are skipped. A missing
// file is not an error.
func (s *Server) LoadLeases(now time.Time) error {
	if s.cfg.LeaseFile == "" {
		return nil
	}
	f, err := os.Open(s.cfg.LeaseFile)
	if errors.Is(err, fs.ErrNotExist) {
		Logger.Msg("no lease file").String("file", s.cfg.LeaseFile).Write()
		return nil
	}
	if err != nil {
		return fmt.Errorf("lease file: %w", err)
	}
	defer f.Close()

	writtenAt, records, err := ReadLeaseFile(f)
	if err != nil {
		return fmt.Errorf("lease file %s: %w", s.cfg.LeaseFile, err)
	}
	passed := now.Sub(writtenAt)
	if passed < 0 || passed > maxTimePassed {
		passed = 0
	}

	count := 0
	for _, rec := range records {
		if !s.cfg.InPool(rec.IP) {
			continue
		}
		var remaining time.Duration
		if s.cfg.Remaining {
			remaining = seconds(rec.Expires) - passed
		} else {
			remaining = time.Unix(int64(rec.Expires), 0).Sub(now)
		}
		if remaining <= 0 {
			continue
		}
		if _, ok := s.static[string(rec.MAC)]; ok && len(rec.MAC) > 0 {
			continue
		}
		if _, ok := s.staticIP[rec.IP]; ok {
			continue
		}
		if _, err := s.table.add(rec.MAC, rec.IP, remaining, now); err != nil {
			Logger.Msg("too many leases while loading").String("file", s.cfg.LeaseFile).Write()
			break
		}
		count++
	}
	Logger.Msg("leases loaded").String("file", s.cfg.LeaseFile).Int("count", count).Write()
	s.metrics.ActiveLeases.Set(float64(len(s.table.active(now))))
	return nil
}
