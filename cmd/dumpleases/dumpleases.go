// Command dumpleases prints the lease file written by udhcpd.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/irai/udhcp/udhcpd"
	"github.com/spf13/cobra"
)

func main() {
	var (
		file           string
		absolute       bool
		remaining      bool
		storedAbsolute bool
	)
	root := &cobra.Command{
		Use:          "dumpleases",
		Short:        "Display the udhcpd lease file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			writtenAt, records, err := udhcpd.ReadLeaseFile(f)
			if err != nil {
				return fmt.Errorf("lease file %s: %w", file, err)
			}
			dump(os.Stdout, writtenAt, records, time.Now(), storedAbsolute, absolute && !remaining)
			return nil
		},
	}
	root.Flags().StringVarP(&file, "file", "f", udhcpd.DefaultLeaseFile, "lease file")
	root.Flags().BoolVarP(&absolute, "absolute", "a", false, "show expiry time")
	root.Flags().BoolVarP(&remaining, "remaining", "r", false, "show remaining time (default)")
	root.Flags().BoolVar(&storedAbsolute, "stored-absolute", false, "file was written with remaining no")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// dump writes one line per record. storedAbsolute selects how the expiry
// field is read and showAbsolute how it is printed.
func dump(w io.Writer, writtenAt time.Time, records []udhcpd.LeaseRecord, now time.Time, storedAbsolute bool, showAbsolute bool) {
	title := "Expires in"
	if showAbsolute {
		title = "Expires at"
	}
	fmt.Fprintf(w, "%-17s %-15s %s\n", "Mac Address", "IP Address", title)
	for _, r := range records {
		expires := writtenAt.Add(time.Duration(r.Expires) * time.Second)
		if storedAbsolute {
			expires = time.Unix(int64(r.Expires), 0)
		}
		mac := r.MAC.String()
		if mac == "" {
			mac = "00:00:00:00:00:00"
		}
		fmt.Fprintf(w, "%-17s %-15s ", mac, r.IP)
		switch {
		case showAbsolute:
			fmt.Fprintln(w, expires.Local().Format(time.ANSIC))
		case !now.Before(expires):
			fmt.Fprintln(w, "expired")
		default:
			fmt.Fprintln(w, remainingString(expires.Sub(now)))
		}
	}
}

func remainingString(d time.Duration) string {
	s := int64(d / time.Second)
	days := s / 86400
	s %= 86400
	out := fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
	if days > 0 {
		out = fmt.Sprintf("%d days %s", days, out)
	}
	return out
}
