// Command udhcpd is a small DHCP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/irai/udhcp"
	"github.com/irai/udhcp/arp"
	"github.com/irai/udhcp/internal/cli"
	"github.com/irai/udhcp/pump"
	"github.com/irai/udhcp/udhcpd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		foreground bool
		useSyslog  bool
		level      string
		metrics    string
		noARP      bool
	)
	root := &cobra.Command{
		Use:          "udhcpd [config file]",
		Short:        "DHCP server",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := udhcpd.DefaultConfigFile
			if len(args) > 0 {
				file = args[0]
			}
			cli.SetLogLevel(level)
			if useSyslog {
				if err := cli.UseSyslog("udhcpd"); err != nil {
					return err
				}
			}
			return run(file, metrics, !noARP)
		},
	}
	root.Flags().BoolVarP(&foreground, "foreground", "f", true, "run in foreground (always on)")
	root.Flags().BoolVarP(&useSyslog, "syslog", "S", false, "log to syslog")
	root.Flags().StringVarP(&level, "debug", "d", "info", "set to error, info or debug")
	root.Flags().StringVarP(&metrics, "metrics", "m", "", "serve prometheus metrics on this address")
	root.Flags().BoolVar(&noARP, "no-arp", false, "offer addresses without an arp probe")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(file string, metricsAddr string, probe bool) error {
	cfg, err := udhcpd.LoadConfig(file)
	if err != nil {
		return err
	}
	nic, err := udhcp.GetNICInfo(cfg.Interface)
	if err != nil {
		return err
	}
	server, err := udhcpd.New(cfg, nic, udhcpd.LinkTransport{NIC: nic})
	if err != nil {
		return err
	}
	if probe {
		server.SetProber(arp.Prober{NIC: nic})
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	server.SetMetrics(udhcpd.NewMetrics(registry))

	if err := server.LoadLeases(udhcpd.Now()); err != nil {
		udhcpd.Logger.Msg("failed to load leases").String("file", cfg.LeaseFile).Error("error", err).Write()
	}
	if err := udhcp.WritePidFile(cfg.PidFile); err != nil {
		return err
	}
	defer udhcp.RemovePidFile(cfg.PidFile)

	sigs := pump.New()
	defer sigs.Close()

	g, ctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return server.Run(ctx, sigs.C())
	})

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
