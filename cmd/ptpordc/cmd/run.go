/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ptpordc/ptpordc/config"
	"github.com/ptpordc/ptpordc/engine"
	"github.com/ptpordc/ptpordc/extref"
	"github.com/ptpordc/ptpordc/hwclock"
	"github.com/ptpordc/ptpordc/metrics"
	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
	"github.com/ptpordc/ptpordc/ptpnet"
)

var runConfigFlag string

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "/etc/ptpordc.yaml", "path to config file")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ordinary clock",
	RunE: func(cmd *cobra.Command, args []string) error {
		configureVerbosity()
		return runEngine(cmd.Context())
	},
}

// runEngine loads config, wires PTP-NET/HW-CLOCK/PTP-ENGINE/EXT-REF together
// and blocks until ctx is cancelled or one of them fails.
func runEngine(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ReadConfig(runConfigFlag)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return fmt.Errorf("resolving interface %q: %w", cfg.Interface, err)
	}
	identity, err := ptp.NewClockIdentity(iface.HardwareAddr)
	if err != nil {
		return fmt.Errorf("deriving clock identity: %w", err)
	}

	transport, err := ptpnet.New(ptpnet.DefaultConfig(cfg.Interface))
	if err != nil {
		return fmt.Errorf("opening PTP-NET transport: %w", err)
	}

	clock := hwclock.NewSystemClock(syscall.CLOCK_REALTIME)
	eng := engine.New(cfg.EngineConfig(identity), transport, clock)

	statusReg := newStatusRegistry(eng)
	reg := metrics.NewRegistry(statusReg.snapshot)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", statusReg.serveHTTP)
	server := &http.Server{Addr: cfg.MonitoringAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if cfg.ExtRefDevice != "" {
		pps := extref.NewTickerPPSSource()
		disc := extref.New(
			extref.Config{Device: cfg.ExtRefDevice, Baud: cfg.ExtRefBaud, NoAdjust: cfg.Servo.NoAdjust, NoResetClock: cfg.Servo.NoResetClock},
			clock, pps,
		)
		g.Go(func() error {
			defer pps.Close()
			return disc.Run(gctx)
		})
	}

	g.Go(func() error {
		log.Infof("serving metrics and status on %s", cfg.MonitoringAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Warning("sd_notify failed")
	} else if !ok {
		log.Debug("sd_notify not supported, NOTIFY_SOCKET unset")
	}

	return g.Wait()
}
