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

// Command rm is the central Resource Manager binary (spec.md §6): it loads
// the experiment configuration, binds the control-plane socket, and drives
// the orchestrator through registration, synchronized start, iterated mode
// changes, and shutdown.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ida-tubs/rscmng/config"
	"github.com/ida-tubs/rscmng/metrics"
	"github.com/ida-tubs/rscmng/rm"
	"github.com/ida-tubs/rscmng/timer"
	"github.com/ida-tubs/rscmng/transport"
)

var (
	configPath     string
	logLevel       string
	monitoringPort int
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "rm [host_name]",
	Short: "central Resource Manager for a time-triggered experiment",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the rm version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/rscmng/config.json", "path to the JSON experiment configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warning, error")
	rootCmd.PersistentFlags().IntVar(&monitoringPort, "monitoringport", 9100, "port to serve the Prometheus /metrics endpoint on")
	rootCmd.AddCommand(versionCmd)
}

func setLogLevel() error {
	lvl, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("unrecognized log level %q: %w", logLevel, err)
	}
	log.SetLevel(lvl)
	return nil
}

// openRoleLog opens $HOME/rscmng_logs/<role>_<hostname>.log and redirects
// logrus output to it, the logging backend's file layout being out of
// scope beyond this one SetOutput call (spec.md §1).
func openRoleLog(role, hostName string) (*os.File, error) {
	dir := filepath.Join(os.Getenv("HOME"), "rscmng_logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", role, hostName))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %q: %w", path, err)
	}
	log.SetOutput(f)
	return f, nil
}

// sdNotifyReady tells systemd (when run as a Type=notify unit) that role has
// finished starting up, grounded on ptp/c4u/c4u.go's SdNotify.
func sdNotifyReady(role string) {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	switch {
	case !supported:
		log.Debugf("%s: sd_notify not supported, skipping readiness notification", role)
	case err != nil:
		log.Warningf("%s: sd_notify failed: %v", role, err)
	default:
		log.Debugf("%s: sent sd_notify ready", role)
	}
}

func run(hostName string) error {
	if err := setLogLevel(); err != nil {
		return err
	}

	logFile, err := openRoleLog("rm", hostName)
	if err != nil {
		log.Warningf("rm: could not open role log file, logging to stderr: %v", err)
	} else {
		defer logFile.Close()
	}

	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Debugf("rm: config: %+v", cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	laddr := &net.UDPAddr{IP: net.ParseIP(cfg.Unit.ControlLocalIP), Port: cfg.Unit.ControlLocalPort}
	ctrl, err := transport.Listen(laddr)
	if err != nil {
		return fmt.Errorf("binding control socket: %w", err)
	}
	defer ctrl.Close()

	stats := metrics.NewStats()
	timers := timer.NewManager()
	orch := rm.New(cfg, ctrl, timers, stats, nil)

	exporter := metrics.NewPrometheusExporter(stats, monitoringPort, 10*time.Second)
	var eg errgroup.Group
	eg.Go(func() error { return ctrl.Serve(orch.Enqueue) })
	eg.Go(exporter.Start)
	go stats.StartHostSampler(10 * time.Second)
	go func() {
		if err := eg.Wait(); err != nil {
			log.Errorf("rm: background service exited: %v", err)
		}
	}()

	orch.Start()
	sdNotifyReady("rm")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("rm: shutting down")
	orch.Stop()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
