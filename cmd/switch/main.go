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

// Command switch is the packet-forwarding reconfiguration client binary
// (spec.md §6, §4.5): it has no traffic generator of its own, and drives
// mode changes by shelling out to an external apply_mode effect.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ida-tubs/rscmng/agent"
	"github.com/ida-tubs/rscmng/config"
	"github.com/ida-tubs/rscmng/protocol"
	"github.com/ida-tubs/rscmng/switchexec"
	"github.com/ida-tubs/rscmng/transport"
)

var (
	configPath string
	logLevel   string
	iface      string
	scriptPath string
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "switch [host_name]",
	Short: "switch-side packet-forwarding reconfiguration client",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the switch client version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/rscmng/config.json", "path to the JSON experiment configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warning, error")
	rootCmd.PersistentFlags().StringVar(&iface, "iface", "eth0", "uplink interface to probe the link rate of at startup")
	rootCmd.PersistentFlags().StringVar(&scriptPath, "apply-mode-script", "/usr/local/bin/rscmng_apply_mode.sh", "script invoked as apply_mode(mode, experiment, counter)")
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

	logFile, err := openRoleLog("switch", hostName)
	if err != nil {
		log.Warningf("switch: could not open role log file, logging to stderr: %v", err)
	} else {
		defer logFile.Close()
	}

	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Debugf("switch: config: %+v", cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if mbps, ok := switchexec.ProbeLinkRate(iface); ok {
		log.Infof("switch: uplink %s running at %d Mb/s", iface, mbps)
	}

	clientID := protocol.ClientID(cfg.Unit.ClientID)
	rmAddr := &net.UDPAddr{IP: net.ParseIP(cfg.Unit.RMIP), Port: cfg.Unit.RMPort}
	ctrlAddr := &net.UDPAddr{IP: net.ParseIP(cfg.Unit.ControlLocalIP), Port: cfg.Unit.ControlLocalPort}

	ctrl, err := transport.Listen(ctrlAddr)
	if err != nil {
		return fmt.Errorf("binding control socket: %w", err)
	}
	defer ctrl.Close()

	effector := switchexec.NewEffector(scriptPath, cfg.Experiment.ExperimentNumber)
	a := agent.New(clientID, rmAddr, ctrl, effector, nil)

	go func() {
		if err := ctrl.Serve(a.Dispatch); err != nil {
			log.Errorf("switch: control socket serve loop exited: %v", err)
		}
	}()

	for _, svc := range cfg.Services {
		if svc.ClientID != cfg.Unit.ClientID {
			continue
		}
		syncReq := protocol.ControlMessage{
			Kind:       protocol.RMClientSyncRequest,
			SourceID:   clientID,
			ServiceID:  protocol.ServiceID(svc.ServiceID),
			ProtocolID: protocol.ProtocolRM,
		}
		if err := ctrl.Send(syncReq, rmAddr); err != nil {
			log.Warningf("switch: failed to send initial sync request for service %d: %v", svc.ServiceID, err)
		}
	}
	sdNotifyReady("switch")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("switch: shutting down")
	a.RequestStop()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
