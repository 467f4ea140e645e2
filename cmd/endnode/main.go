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

// Command endnode is the traffic-generating client binary (spec.md §6): it
// registers one service with the central Resource Manager, then drives its
// traffic generator under the RM's timestamped commands.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ida-tubs/rscmng/agent"
	"github.com/ida-tubs/rscmng/config"
	"github.com/ida-tubs/rscmng/generator"
	"github.com/ida-tubs/rscmng/protocol"
	"github.com/ida-tubs/rscmng/transport"
)

var (
	configPath string
	logLevel   string
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "endnode [host_name] [service_id]",
	Short: "time-triggered traffic-generator client",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		serviceID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid service_id %q: %w", args[1], err)
		}
		return run(args[0], protocol.ServiceID(serviceID))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the endnode version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/rscmng/config.json", "path to the JSON experiment configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warning, error")
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

func run(hostName string, serviceID protocol.ServiceID) error {
	if err := setLogLevel(); err != nil {
		return err
	}

	logFile, err := openRoleLog("endnode", hostName)
	if err != nil {
		log.Warningf("endnode: could not open role log file, logging to stderr: %v", err)
	} else {
		defer logFile.Close()
	}

	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Debugf("endnode: config: %+v", cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	svc, ok := cfg.ServiceByID(uint64(serviceID))
	if !ok {
		return fmt.Errorf("service %d is not present in SERVICE_SETTINGS", serviceID)
	}

	clientID := protocol.ClientID(cfg.Unit.ClientID)
	rmAddr := &net.UDPAddr{IP: net.ParseIP(cfg.Unit.RMIP), Port: cfg.Unit.RMPort}
	ctrlAddr := &net.UDPAddr{IP: net.ParseIP(cfg.Unit.ControlLocalIP), Port: cfg.Unit.ControlLocalPort}

	ctrl, err := transport.Listen(ctrlAddr)
	if err != nil {
		return fmt.Errorf("binding control socket: %w", err)
	}
	defer ctrl.Close()

	if len(cfg.Unit.DataLocalIPs) == 0 || len(cfg.Unit.DataLocalPorts) == 0 {
		return fmt.Errorf("UNIT_SETTINGS has no data-plane local endpoint configured")
	}
	dataLaddr := &net.UDPAddr{IP: net.ParseIP(cfg.Unit.DataLocalIPs[0]), Port: cfg.Unit.DataLocalPorts[0]}
	dataConn, err := net.ListenUDP("udp", dataLaddr)
	if err != nil {
		return fmt.Errorf("binding data socket: %w", err)
	}
	defer dataConn.Close()

	gen := generator.New(serviceID, clientID, dataConn, generator.ResolveFromServiceSettings(svc))
	a := agent.New(clientID, rmAddr, ctrl, gen, nil)

	go func() {
		if err := ctrl.Serve(a.Dispatch); err != nil {
			log.Errorf("endnode: control socket serve loop exited: %v", err)
		}
	}()
	go gen.Run()

	syncReq := protocol.ControlMessage{
		Kind:       protocol.RMClientSyncRequest,
		SourceID:   clientID,
		ServiceID:  serviceID,
		ProtocolID: protocol.ProtocolRM,
	}
	if err := ctrl.Send(syncReq, rmAddr); err != nil {
		log.Warningf("endnode: failed to send initial sync request: %v", err)
	}
	sdNotifyReady("endnode")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("endnode: shutting down")
	a.RequestStop()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
