// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/storaged-project/storaged/internal/daemon"
	"github.com/storaged-project/storaged/pkg/module"
)

var storagedLog = log.WithFields(log.Fields{
	"name": "storaged",
	"pid":  os.Getpid(),
})

func initLog(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		l = log.InfoLevel
	}
	storagedLog.Logger.SetLevel(l)
	storagedLog.Logger.Formatter = &log.TextFormatter{TimestampFormat: time.RFC3339Nano}
}

func loadMode(force, disable bool) daemon.LoadMode {
	switch {
	case force:
		return daemon.LoadForce
	case disable:
		return daemon.LoadDisable
	default:
		return daemon.LoadLazy
	}
}

func connectBus() *dbus.Conn {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		storagedLog.WithError(err).Warn("could not connect to the system bus, running with the Bus Manager disabled")
		return nil
	}
	return conn
}

func main() {
	app := cli.NewApp()
	app.Name = "storaged"
	app.Usage = "privileged storage device discovery and management daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "Logging level (trace/debug/info/warn/error/fatal/panic).",
		},
		cli.StringFlag{
			Name:  "state-dir",
			Value: "/var/lib/storaged",
			Usage: "Directory the state journal is persisted under.",
		},
		cli.StringFlag{
			Name:  "config-dir",
			Value: "/etc/storaged",
			Usage: "Directory per-drive .conf files are read from and watched for changes.",
		},
		cli.StringFlag{
			Name:  "bus-name",
			Value: "org.storaged.storaged",
			Usage: "Well-known D-Bus name to request on the system bus.",
		},
		cli.StringFlag{
			Name:  "root-prefix",
			Value: "/org/storaged/storaged",
			Usage: "Root object path every exported object is nested under.",
		},
		cli.IntFlag{
			Name:  "metrics-port",
			Value: 9393,
			Usage: "Port the Prometheus /metrics endpoint listens on; 0 disables it.",
		},
		cli.BoolFlag{
			Name:  "force-load-modules",
			Usage: "Load every built-in module at startup instead of lazily.",
		},
		cli.BoolFlag{
			Name:  "disable-modules",
			Usage: "Never load any built-in module.",
		},
		cli.BoolFlag{
			Name:  "no-bus",
			Usage: "Run without claiming a D-Bus name (for local testing).",
		},
	}

	app.Action = func(c *cli.Context) error {
		initLog(c.String("log-level"))
		daemon.SetLogger(storagedLog)

		if c.Bool("force-load-modules") && c.Bool("disable-modules") {
			return cli.NewExitError("--force-load-modules and --disable-modules are mutually exclusive", 2)
		}

		var conn *dbus.Conn
		if !c.Bool("no-bus") {
			conn = connectBus()
		}

		cfg := daemon.Config{
			RootPrefix: c.String("root-prefix"),
			BusName:    c.String("bus-name"),
			StateDir:   c.String("state-dir"),
			ConfigDir:  c.String("config-dir"),
			LoadMode:   loadMode(c.Bool("force-load-modules"), c.Bool("disable-modules")),
			Conn:       conn,
		}

		mods := []module.Module{
			module.NewISCSIModule(cfg.RootPrefix),
			module.NewLVM2Module(),
		}

		d, err := daemon.New(cfg, mods...)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("starting daemon: %v", err), 1)
		}

		if port := c.Int("metrics-port"); port > 0 {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", port)
			go func() {
				storagedLog.WithField("addr", addr).Info("serving prometheus metrics")
				if err := http.ListenAndServe(addr, mux); err != nil {
					storagedLog.WithError(err).Warn("metrics server exited")
				}
			}()
		}

		storagedLog.Info("storaged starting")
		if err := d.Run(); err != nil {
			return cli.NewExitError(fmt.Sprintf("daemon exited with error: %v", err), 1)
		}
		storagedLog.Info("storaged stopped")
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
