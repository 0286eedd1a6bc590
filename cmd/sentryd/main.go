// Command sentryd is a process supervisor: it launches and restarts a
// declared set of child processes, reconciling the live registry against a
// TOML configuration document.
//
// Three modes share one config-driven setup: "serve" runs the daemon with
// its HTTP API mounted, "shell" runs the same daemon with an interactive
// REPL on stdin/stdout instead, and the one-shot subcommands (start/stop/
// status/reload) talk to an already-running daemon over that HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kael-dev/sentryd/internal/config"
	"github.com/kael-dev/sentryd/internal/env"
	"github.com/kael-dev/sentryd/internal/history"
	historyfactory "github.com/kael-dev/sentryd/internal/history/factory"
	"github.com/kael-dev/sentryd/internal/httpapi"
	"github.com/kael-dev/sentryd/internal/logger"
	"github.com/kael-dev/sentryd/internal/metrics"
	"github.com/kael-dev/sentryd/internal/proc"
	"github.com/kael-dev/sentryd/internal/registry"
	"github.com/kael-dev/sentryd/internal/shell"
	storefactory "github.com/kael-dev/sentryd/internal/store/factory"
	"github.com/kael-dev/sentryd/internal/supervisor"
	"github.com/kael-dev/sentryd/pkg/client"
)

// stack is the in-process wiring shared by "serve" and "shell": a registry,
// a launcher-backed supervisor, a reconciler, and the command handler that
// fronts them both.
type stack struct {
	handler     *supervisor.Handler
	log         *slog.Logger
	reg         *registry.Registry
	procMetrics *metrics.ProcessMetricsCollector
}

func buildStack(configPath string) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.DaemonConfig{Level: "info"}
	if cfg.Log != nil {
		logCfg = logger.DaemonConfig{
			Level:      cfg.Log.Level,
			Dir:        cfg.Log.Dir,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	log := logger.NewDaemonLogger(logCfg)

	envM := env.New()
	for _, kv := range cfg.GlobalEnv {
		if i := indexByte(kv, '='); i >= 0 {
			envM = envM.WithSet(kv[:i], kv[i+1:])
		}
	}

	reg := registry.New()
	launcher := proc.NewLauncher()
	sup := supervisor.New(reg, launcher, envM, log)

	if cfg.Store != nil && cfg.Store.Enabled {
		st, err := storefactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := st.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("ensure store schema: %w", err)
		}
		sup.SetStore(st)
	}

	if cfg.History != nil && cfg.History.Enabled {
		sinks := make([]history.Sink, 0, len(cfg.History.Sinks))
		for _, dsn := range cfg.History.Sinks {
			sink, err := historyfactory.NewSinkFromDSN(dsn)
			if err != nil {
				return nil, fmt.Errorf("open history sink %q: %w", dsn, err)
			}
			sinks = append(sinks, sink)
		}
		sup.SetHistorySinks(sinks...)
	}

	recon := registry.NewReconciler(reg, sup, sup, 10*time.Second)

	loader := func() ([]proc.Spec, error) {
		return config.LoadSpecs(configPath)
	}
	h := supervisor.NewHandler(reg, sup, recon, loader)

	if err := recon.Apply(context.Background(), cfg.Specs); err != nil {
		return nil, fmt.Errorf("initial reconcile: %w", err)
	}

	var procMetrics *metrics.ProcessMetricsCollector
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "error", err)
		}
		procMetrics = metrics.NewProcessMetricsCollector(metrics.ProcessMetricsConfig{Enabled: true})
		if err := procMetrics.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("process metrics registration failed", "error", err)
		}
	}

	return &stack{handler: h, log: log, reg: reg, procMetrics: procMetrics}, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func main() {
	var configPath string
	var clientBaseURL string
	var name string
	var wait time.Duration

	root := &cobra.Command{Use: "sentryd", Short: "process supervision daemon"}
	root.PersistentFlags().StringVar(&configPath, "config", "sentryd.toml", "path to configuration file")
	root.PersistentFlags().StringVar(&clientBaseURL, "api", "http://localhost:8080", "base URL of a running daemon's API, for one-shot subcommands")

	cmdServe := &cobra.Command{
		Use:   "serve",
		Short: "run the daemon with its HTTP API mounted",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(configPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			listen := ":8080"
			basePath := ""
			if cfg.Server != nil {
				if cfg.Server.Listen != "" {
					listen = cfg.Server.Listen
				}
				basePath = cfg.Server.BasePath
			}
			srv, err := httpapi.NewServer(listen, basePath, st.handler)
			if err != nil {
				return fmt.Errorf("build http server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if st.procMetrics != nil {
				if err := st.procMetrics.Start(ctx, st.reg.LivePIDs); err != nil {
					st.log.Warn("process metrics collector failed to start", "error", err)
				}
				defer st.procMetrics.Stop()
			}

			// NewServer has already started listening.
			st.log.Info("serving", "listen", listen)

			<-ctx.Done()
			st.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmdShell := &cobra.Command{
		Use:   "shell",
		Short: "run the daemon with an interactive REPL on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(configPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logFile := ""
			if cfg.Log != nil {
				logFile = cfg.Log.File
				if logFile == "" && cfg.Log.Dir != "" {
					logFile = cfg.Log.Dir + "/sentryd.log"
				}
			}
			sh := shell.New(st.handler, logFile, os.Stdin, os.Stdout)
			if st.procMetrics != nil {
				if err := st.procMetrics.Start(cmd.Context(), st.reg.LivePIDs); err != nil {
					st.log.Warn("process metrics collector failed to start", "error", err)
				}
				defer st.procMetrics.Stop()
			}
			return sh.Run(cmd.Context())
		},
	}

	cmdStart := &cobra.Command{
		Use:   "start",
		Short: "start a configured program via a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: clientBaseURL})
			return c.Start(cmd.Context(), name)
		},
	}
	cmdStart.Flags().StringVar(&name, "name", "", "program name")
	_ = cmdStart.MarkFlagRequired("name")

	cmdStop := &cobra.Command{
		Use:   "stop",
		Short: "stop a program's replicas via a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: clientBaseURL})
			return c.Stop(cmd.Context(), client.StopRequest{Name: name, Wait: wait})
		},
	}
	cmdStop.Flags().StringVar(&name, "name", "", "program name")
	cmdStop.Flags().DurationVar(&wait, "wait", 10*time.Second, "graceful stop window before SIGKILL")
	_ = cmdStop.MarkFlagRequired("name")

	cmdStatus := &cobra.Command{
		Use:   "status",
		Short: "show program status via a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: clientBaseURL})
			sts, err := c.Status(cmd.Context(), name)
			if err != nil {
				return err
			}
			printJSON(sts)
			return nil
		},
	}
	cmdStatus.Flags().StringVar(&name, "name", "", "program name (omit for all)")

	cmdReload := &cobra.Command{
		Use:   "reload",
		Short: "reconcile a running daemon against its configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: clientBaseURL})
			return c.Reload(cmd.Context())
		},
	}

	root.AddCommand(cmdServe, cmdShell, cmdStart, cmdStop, cmdStatus, cmdReload)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
