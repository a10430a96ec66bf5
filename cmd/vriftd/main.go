// Command vriftd is the per-project daemon described in spec.md §5: it
// owns the durable manifest, the write-ahead log, the content-addressed
// store, and the VDir mmap that accelerates client lookups, and serves
// them all to clients over a per-project Unix domain socket.
//
// Only the minimal startup surface named in SPEC_FULL.md §0 is built
// here (--project-root, --socket, --cas-root, --shm-dir, --log-level,
// --config), plus --log-json, --metrics-addr and --scan; --shm-dir and
// --config are accepted but not read. The CLI front-end (init/ingest/status/gc/...) is out of
// scope per spec.md.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/vrift/pkg/config"
	"github.com/cuemby/vrift/pkg/daemon"
	"github.com/cuemby/vrift/pkg/log"
	"github.com/cuemby/vrift/pkg/metrics"
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vriftd",
	Short:   "vriftd - per-project virtual filesystem accelerator daemon",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vriftd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.Flags().String("project-root", "", "absolute path to the project this daemon serves (required)")
	rootCmd.Flags().String("socket", "", "Unix domain socket path (default: <project-root>/.vrift/daemon.sock)")
	rootCmd.Flags().String("cas-root", "", "override the content-addressed store root (default: [storage].the_source)")
	rootCmd.Flags().String("shm-dir", "", "accepted but not read; the VDir mmap file is always placed under <project-root>/.vrift")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.Flags().String("config", "", "accepted but not read; configuration is loaded from ~/.vrift/config.toml and <project-root>/.vrift/config.toml")
	rootCmd.Flags().String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. 127.0.0.1:9090)")
	rootCmd.Flags().Bool("scan", true, "perform an initial workspace scan before serving")

	cobra.OnInitialize(func() {
		level, _ := rootCmd.Flags().GetString("log-level")
		jsonOut, _ := rootCmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	projectRoot, _ := cmd.Flags().GetString("project-root")
	if projectRoot == "" {
		return fmt.Errorf("--project-root is required")
	}
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("cas-root"); v != "" {
		cfg.Storage.TheSource = v
	}
	if v, _ := cmd.Flags().GetString("socket"); v != "" {
		cfg.Daemon.Socket = v
	} else if cfg.Daemon.Socket == "" || cfg.Daemon.Socket == "/tmp/vrift.sock" {
		cfg.Daemon.Socket = filepath.Join(absRoot, ".vrift", "daemon.sock")
	}

	logger := log.WithComponent("vriftd")
	logger.Info().Str("project_root", absRoot).Str("socket", cfg.Daemon.Socket).Msg("starting")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("manifest", false, "opening")
	metrics.RegisterComponent("cas", false, "opening")
	metrics.RegisterComponent("vdir", false, "opening")

	d, err := daemon.Open(cfg)
	if err != nil {
		return fmt.Errorf("open daemon state: %w", err)
	}
	defer d.Close()
	metrics.UpdateComponent("manifest", true, "ready")
	metrics.UpdateComponent("cas", true, "ready")
	metrics.UpdateComponent("vdir", true, "ready")

	if findings := daemon.Diagnose(cfg, absRoot); len(findings) > 0 {
		for _, f := range findings {
			logger.Warn().Str("code", f.Code).Msg(f.Message)
		}
	}

	if scan, _ := cmd.Flags().GetBool("scan"); scan {
		res, err := d.ScanWorkspace(context.Background())
		if err != nil {
			return fmt.Errorf("initial scan: %w", err)
		}
		logger.Info().Int("files", res.FilesIngested).Int("dirs", res.DirsIndexed).Int("excluded", res.Excluded).Msg("initial scan complete")
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", metrics.HealthHandler())
		mux.HandleFunc("/readyz", metrics.ReadyHandler())
		mux.HandleFunc("/livez", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics server error")
			}
		}()
		logger.Info().Str("addr", addr).Msg("metrics endpoint enabled")
	}

	srv, err := daemon.NewServer(d, cfg.Daemon.Socket)
	if err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
