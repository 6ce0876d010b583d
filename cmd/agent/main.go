// Command agent is the medialib remote ingest agent: it discovers,
// classifies, fingerprints, and enriches media files under configured
// roots and reports them to a host catalog server.
//
// Usage: agent <host-url> [--clear-cache]
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/medialib/agent/internal/agentstate"
	"github.com/medialib/agent/internal/config"
	"github.com/medialib/agent/internal/control"
	"github.com/medialib/agent/internal/logger"
	"github.com/medialib/agent/internal/orchestrator"
	"github.com/medialib/agent/internal/outbox"
	"github.com/medialib/agent/internal/permits"
	"github.com/medialib/agent/internal/probe"
	"github.com/medialib/agent/internal/scanner"
	"github.com/medialib/agent/internal/store"
	"github.com/medialib/agent/internal/uploader"
)

const (
	shutdownGrace = 10 * time.Second
	httpTimeout   = 30 * time.Second
	probeTimeout  = 60 * time.Second
	flushInterval = 2 * time.Second
)

var clearCacheFlag bool

func main() {
	root := &cobra.Command{
		Use:           "agent <host-url>",
		Short:         "medialib remote ingest agent",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
	root.Flags().BoolVar(&clearCacheFlag, "clear-cache", false, "delete the local reuse cache before starting")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(hostURL string) error {
	localPath := defaultLocalConfigPath()
	local, err := config.LoadLocal(localPath)
	if err != nil {
		return fmt.Errorf("load local config: %w", err)
	}
	local.HostURL = hostURL
	if err := local.Save(localPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not persist local config: %v\n", err)
	}

	if err := os.MkdirAll(local.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	if err := logger.InitWithFile(local.LogLevel, filepath.Join(local.StateDir, "agent.log")); err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging to file failed, stdout only: %v\n", err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	holder := config.NewHolder(localPath, local)
	go func() {
		if err := holder.Watch(ctx); err != nil {
			logger.Error("cmd/agent: local config watch failed", "error", err)
		}
	}()

	dbPath := filepath.Join(local.StateDir, "agent_cache.db")
	if clearCacheFlag {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("cmd/agent: --clear-cache could not remove db file", "path", dbPath, "error", err)
		}
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	defer st.Close()

	httpClient := &http.Client{Timeout: httpTimeout}

	fetcher := config.NewFetcher(hostURL, httpClient)
	if err := fetcher.Refresh(ctx); err != nil {
		logger.Warn("cmd/agent: initial config fetch failed, using defaults", "error", err)
	}
	remote := fetcher.Get()

	sc := scanner.New(remote.FollowSymlinks)
	pool := permits.New(local.MinWorkers, local.MinWorkers, clampMax(local.MaxWorkers, remote.AgentMaxWorkers))
	prober := probe.New(local.FFprobePath, probeTimeout)
	up := uploader.New(hostURL, httpClient, remote.AgentBatchSize, flushInterval, remote.AgentGzip, st)
	drainer := outbox.New(st, hostURL, httpClient)
	state := agentstate.New()

	orch := orchestrator.New(sc, fetcher, st, pool, prober, up, drainer, state)

	control.RegisterMetrics(state, up)
	handler := control.NewHandler(state, st, orch, up, fetcher)
	controlServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", local.ControlPort),
		Handler: control.NewRouter(handler),
	}

	logStartupBanner(local, remote, hostURL)

	go fetcher.Run(ctx)

	uploaderDone := make(chan struct{})
	go func() {
		up.Run(ctx)
		close(uploaderDone)
	}()

	orchDone := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(orchDone)
	}()

	// A bind failure on the control port is a fatal startup error, not
	// something to log and limp past.
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("cmd/agent: control surface listening", "port", local.ControlPort)
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("control server: %w", err)
	case <-sigCh:
	}

	logger.Info("cmd/agent: shutdown signal received, draining in-flight work")
	cancel()

	// Await in-flight hash/probe tasks and the uploader's final
	// seal-to-outbox, bounded by the grace period.
	grace := time.After(shutdownGrace)
	for _, done := range []<-chan struct{}{orchDone, uploaderDone} {
		select {
		case <-done:
		case <-grace:
			logger.Warn("cmd/agent: shutdown grace period expired with work still in flight")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("cmd/agent: control server shutdown error", "error", err)
	}

	logger.Info("cmd/agent: shutdown complete")
	return nil
}

func defaultLocalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".medialib", "agent.yaml")
}

// clampMax keeps the operator-configured MaxWorkers ceiling from this
// machine's Local config authoritative over whatever the host's Remote
// policy requests, per internal/config.Local's doc comment.
func clampMax(localMax, remoteMax int) int {
	if remoteMax > 0 && remoteMax < localMax {
		return remoteMax
	}
	return localMax
}

func logStartupBanner(local *config.Local, remote *config.Remote, hostURL string) {
	logger.Info("cmd/agent: starting",
		"host", hostURL,
		"state_dir", local.StateDir,
		"control_port", local.ControlPort,
		"ffprobe_path", local.FFprobePath,
		"min_workers", local.MinWorkers,
		"max_workers", local.MaxWorkers,
		"hash_algo", remote.HashAlgo,
		"do_full_hash", remote.DoFullHash,
		"roots", remote.RemoteRoots,
	)
}
