package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"arctic-iceberg/proxy"
	"arctic-iceberg/replication"
	"arctic-iceberg/server"
	"arctic-iceberg/writer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Replicate the configured tables and serve them",
	Long: `Runs the replication stream for the configured tables (if any), the
Postgres wire protocol proxy and the REST catalog until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	cat, closeCatalog, err := openCatalog(ctx, cfg, s, logger)
	if err != nil {
		return err
	}
	defer closeCatalog()

	engine, err := proxy.NewEngine(cat, s, logger, duckdbExtensions(cfg)...)
	if err != nil {
		return err
	}
	defer engine.Close()

	g, gCtx := errgroup.WithContext(ctx)

	if len(cfg.Tables) > 0 {
		replicator := replication.NewReplicator(cfg, cat, s, writer.New(cat, s, logger), logger)
		g.Go(func() error {
			return replicator.Start(gCtx)
		})
	} else {
		logger.Info("no tables configured, replication disabled")
	}

	g.Go(func() error {
		return proxy.NewProxy(engine, logger).ListenAndServe(gCtx, cfg.Proxy.Port)
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(cat, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		logger.Info("REST catalog started", "addr", cfg.Server.Addr)
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
