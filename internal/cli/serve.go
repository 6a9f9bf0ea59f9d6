package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgirard/keepsake/internal/engine"
	"github.com/mgirard/keepsake/internal/llm"
	"github.com/mgirard/keepsake/internal/server"
	"github.com/mgirard/keepsake/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memory daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("configure llm: %w", err)
	}
	retrying := llm.NewRetrying(client, log.Named("llm"))

	eng := engine.New(db, retrying, log, cfg.Pipeline)

	srv := server.New(eng, log.Named("http"), VersionString())
	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		log.Info("keepsake serving",
			zap.String("addr", addr),
			zap.String("db", dbPath),
			zap.String("llm", cfg.LLM.Provider))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		drain := time.Duration(cfg.Pipeline.DrainTimeoutS) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
