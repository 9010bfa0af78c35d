package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/config"
	"github.com/xhad/docrag/pkg/llm"
	"github.com/xhad/docrag/pkg/loader"
	"github.com/xhad/docrag/pkg/processor"
	"github.com/xhad/docrag/pkg/rag"
	"github.com/xhad/docrag/pkg/session"
	"github.com/xhad/docrag/pkg/store"
	"github.com/xhad/docrag/server"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string
	var origins []string
	var debug bool

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, origins, logger)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	serve.Flags().StringSliceVar(&origins, "allow-origin", nil, "CORS origins (default *)")
	serve.Flags().BoolVar(&debug, "debug", false, "development logging")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file")

	return serve
}

func checkCMD() *cobra.Command {
	var cfgPath string
	var check = &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provider=%s model=%s backend=%s addr=%s\n",
				cfg.LLM.Provider, cfg.LLM.Model, cfg.Index.Backend, cfg.Server.Addr)
			return nil
		},
	}
	check.Flags().StringVarP(&cfgPath, "config", "c", "", "config file")
	return check
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, origins []string, logger *zap.Logger) error {
	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.EmbeddingModel,
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		BatchSize:         cfg.Index.BatchSize,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var indexes types.IndexFactory
	switch cfg.Index.Backend {
	case config.BackendPGVector:
		pg, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Index.URL,
			TableName:  cfg.Index.TableName,
			VectorDim:  cfg.Index.VectorDim,
			BatchSize:  cfg.Index.BatchSize,
		}, embedder)
		if err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
		defer pg.Close()
		indexes = pg
	default:
		indexes = store.MemoryFactory{Embedder: embedder}
	}
	logger.Info("Index backend ready", zap.String("backend", cfg.Index.Backend))

	sessions := session.NewWithConfig(session.StoreConfig{
		Capacity: cfg.Sessions.Capacity,
		TTL:      cfg.Sessions.TTL,
	}, logger.Named("sessions"))

	chunker := processor.NewWithConfig(processor.ProcessorConfig{
		MaxInputChars: cfg.Processor.MaxInputChars,
		WindowOverlap: cfg.Processor.WindowOverlap,
	}, chatEngine)

	ingestor := rag.NewIngestor(rag.IngestorConfig{TopK: cfg.Retrieval.TopK},
		loader.New(), chunker, indexes, sessions, logger.Named("ingest"))
	orch := rag.NewOrchestrator(rag.OrchestratorConfig{MaxInputChars: cfg.Processor.MaxInputChars},
		sessions, chatEngine, logger.Named("rag"))

	srv := server.New(server.Config{
		MaxUploadMB:  cfg.Server.MaxUploadMB,
		AllowOrigins: origins,
	}, ingestor, orch, sessions, logger.Named("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to release sessions: %w", err))
	}
	return errors.Join(errs...)
}
