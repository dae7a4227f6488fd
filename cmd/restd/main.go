package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openswitch/restd/internal/config"
	"github.com/openswitch/restd/internal/notify"
	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		listen     string
		schemaPath string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:           "restd",
		Short:         "REST management daemon for the switch configuration database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			// Flags win over the environment.
			if listen != "" {
				cfg.ListenAddress = listen
			}
			if schemaPath != "" {
				cfg.SchemaPath = schemaPath
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides LISTEN_ADDRESS")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "extended schema path, overrides SCHEMA_PATH")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	logger.Info("schema loaded",
		zap.String("name", s.Name),
		zap.String("version", s.Version),
		zap.Int("tables", len(s.Tables)))

	db := ovsdb.NewDatabase(s, nil)
	manager := ovsdb.NewManager(db, nil, ovsdb.ManagerConfig{
		TxnTimeout:    time.Duration(cfg.TxnTimeoutSeconds) * time.Second,
		RetryInterval: time.Duration(cfg.ReconnectIntervalMillis) * time.Millisecond,
	}, logger)

	hub := server.NewHub(logger)
	notifier := notify.New(s, db, query.New(s, nil, logger), hub, logger)
	notifier.Register(manager)

	srv, err := server.New(cfg, s, manager, hub, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	managerErr := make(chan error, 1)
	go func() { managerErr <- manager.Run(ctx) }()

	if err := srv.Run(ctx); err != nil {
		return err
	}
	if err := <-managerErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("daemon stopped")
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	var zapCfg zap.Config
	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
