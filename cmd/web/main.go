package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"examhub/internal/app"
	"examhub/internal/db"
	"examhub/internal/report"
	"examhub/internal/storage"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examhub",
		Short:        "Online exam server",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), exportCmd())
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

func addDBFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", "postgres", "Database backend (postgres, sqlite)")
	f.String("db-dsn", app.Defaults["db-dsn"].(string), "Database DSN or SQLite path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "console", "Log format (console, json)")
	f.String("log-file", "", "Also write JSON logs to this rotated file")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addDBFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("public-base-url", "http://localhost:8080", "Base URL used in invitation links")
	f.Bool("migrate-on-start", true, "Create the schema before serving")
	f.Bool("csrf-enforced", false, "Require the double submit CSRF token on writes")
	f.String("tracing-endpoint", "", "Jaeger collector endpoint (empty disables tracing)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := setup(cmd)
			defer func() { _ = logger.Sync() }()

			conn, dialect, err := db.Open(cmd.Context(), cfg.DBConfig())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn, dialect); err != nil {
				return err
			}
			logger.Info("schema migrated", zap.String("driver", string(dialect)))
			return nil
		},
	}
	addDBFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the results of an exam as an Excel workbook",
		RunE:  runExport,
	}
	addDBFlags(cmd)
	f := cmd.Flags()
	f.String("exam-id", "", "Exam to export (required)")
	f.String("owner", "", "Owning teacher id (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examhub")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examhub")
	v.AddConfigPath("/etc/examhub")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

func setup(cmd *cobra.Command) (app.Config, *zap.Logger) {
	v, err := viperForCmd(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		v = viper.New()
	}
	cfg := app.LoadConfig(v)
	logger := app.NewLogger(cfg)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("loaded config file", zap.String("path", used))
	}
	return cfg, logger
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger := setup(cmd)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, dialect, err := db.Open(ctx, cfg.DBConfig())
	if err != nil {
		logger.Error("database error", zap.Error(err))
		return err
	}
	defer conn.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, conn, dialect); err != nil {
			logger.Error("migration failed", zap.Error(err))
			return err
		}
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	shutdownTracer, err := app.InitTracer(cfg.TracingEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	return serve(ctx, cfg, conn, logger, store)
}

// openStore returns a nil ObjectStore when no MinIO endpoint is configured.
func openStore(ctx context.Context, cfg app.Config, logger *zap.Logger) (storage.ObjectStore, error) {
	ms, err := storage.New(cfg.MinIO)
	if err != nil {
		logger.Error("object storage error", zap.Error(err))
		return nil, err
	}
	if ms == nil {
		logger.Info("object storage not configured, file uploads disabled")
		return nil, nil
	}
	if err := ms.EnsureBucket(ctx); err != nil {
		logger.Error("object storage error", zap.Error(err))
		return nil, err
	}
	return ms, nil
}

func serve(ctx context.Context, cfg app.Config, conn *sql.DB, logger *zap.Logger, store storage.ObjectStore) error {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(ctx, cfg, conn, logger, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("examhub listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, logger := setup(cmd)
	defer func() { _ = logger.Sync() }()

	examID, _ := cmd.Flags().GetString("exam-id")
	owner, _ := cmd.Flags().GetString("owner")
	output, _ := cmd.Flags().GetString("output")

	conn, _, err := db.Open(cmd.Context(), cfg.DBConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	var w io.Writer = os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := report.NewService(conn).ExportWorkbook(cmd.Context(), owner, examID, w); err != nil {
		return err
	}
	logger.Info("workbook exported", zap.String("exam_id", examID), zap.String("output", output))
	return nil
}
