package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"device-management/internal/config"
	"device-management/internal/database"
	"device-management/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	Driver string
	Path   string
	Print  bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand apply-migration [migration.sql...]
// 先执行内置建表 DDL，再按顺序执行给定的迁移文件
func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "apply-migration [migration.sql...]",
		Short: "Apply the device-management schema and optional migration files",
		Long: `Apply the built-in schema (CREATE ... IF NOT EXISTS) to the configured database,
then execute each migration file in order. Connection settings come from
CONFIG_FILE and the DB_* environment variables; --driver and --path override them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Print {
				ddl, err := database.Schema(driverOrDefault(opts.Driver))
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), ddl)
				return err
			}
			return runMigrate(cmd.Context(), opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Driver, "driver", "", "database driver (postgres|sqlite3), overrides config")
	cmd.Flags().StringVar(&opts.Path, "path", "", "sqlite3 database file, overrides config")
	cmd.Flags().BoolVar(&opts.Print, "print", false, "print the schema DDL instead of applying it")
	return cmd
}

func driverOrDefault(driver string) string {
	if driver != "" {
		return driver
	}
	return config.Default().Database.Driver
}

func runMigrate(ctx context.Context, opts *options, files []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.Path != "" {
		cfg.Database.Path = opts.Path
	}

	log, err := logger.NewLogger(cfg.Log.Level, "console", "apply-migration")
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	return migrate(ctx, db, cfg.Database.Driver, files, log)
}

func migrate(ctx context.Context, db *sql.DB, driver string, files []string, log *zap.Logger) error {
	if err := database.ApplySchema(ctx, db, driver); err != nil {
		return err
	}
	log.Info("Schema applied", zap.String("driver", driver))

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}
		stmts := database.SplitStatements(string(content))
		for i, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: failed to execute statement %d: %w", file, i+1, err)
			}
		}
		log.Info("Migration applied", zap.String("file", file), zap.Int("statements", len(stmts)))
	}
	return nil
}
