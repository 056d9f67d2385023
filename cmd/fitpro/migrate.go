// cmd/fitpro/migrate.go
package main

import (
	"fmt"

	"fitpro/config"
	"fitpro/internal/db"
	"fitpro/pkg/logger"

	"github.com/spf13/cobra"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var dir string
	var direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			l := logger.New(cfg.LogLevel)
			defer l.Sync()

			if cfg.DB.Driver == "sqlite" {
				gdb, err := db.Open(cfg.DB, l)
				if err != nil {
					return err
				}
				defer db.Close(gdb)
				l.Infow("sqlite schema migrated", "path", cfg.DB.SQLitePath)
				return nil
			}

			if err := db.Migrate(dir, cfg.DB.PostgresDSN(), direction, steps); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			l.Infow("migrations applied", "direction", direction, "steps", steps)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations source such as file://migrations (default: embedded)")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
