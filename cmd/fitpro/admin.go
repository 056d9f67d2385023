// cmd/fitpro/admin.go
package main

import (
	"context"
	"errors"

	"fitpro/config"
	"fitpro/internal/auth"
	"fitpro/internal/db"
	"fitpro/pkg/logger"

	"github.com/spf13/cobra"
)

func createAdminCMD(cfgPath *string) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account or promote an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			l := logger.New(cfg.LogLevel)
			defer l.Sync()

			gdb, err := db.Open(cfg.DB, l)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			svc := auth.NewService(db.NewUserStore(gdb), db.NewEventStore(gdb),
				auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg.Auth.BcryptCost, l)
			u, err := svc.CreateAdmin(context.Background(), email, password)
			if err != nil {
				return err
			}
			l.Infow("admin ready", "userId", u.ID, "email", u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password (min 8 characters)")
	return cmd
}
