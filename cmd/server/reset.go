package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"whatsapp-bridge/internal/database"
	applog "whatsapp-bridge/internal/log"
	"whatsapp-bridge/internal/whatsapp"
)

func resetCredentialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-credentials",
		Short: "Forget the linked device so the next start pairs from scratch",
		Long: "Deletes the stored credential record and every protocol key in the database. " +
			"The phone still lists the old linked device until it is removed there.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			logger := applog.WithComponent("reset")
			ctx := cmd.Context()

			db, err := database.InitGorm(cfg)
			if err != nil {
				return err
			}
			sqlDB, err := database.SQLDB(db)
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if err := openCredentialStore(cfg, db).Wipe(ctx); err != nil {
				return fmt.Errorf("wipe credential record: %w", err)
			}

			container, err := whatsapp.OpenContainer(ctx, sqlDB, database.Dialect(cfg), applog.WithComponent("whatsmeow"))
			if err != nil {
				return err
			}
			n, err := whatsapp.PurgeDevices(ctx, container)
			if err != nil {
				return err
			}

			logger.Info().Str("backend", cfg.CredentialBackend).Int("devices", n).Msg("credentials reset")
			return nil
		},
	}
}
