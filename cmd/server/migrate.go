package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"whatsapp-bridge/internal/config"
	"whatsapp-bridge/internal/credstore"
	"whatsapp-bridge/internal/database"
	applog "whatsapp-bridge/internal/log"
)

func migrateCredentialsCmd() *cobra.Command {
	var from, to string
	var move bool

	cmd := &cobra.Command{
		Use:   "migrate-credentials",
		Short: "Copy the credential record between the file and database backends",
		Long: "Copies the credential record so CREDENTIAL_BACKEND can be switched without re-pairing. " +
			"Protocol keys always live in the database and are not touched.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if from == to {
				return fmt.Errorf("--from and --to are both %q", from)
			}
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			logger := applog.WithComponent("migrate")

			db, err := database.InitGorm(cfg)
			if err != nil {
				return err
			}
			sqlDB, err := database.SQLDB(db)
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			src, err := credentialBackend(from, cfg, db)
			if err != nil {
				return err
			}
			dst, err := credentialBackend(to, cfg, db)
			if err != nil {
				return err
			}

			creds, err := credstore.Copy(cmd.Context(), src, dst, move)
			if errors.Is(err, credstore.ErrNoCredentials) {
				logger.Warn().Str("from", from).Msg("nothing to migrate")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info().Str("from", from).Str("to", to).Bool("moved", move).
				Str("device", creds.DeviceID).Msg("credential record migrated")
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", config.CredentialBackendFile, "source backend (file|db)")
	cmd.Flags().StringVar(&to, "to", config.CredentialBackendDB, "destination backend (file|db)")
	cmd.Flags().BoolVar(&move, "move", false, "wipe the source after copying")
	return cmd
}

func credentialBackend(name string, cfg *config.Config, db *gorm.DB) (credstore.Store, error) {
	switch name {
	case config.CredentialBackendFile:
		return credstore.NewFileStore(cfg.CredentialFile), nil
	case config.CredentialBackendDB:
		return credstore.NewGormStore(db), nil
	}
	return nil, fmt.Errorf("unknown credential backend %q", name)
}
