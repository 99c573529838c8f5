package whatsapp

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// OpenContainer puts whatsmeow's key store on an existing database handle
// and applies its migrations.
func OpenContainer(ctx context.Context, db *sql.DB, dialect string, logger zerolog.Logger) (*sqlstore.Container, error) {
	container := sqlstore.NewWithDB(db, dialect, waLog.Zerolog(logger))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade whatsmeow store: %w", err)
	}
	return container, nil
}

// PurgeDevices deletes every device and its keys from the key store.
func PurgeDevices(ctx context.Context, container *sqlstore.Container) (int, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("list devices: %w", err)
	}
	for i, d := range devices {
		if err := d.Delete(ctx); err != nil {
			return i, fmt.Errorf("delete device %s: %w", d.ID, err)
		}
	}
	return len(devices), nil
}
