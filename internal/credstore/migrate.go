package credstore

import (
	"context"
	"fmt"
)

// Copy moves the stored set from src into dst. With move set, src is wiped
// once dst holds the record. An empty src returns ErrNoCredentials and leaves
// dst untouched.
func Copy(ctx context.Context, src, dst Store, move bool) (*Credentials, error) {
	creds, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := dst.Save(ctx, creds); err != nil {
		return nil, fmt.Errorf("write destination: %w", err)
	}
	if move {
		if err := src.Wipe(ctx); err != nil {
			return creds, fmt.Errorf("wipe source: %w", err)
		}
	}
	return creds, nil
}
