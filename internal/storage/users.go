package storage

import (
	"context"
	"fmt"
)

// LocalUser is the login seeded by the first migration. Requests served
// without Tailscale are attributed to it.
const LocalUser = "local"

// GetOrCreateUser returns the ID for a tailnet login, creating the user on
// first sight. Each call refreshes last_seen; an empty display name keeps the
// stored one.
func (db *DB) GetOrCreateUser(ctx context.Context, login, displayName string) (int, error) {
	var id int
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO users (login, display_name)
		VALUES ($1, $2)
		ON CONFLICT (login) DO UPDATE
			SET last_seen = NOW(), display_name = COALESCE(NULLIF($2, ''), users.display_name)
		RETURNING id
	`, login, displayName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolving user %s: %w", login, err)
	}
	return id, nil
}
