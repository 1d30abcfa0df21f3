package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jokelbaf/proxyko/pkg/models"
)

// StatusStore persists the single-row global proxy state.
type StatusStore struct {
	DB DB
}

// Get returns the global status, creating the default row on first use.
func (s *StatusStore) Get(ctx context.Context) (models.GlobalStatus, error) {
	var g models.GlobalStatus
	err := s.DB.QueryRow(ctx, `
		SELECT enable_proxy, require_auth, public_host, public_port
		FROM global_status WHERE server_id=1
	`).Scan(&g.EnableProxy, &g.RequireAuth, &g.PublicHost, &g.PublicPort)
	if errors.Is(err, pgx.ErrNoRows) {
		defaults := models.GlobalStatus{EnableProxy: true}
		if setErr := s.Set(ctx, defaults); setErr != nil {
			return models.GlobalStatus{}, setErr
		}
		return defaults, nil
	}
	return g, err
}

// Set overwrites the global status row.
func (s *StatusStore) Set(ctx context.Context, g models.GlobalStatus) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO global_status (server_id, enable_proxy, require_auth, public_host, public_port)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (server_id) DO UPDATE
		SET enable_proxy=EXCLUDED.enable_proxy, require_auth=EXCLUDED.require_auth,
		    public_host=EXCLUDED.public_host, public_port=EXCLUDED.public_port
	`, g.EnableProxy, g.RequireAuth, g.PublicHost, g.PublicPort)
	return err
}
