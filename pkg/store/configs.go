package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/jokelbaf/proxyko/pkg/models"
	"github.com/jokelbaf/proxyko/pkg/priority"
)

// ConfigStore persists PAC configs. Priority mutations are serialized by an
// in-process mutex per scope and applied inside one transaction, so the
// contiguous 1..N invariant holds at every commit boundary.
type ConfigStore struct {
	DB DB

	mu sync.Mutex
}

const configColumns = `id, name, description, priority, ip_filter, function, use_builtin_proxy, is_active, mode, created_at, updated_at`

func scanConfig(row pgx.Row) (models.Config, error) {
	var c models.Config
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Priority, &c.IPFilter, &c.Function,
		&c.UseBuiltinProxy, &c.IsActive, &c.Mode, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// List returns all configs ordered ascending by priority, device sets
// attached.
func (s *ConfigStore) List(ctx context.Context) ([]models.Config, error) {
	return s.list(ctx, false)
}

// ListActive returns active configs only, ordered ascending by priority.
// This is the evaluator's read path.
func (s *ConfigStore) ListActive(ctx context.Context) ([]models.Config, error) {
	return s.list(ctx, true)
}

func (s *ConfigStore) list(ctx context.Context, activeOnly bool) ([]models.Config, error) {
	query := `SELECT ` + configColumns + ` FROM configs ORDER BY priority ASC`
	if activeOnly {
		query = `SELECT ` + configColumns + ` FROM configs WHERE is_active ORDER BY priority ASC`
	}
	rows, err := s.DB.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []models.Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		c.DeviceIDs = []int64{}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachDevices(ctx, configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *ConfigStore) attachDevices(ctx context.Context, configs []models.Config) error {
	if len(configs) == 0 {
		return nil
	}
	rows, err := s.DB.Query(ctx, `SELECT config_id, device_id FROM config_devices ORDER BY device_id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	byConfig := map[int64][]int64{}
	for rows.Next() {
		var configID, deviceID int64
		if err := rows.Scan(&configID, &deviceID); err != nil {
			return err
		}
		byConfig[configID] = append(byConfig[configID], deviceID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range configs {
		if ids, ok := byConfig[configs[i].ID]; ok {
			configs[i].DeviceIDs = ids
		}
	}
	return nil
}

func (s *ConfigStore) Get(ctx context.Context, id int64) (models.Config, error) {
	c, err := scanConfig(s.DB.QueryRow(ctx,
		`SELECT `+configColumns+` FROM configs WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Config{}, ErrNotFound
	}
	if err != nil {
		return models.Config{}, err
	}
	c.DeviceIDs = []int64{}
	single := []models.Config{c}
	if err := s.attachDevices(ctx, single); err != nil {
		return models.Config{}, err
	}
	return single[0], nil
}

// Create inserts a config at priority max+1 and links its device set.
func (s *ConfigStore) Create(ctx context.Context, c models.Config) (models.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return models.Config{}, err
	}
	defer tx.Rollback(ctx)

	items, err := priorityItems(ctx, tx, "configs")
	if err != nil {
		return models.Config{}, err
	}
	c.Priority = priority.NextPriority(items)

	row := tx.QueryRow(ctx, `
		INSERT INTO configs (name, description, priority, ip_filter, function, use_builtin_proxy, is_active, mode)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+configColumns,
		c.Name, c.Description, c.Priority, c.IPFilter, c.Function, c.UseBuiltinProxy, c.IsActive, c.Mode)
	created, err := scanConfig(row)
	if err != nil {
		return models.Config{}, err
	}
	if err := replaceConfigDevices(ctx, tx, created.ID, c.DeviceIDs); err != nil {
		return models.Config{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Config{}, err
	}
	created.DeviceIDs = c.DeviceIDs
	if created.DeviceIDs == nil {
		created.DeviceIDs = []int64{}
	}
	return created, nil
}

// Update rewrites the mutable fields and the device set. Priority is not
// touched here; use Move.
func (s *ConfigStore) Update(ctx context.Context, id int64, c models.Config) (models.Config, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return models.Config{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE configs
		SET name=$2, description=$3, ip_filter=$4, function=$5, use_builtin_proxy=$6, is_active=$7, mode=$8, updated_at=now()
		WHERE id=$1
		RETURNING `+configColumns,
		id, c.Name, c.Description, c.IPFilter, c.Function, c.UseBuiltinProxy, c.IsActive, c.Mode)
	updated, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Config{}, ErrNotFound
	}
	if err != nil {
		return models.Config{}, err
	}
	if err := replaceConfigDevices(ctx, tx, id, c.DeviceIDs); err != nil {
		return models.Config{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Config{}, err
	}
	updated.DeviceIDs = c.DeviceIDs
	if updated.DeviceIDs == nil {
		updated.DeviceIDs = []int64{}
	}
	return updated, nil
}

// Delete removes a config and closes the priority gap it leaves.
func (s *ConfigStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteWithRenumber(ctx, s.DB, "configs", id)
}

// Move reassigns the config's priority, shifting its neighbors.
func (s *ConfigStore) Move(ctx context.Context, id int64, newPriority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return moveWithRenumber(ctx, s.DB, "configs", id, newPriority)
}

// SetActive toggles a config without renumbering.
func (s *ConfigStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.DB.Exec(ctx, `UPDATE configs SET is_active=$2, updated_at=now() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func replaceConfigDevices(ctx context.Context, tx pgx.Tx, configID int64, deviceIDs []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM config_devices WHERE config_id=$1`, configID); err != nil {
		return err
	}
	for _, deviceID := range deviceIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO config_devices (config_id, device_id) VALUES ($1,$2)`, configID, deviceID); err != nil {
			return err
		}
	}
	return nil
}

// priorityItems reads the (id, priority) pairs of a scope with row locks
// held for the rest of the transaction.
func priorityItems(ctx context.Context, tx pgx.Tx, table string) ([]priority.Item, error) {
	rows, err := tx.Query(ctx, `SELECT id, priority FROM `+table+` ORDER BY priority FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []priority.Item
	for rows.Next() {
		var it priority.Item
		if err := rows.Scan(&it.ID, &it.Priority); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func applyPriorityUpdates(ctx context.Context, tx pgx.Tx, table string, updates []priority.Item) error {
	for _, u := range updates {
		if _, err := tx.Exec(ctx, `UPDATE `+table+` SET priority=$2 WHERE id=$1`, u.ID, u.Priority); err != nil {
			return err
		}
	}
	return nil
}

func deleteWithRenumber(ctx context.Context, db DB, table string, id int64) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var deletedPriority int
	err = tx.QueryRow(ctx, `DELETE FROM `+table+` WHERE id=$1 RETURNING priority`, id).Scan(&deletedPriority)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	items, err := priorityItems(ctx, tx, table)
	if err != nil {
		return err
	}
	updates := priority.CloseGap(items, deletedPriority)
	if err := applyPriorityUpdates(ctx, tx, table, updates); err != nil {
		return err
	}
	if err := priority.Verify(priority.Apply(items, updates)); err != nil {
		return fmt.Errorf("%s priority invariant after delete: %w", table, err)
	}
	return tx.Commit(ctx)
}

func moveWithRenumber(ctx context.Context, db DB, table string, id int64, newPriority int) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	items, err := priorityItems(ctx, tx, table)
	if err != nil {
		return err
	}
	updates, err := priority.Move(items, id, newPriority)
	if err != nil {
		return ErrNotFound
	}
	if err := applyPriorityUpdates(ctx, tx, table, updates); err != nil {
		return err
	}
	if err := priority.Verify(priority.Apply(items, updates)); err != nil {
		return fmt.Errorf("%s priority invariant after move: %w", table, err)
	}
	return tx.Commit(ctx)
}
