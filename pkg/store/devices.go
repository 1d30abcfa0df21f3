package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jokelbaf/proxyko/pkg/models"
)

// DeviceStore persists client devices and their PAC tokens.
type DeviceStore struct {
	DB DB
}

const deviceColumns = `id, name, type, token, created_at, updated_at`

func scanDevice(row pgx.Row) (models.Device, error) {
	var d models.Device
	err := row.Scan(&d.ID, &d.Name, &d.Type, &d.Token, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (s *DeviceStore) List(ctx context.Context) ([]models.Device, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	devices := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *DeviceStore) Get(ctx context.Context, id int64) (models.Device, error) {
	d, err := scanDevice(s.DB.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Device{}, ErrNotFound
	}
	return d, err
}

// GetByToken resolves a PAC device token. ErrNotFound means the token does
// not identify any device.
func (s *DeviceStore) GetByToken(ctx context.Context, token string) (models.Device, error) {
	d, err := scanDevice(s.DB.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE token=$1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Device{}, ErrNotFound
	}
	return d, err
}

func (s *DeviceStore) Create(ctx context.Context, d models.Device) (models.Device, error) {
	created, err := scanDevice(s.DB.QueryRow(ctx, `
		INSERT INTO devices (name, type, token) VALUES ($1,$2,$3)
		RETURNING `+deviceColumns,
		d.Name, d.Type, d.Token))
	return created, err
}

func (s *DeviceStore) Update(ctx context.Context, id int64, d models.Device) (models.Device, error) {
	updated, err := scanDevice(s.DB.QueryRow(ctx, `
		UPDATE devices SET name=$2, type=$3, token=$4, updated_at=now() WHERE id=$1
		RETURNING `+deviceColumns,
		id, d.Name, d.Type, d.Token))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Device{}, ErrNotFound
	}
	return updated, err
}

func (s *DeviceStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM devices WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
