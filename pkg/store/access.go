package store

import (
	"context"

	"github.com/jokelbaf/proxyko/pkg/models"
)

// AccessStore persists PAC access records.
type AccessStore struct {
	DB DB
}

func (s *AccessStore) Append(ctx context.Context, rec models.AccessRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO access_records (id, ip, user_agent, device_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, rec.ID, rec.IP, rec.UserAgent, rec.DeviceID, rec.CreatedAt)
	return err
}

// List returns the newest records first.
func (s *AccessStore) List(ctx context.Context, limit, offset int) ([]models.AccessRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, ip, user_agent, device_id, created_at
		FROM access_records ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []models.AccessRecord{}
	for rows.Next() {
		var rec models.AccessRecord
		if err := rows.Scan(&rec.ID, &rec.IP, &rec.UserAgent, &rec.DeviceID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
