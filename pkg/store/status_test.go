package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jokelbaf/proxyko/pkg/models"
)

func TestStatusGetCreatesDefaultRow(t *testing.T) {
	var inserted []any
	db := &fakeDB{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			if strings.Contains(sql, "INSERT INTO global_status") {
				inserted = arguments
			}
			return pgconn.NewCommandTag("INSERT 1"), nil
		},
	}
	s := &StatusStore{DB: db}

	g, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !g.EnableProxy || g.RequireAuth {
		t.Fatalf("default status = %+v", g)
	}
	if len(inserted) != 4 || inserted[0] != true {
		t.Fatalf("default row not persisted: %v", inserted)
	}
}

func TestStatusGetExistingRow(t *testing.T) {
	db := &fakeDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{values: []any{false, true, "pac.example.com", 3128}}
		},
	}
	s := &StatusStore{DB: db}

	g, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := models.GlobalStatus{RequireAuth: true, PublicHost: "pac.example.com", PublicPort: 3128}
	if g != want {
		t.Fatalf("status = %+v, want %+v", g, want)
	}
}

func TestAccessListClampsPaging(t *testing.T) {
	var gotLimit, gotOffset any
	db := &fakeDB{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotLimit, gotOffset = args[0], args[1]
			return &fakeRows{}, nil
		},
	}
	s := &AccessStore{DB: db}

	if _, err := s.List(context.Background(), 0, -5); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotLimit != 100 || gotOffset != 0 {
		t.Fatalf("limit=%v offset=%v, want 100/0", gotLimit, gotOffset)
	}

	if _, err := s.List(context.Background(), 10000, 20); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotLimit != 100 || gotOffset != 20 {
		t.Fatalf("limit=%v offset=%v, want 100/20", gotLimit, gotOffset)
	}
}

func TestAccessListScansRecords(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	db := &fakeDB{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &fakeRows{rows: [][]any{
				{"rec-1", "10.0.0.9", "curl/8.0", int64(3), now},
				{"rec-2", "10.0.0.10", nil, nil, now},
			}}, nil
		},
	}
	s := &AccessStore{DB: db}

	records, err := s.List(context.Background(), 50, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d", len(records))
	}
	if records[0].UserAgent == nil || *records[0].UserAgent != "curl/8.0" {
		t.Fatalf("user agent = %v", records[0].UserAgent)
	}
	if records[0].DeviceID == nil || *records[0].DeviceID != 3 {
		t.Fatalf("device id = %v", records[0].DeviceID)
	}
	if records[1].UserAgent != nil || records[1].DeviceID != nil {
		t.Fatalf("anonymous record should keep nil fields: %+v", records[1])
	}
}
