package store

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/jokelbaf/proxyko/pkg/models"
	"github.com/jokelbaf/proxyko/pkg/priority"
)

// RuleStore persists proxy rules. The rule scope has its own priority
// sequence and its own mutation lock, independent of configs.
type RuleStore struct {
	DB DB

	mu sync.Mutex
}

const ruleColumns = `id, name, description, priority, is_enabled, ip_filter, protocol_matches,
	host_matches, port_matches, path_matches, query_str_matches,
	action, forward_protocol, forward_host, forward_port, created_at, updated_at`

func scanRule(row pgx.Row) (models.ProxyRule, error) {
	var r models.ProxyRule
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Priority, &r.IsEnabled, &r.IPFilter,
		&r.ProtocolMatches, &r.HostMatches, &r.PortMatches, &r.PathMatches, &r.QueryStrMatches,
		&r.Action, &r.ForwardProtocol, &r.ForwardHost, &r.ForwardPort, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// List returns every rule ordered ascending by priority. Agents receive
// this full list, disabled rules included.
func (s *RuleStore) List(ctx context.Context) ([]models.ProxyRule, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+ruleColumns+` FROM proxy_rules ORDER BY priority ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rules := []models.ProxyRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *RuleStore) Get(ctx context.Context, id int64) (models.ProxyRule, error) {
	r, err := scanRule(s.DB.QueryRow(ctx, `SELECT `+ruleColumns+` FROM proxy_rules WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ProxyRule{}, ErrNotFound
	}
	return r, err
}

// Create inserts a rule at priority max+1.
func (s *RuleStore) Create(ctx context.Context, r models.ProxyRule) (models.ProxyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return models.ProxyRule{}, err
	}
	defer tx.Rollback(ctx)

	items, err := priorityItems(ctx, tx, "proxy_rules")
	if err != nil {
		return models.ProxyRule{}, err
	}
	r.Priority = priority.NextPriority(items)

	created, err := scanRule(tx.QueryRow(ctx, `
		INSERT INTO proxy_rules
		(name, description, priority, is_enabled, ip_filter, protocol_matches, host_matches,
		 port_matches, path_matches, query_str_matches, action, forward_protocol, forward_host, forward_port)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+ruleColumns,
		r.Name, r.Description, r.Priority, r.IsEnabled, r.IPFilter, r.ProtocolMatches, r.HostMatches,
		r.PortMatches, r.PathMatches, r.QueryStrMatches, r.Action, r.ForwardProtocol, r.ForwardHost, r.ForwardPort))
	if err != nil {
		return models.ProxyRule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ProxyRule{}, err
	}
	return created, nil
}

// Update rewrites the mutable fields. Priority is not touched here.
func (s *RuleStore) Update(ctx context.Context, id int64, r models.ProxyRule) (models.ProxyRule, error) {
	updated, err := scanRule(s.DB.QueryRow(ctx, `
		UPDATE proxy_rules
		SET name=$2, description=$3, ip_filter=$4, protocol_matches=$5, host_matches=$6,
		    port_matches=$7, path_matches=$8, query_str_matches=$9, action=$10,
		    forward_protocol=$11, forward_host=$12, forward_port=$13, updated_at=now()
		WHERE id=$1
		RETURNING `+ruleColumns,
		id, r.Name, r.Description, r.IPFilter, r.ProtocolMatches, r.HostMatches,
		r.PortMatches, r.PathMatches, r.QueryStrMatches, r.Action,
		r.ForwardProtocol, r.ForwardHost, r.ForwardPort))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ProxyRule{}, ErrNotFound
	}
	return updated, err
}

// Delete removes a rule and closes the priority gap it leaves.
func (s *RuleStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteWithRenumber(ctx, s.DB, "proxy_rules", id)
}

// Move reassigns the rule's priority, shifting its neighbors.
func (s *RuleStore) Move(ctx context.Context, id int64, newPriority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return moveWithRenumber(ctx, s.DB, "proxy_rules", id, newPriority)
}

// SetEnabled toggles a rule without renumbering.
func (s *RuleStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := s.DB.Exec(ctx, `UPDATE proxy_rules SET is_enabled=$2, updated_at=now() WHERE id=$1`, id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceAll swaps the entire rule set for the imported one, priorities
// assigned contiguously in document order. Used by rule import.
func (s *RuleStore) ReplaceAll(ctx context.Context, rules []models.ProxyRule) ([]models.ProxyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM proxy_rules`); err != nil {
		return nil, err
	}
	out := make([]models.ProxyRule, 0, len(rules))
	for i, r := range rules {
		created, err := scanRule(tx.QueryRow(ctx, `
			INSERT INTO proxy_rules
			(name, description, priority, is_enabled, ip_filter, protocol_matches, host_matches,
			 port_matches, path_matches, query_str_matches, action, forward_protocol, forward_host, forward_port)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			RETURNING `+ruleColumns,
			r.Name, r.Description, i+1, r.IsEnabled, r.IPFilter, r.ProtocolMatches, r.HostMatches,
			r.PortMatches, r.PathMatches, r.QueryStrMatches, r.Action, r.ForwardProtocol, r.ForwardHost, r.ForwardPort))
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
