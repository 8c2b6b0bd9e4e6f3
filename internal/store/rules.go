package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/rules"
)

const ruleColumns = `id, name, description, enabled, priority, conditions,
	response_type, response_content, response_use_ai, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (rules.Rule, error) {
	var r rules.Rule
	var enabled, useAI int
	var conds, respType string
	var created, updated int64
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &enabled, &r.Priority, &conds,
		&respType, &r.Response.Content, &useAI, &created, &updated); err != nil {
		return r, err
	}
	r.Enabled = enabled != 0
	r.Response.Type = rules.ResponseType(respType)
	r.Response.UseAI = useAI != 0
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(conds), &r.Conditions); err != nil {
		return r, fmt.Errorf("rule %s: bad conditions: %w", r.ID, err)
	}
	return r, nil
}

func (s *SQLiteStore) queryRules(ctx context.Context, where string, args ...interface{}) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM rules "+where+" ORDER BY priority DESC, created_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			L_warn("sqlite: skipping unreadable rule", "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEnabledRules returns enabled rules in matching order.
func (s *SQLiteStore) ListEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	return s.queryRules(ctx, "WHERE enabled = 1")
}

// ListRules returns every rule in matching order.
func (s *SQLiteStore) ListRules(ctx context.Context) ([]rules.Rule, error) {
	return s.queryRules(ctx, "")
}

// GetRule fetches a rule by id.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &r, nil
}

// FindRuleByName returns the newest rule with the given name.
func (s *SQLiteStore) FindRuleByName(ctx context.Context, name string) (*rules.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE name = ? ORDER BY created_at DESC LIMIT 1", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &r, nil
}

// CreateRule validates and inserts r, assigning ID and timestamps.
func (s *SQLiteStore) CreateRule(ctx context.Context, r *rules.Rule) error {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return err
	}
	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}

	now := s.now()
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, "INSERT INTO rules ("+ruleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.Name, r.Description, boolInt(r.Enabled), r.Priority, string(conds),
		string(r.Response.Type), r.Response.Content, boolInt(r.Response.UseAI),
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert rule failed: %w", err)
	}

	L_info("sqlite: rule created", "id", r.ID, "name", r.Name, "priority", r.Priority)
	return nil
}

// UpdateRule validates and replaces the stored rule with the same ID.
// CreatedAt is preserved.
func (s *SQLiteStore) UpdateRule(ctx context.Context, r *rules.Rule) error {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return err
	}
	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}

	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			name = ?, description = ?, enabled = ?, priority = ?, conditions = ?,
			response_type = ?, response_content = ?, response_use_ai = ?, updated_at = ?
		WHERE id = ?
	`,
		r.Name, r.Description, boolInt(r.Enabled), r.Priority, string(conds),
		string(r.Response.Type), r.Response.Content, boolInt(r.Response.UseAI), now.UnixMilli(),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule failed: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	r.UpdatedAt = now

	L_info("sqlite: rule updated", "id", r.ID, "name", r.Name)
	return nil
}

// SetRuleEnabled toggles a rule without touching its definition.
func (s *SQLiteStore) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, "UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?",
		boolInt(enabled), s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update rule failed: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	L_info("sqlite: rule toggled", "id", id, "enabled", enabled)
	return nil
}

// DeleteRule removes a rule.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule failed: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	L_info("sqlite: rule deleted", "id", id)
	return nil
}
