package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"eventline/internal/domain"
)

// ReplaceCategories swaps the whole supplier category catalog.
func (r Repo) ReplaceCategoriesTx(ctx context.Context, tx *sql.Tx, cats []domain.Category) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM supplier_categories`); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	for _, c := range cats {
		var parent any
		if c.ParentID != nil {
			parent = *c.ParentID
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO supplier_categories(id,name,en_name,parent_id,type) VALUES (?,?,?,?,?)`,
			c.ID, c.Name, c.EnName, parent, c.Type); err != nil {
			return fmt.Errorf("insert category %d: %w", c.ID, err)
		}
	}
	return nil
}

func (r Repo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,en_name,parent_id,type FROM supplier_categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Category
	for rows.Next() {
		var (
			c      domain.Category
			parent sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.EnName, &parent, &c.Type); err != nil {
			return nil, err
		}
		if parent.Valid {
			p := parent.Int64
			c.ParentID = &p
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// MatchCategories resolves a category name to catalog ids. Matching is a
// case-insensitive substring test on either name, ignoring a trailing
// plural "s". Only categories whose English name is in allowed are
// returned; an empty allowed list admits everything.
func (r Repo) MatchCategories(ctx context.Context, name string, allowed []string) ([]int64, error) {
	cats, err := r.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	search := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "s")
	if search == "" {
		return nil, nil
	}
	var ids []int64
	for _, c := range cats {
		local := strings.ToLower(c.Name)
		en := strings.ToLower(c.EnName)
		if !strings.Contains(local, search) && (en == "" || !strings.Contains(en, search)) {
			continue
		}
		if !isAllowed(en, allowed) {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func isAllowed(enName string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, enName) {
			return true
		}
	}
	return false
}
