package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redisplay/server/internal/domain"
)

// ViewRepo persists views in the views table, with metadata and data held as
// JSONB documents.
type ViewRepo struct {
	pool *pgxpool.Pool
}

func NewViewRepo(pool *pgxpool.Pool) *ViewRepo {
	return &ViewRepo{pool: pool}
}

func (r *ViewRepo) Get(ctx context.Context, id string) (*domain.View, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, metadata, data, created_at
		FROM views
		WHERE id = $1
	`, id)

	v, err := scanView(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrViewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get view %q: %w", id, err)
	}
	return v, nil
}

func (r *ViewRepo) List(ctx context.Context) ([]domain.View, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, metadata, data, created_at
		FROM views
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	defer rows.Close()

	var views []domain.View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		views = append(views, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	return views, nil
}

func (r *ViewRepo) Put(ctx context.Context, v *domain.View) error {
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode view metadata: %w", err)
	}
	data, err := json.Marshal(v.Data)
	if err != nil {
		return fmt.Errorf("failed to encode view data: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO views (id, metadata, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			metadata = EXCLUDED.metadata,
			data = EXCLUDED.data
		RETURNING created_at
	`, v.ID, metadata, data).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save view %q: %w", v.ID, err)
	}
	return nil
}

func (r *ViewRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM views WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete view %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrViewNotFound
	}
	return nil
}

func scanView(row pgx.Row) (*domain.View, error) {
	var (
		v        domain.View
		metadata []byte
		data     []byte
	)
	if err := row.Scan(&v.ID, &metadata, &data, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata for view %q: %w", v.ID, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v.Data); err != nil {
			return nil, fmt.Errorf("corrupt data for view %q: %w", v.ID, err)
		}
	}
	return &v, nil
}
