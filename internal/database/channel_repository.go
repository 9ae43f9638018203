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

// ChannelRepo persists channel configurations: member view list as a text
// array, rotation and quadrant mappings as JSONB.
type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) Get(ctx context.Context, name string) (*domain.ChannelConfig, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT views, rotation, quadrants
		FROM channels
		WHERE name = $1
	`, name)

	cfg, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %q: %w", name, err)
	}
	return cfg, nil
}

func (r *ChannelRepo) List(ctx context.Context) (map[string]domain.ChannelConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, views, rotation, quadrants
		FROM channels
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	channels := make(map[string]domain.ChannelConfig)
	for rows.Next() {
		var (
			name      string
			views     []string
			rotation  []byte
			quadrants []byte
		)
		if err := rows.Scan(&name, &views, &rotation, &quadrants); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		cfg, err := decodeChannel(views, rotation, quadrants)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", name, err)
		}
		channels[name] = *cfg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

func (r *ChannelRepo) Put(ctx context.Context, name string, cfg *domain.ChannelConfig) error {
	rotation, err := json.Marshal(cfg.Rotation)
	if err != nil {
		return fmt.Errorf("failed to encode rotation config: %w", err)
	}
	var quadrants []byte
	if cfg.Quadrants != nil {
		quadrants, err = json.Marshal(cfg.Quadrants)
		if err != nil {
			return fmt.Errorf("failed to encode quadrant config: %w", err)
		}
	}
	views := cfg.Views
	if views == nil {
		views = []string{}
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO channels (name, views, rotation, quadrants, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (name) DO UPDATE SET
			views = EXCLUDED.views,
			rotation = EXCLUDED.rotation,
			quadrants = EXCLUDED.quadrants,
			updated_at = NOW()
	`, name, views, rotation, quadrants)
	if err != nil {
		return fmt.Errorf("failed to save channel %q: %w", name, err)
	}
	return nil
}

func (r *ChannelRepo) Delete(ctx context.Context, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete channel %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChannelNotFound
	}
	return nil
}

func scanChannel(row pgx.Row) (*domain.ChannelConfig, error) {
	var (
		views     []string
		rotation  []byte
		quadrants []byte
	)
	if err := row.Scan(&views, &rotation, &quadrants); err != nil {
		return nil, err
	}
	return decodeChannel(views, rotation, quadrants)
}

func decodeChannel(views []string, rotation, quadrants []byte) (*domain.ChannelConfig, error) {
	cfg := domain.ChannelConfig{Views: views}
	if len(rotation) > 0 {
		if err := json.Unmarshal(rotation, &cfg.Rotation); err != nil {
			return nil, fmt.Errorf("corrupt rotation config: %w", err)
		}
	}
	if len(quadrants) > 0 {
		if err := json.Unmarshal(quadrants, &cfg.Quadrants); err != nil {
			return nil, fmt.Errorf("corrupt quadrant config: %w", err)
		}
	}
	return &cfg, nil
}
