package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/livemap/internal/core/domain"
)

// PresenceRepo implements ports.PresenceStore with pgx and PostGIS.
type PresenceRepo struct {
	db *DB
}

// NewPresenceRepo creates a new PresenceRepo.
func NewPresenceRepo(db *DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

const presenceColumns = `
	up.user_id,
	COALESCE(p.display_name, p.username, ''),
	COALESCE(p.avatar_url, ''),
	ST_Y(up.location::geometry),
	ST_X(up.location::geometry),
	up.is_active,
	up.updated_at`

// UpdatePosition upserts the user's position and marks them active, since
// positions are only written while sharing. Writes older than the stored
// row are ignored (last write wins by timestamp) and yield a nil record.
func (r *PresenceRepo) UpdatePosition(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `
		WITH up AS (
			INSERT INTO presences (user_id, location, is_active, updated_at)
			VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, TRUE, $4)
			ON CONFLICT (user_id) DO UPDATE
			SET location = EXCLUDED.location, is_active = TRUE, updated_at = EXCLUDED.updated_at
			WHERE presences.updated_at <= EXCLUDED.updated_at
			RETURNING user_id, location, is_active, updated_at
		)
		SELECT `+presenceColumns+`
		FROM up LEFT JOIN profiles p ON p.id = up.user_id
	`, userID, pos.Longitude, pos.Latitude, at)

	rec, err := scanPresence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}
	return rec, nil
}

// SetActive flips the discoverability flag.
func (r *PresenceRepo) SetActive(ctx context.Context, userID string, active bool, at time.Time) (*domain.PresenceRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `
		WITH up AS (
			INSERT INTO presences (user_id, is_active, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
			WHERE presences.updated_at <= EXCLUDED.updated_at
			RETURNING user_id, location, is_active, updated_at
		)
		SELECT `+presenceColumns+`
		FROM up LEFT JOIN profiles p ON p.id = up.user_id
	`, userID, active, at)

	rec, err := scanPresence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	return rec, nil
}

// List returns presences matching filter ordered by user id.
func (r *PresenceRepo) List(ctx context.Context, f domain.PresenceFilter) ([]domain.PresenceRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+presenceColumns+`
		FROM presences up LEFT JOIN profiles p ON p.id = up.user_id
		WHERE ($1::bool = false OR up.is_active)
		  AND ($2::text = '' OR up.user_id <> $2)
		ORDER BY up.user_id
		LIMIT NULLIF($3::int, 0) OFFSET $4
	`, f.ActiveOnly, f.ExcludeUserID, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PresenceRecord
	for rows.Next() {
		rec, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Get returns one user's presence.
func (r *PresenceRepo) Get(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+presenceColumns+`
		FROM presences up LEFT JOIN profiles p ON p.id = up.user_id
		WHERE up.user_id = $1
	`, userID)
	rec, err := scanPresence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("presence %s: %w", userID, domain.ErrNotFound)
	}
	return rec, err
}

// ListStale returns active users whose last update is older than before,
// oldest first.
func (r *PresenceRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT user_id FROM presences
		WHERE is_active AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPresence(row pgx.Row) (*domain.PresenceRecord, error) {
	var rec domain.PresenceRecord
	if err := row.Scan(
		&rec.ID, &rec.DisplayName, &rec.AvatarURL,
		&rec.Latitude, &rec.Longitude,
		&rec.IsActive, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
