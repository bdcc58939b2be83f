package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/livemap/internal/core/domain"
)

// Catalog searches rank by trigram similarity (pg_trgm) and also accept
// plain substring hits so short queries still match.

// ProductRepo implements ports.ProductRepository.
type ProductRepo struct {
	db *DB
}

// NewProductRepo creates a new ProductRepo.
func NewProductRepo(db *DB) *ProductRepo {
	return &ProductRepo{db: db}
}

// Search returns published products whose name matches query.
func (r *ProductRepo) Search(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(image_url, ''),
		       price::float8, currency, COALESCE(organization_id::text, '')
		FROM products
		WHERE published
		  AND (name ILIKE '%' || $1 || '%' OR name % $1)
		ORDER BY similarity(name, $1) DESC, name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Image, &p.Price, &p.Currency, &p.OrganizationID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OrganizationRepo implements ports.OrganizationRepository.
type OrganizationRepo struct {
	db *DB
}

// NewOrganizationRepo creates a new OrganizationRepo.
func NewOrganizationRepo(db *DB) *OrganizationRepo {
	return &OrganizationRepo{db: db}
}

const organizationColumns = `
	id, name, COALESCE(description, ''), COALESCE(logo_url, ''), COALESCE(category, ''),
	ST_Y(location::geometry), ST_X(location::geometry)`

// Search returns organizations whose name matches query.
func (r *OrganizationRepo) Search(ctx context.Context, query string, limit int) ([]domain.Organization, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+organizationColumns+`
		FROM organizations
		WHERE name ILIKE '%' || $1 || '%' OR name % $1
		ORDER BY similarity(name, $1) DESC, name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// GetByID returns one organization.
func (r *OrganizationRepo) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	o, err := scanOrganization(r.db.Pool.QueryRow(ctx, `
		SELECT `+organizationColumns+` FROM organizations WHERE id::text = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", id, domain.ErrNotFound)
	}
	return o, err
}

func scanOrganization(row pgx.Row) (*domain.Organization, error) {
	var (
		o        domain.Organization
		lat, lon *float64
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Description, &o.Logo, &o.Category, &lat, &lon); err != nil {
		return nil, err
	}
	o.Location = position(lat, lon)
	return &o, nil
}

// UserRepo implements ports.UserRepository over public profiles.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

const profileColumns = `
	p.id, p.username, COALESCE(p.display_name, ''), COALESCE(p.bio, ''), COALESCE(p.avatar_url, ''),
	ST_Y(pr.location::geometry), ST_X(pr.location::geometry), COALESCE(pr.is_active, false)`

// Search returns profiles whose username or display name matches query. The
// location is only exposed for users currently sharing.
func (r *UserRepo) Search(ctx context.Context, query string, limit int) ([]domain.UserProfile, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		LEFT JOIN presences pr ON pr.user_id = p.id AND pr.is_active
		WHERE p.username ILIKE '%' || $1 || '%'
		   OR p.display_name ILIKE '%' || $1 || '%'
		   OR p.display_name % $1
		ORDER BY GREATEST(similarity(p.username, $1), similarity(COALESCE(p.display_name, ''), $1)) DESC, p.username
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserProfile
	for rows.Next() {
		u, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// GetByID returns one profile.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	u, err := scanProfile(r.db.Pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		LEFT JOIN presences pr ON pr.user_id = p.id AND pr.is_active
		WHERE p.id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return u, err
}

func scanProfile(row pgx.Row) (*domain.UserProfile, error) {
	var (
		u        domain.UserProfile
		lat, lon *float64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Bio, &u.AvatarURL, &lat, &lon, &u.IsActive); err != nil {
		return nil, err
	}
	u.Location = position(lat, lon)
	return &u, nil
}

func position(lat, lon *float64) *domain.Position {
	if lat == nil || lon == nil {
		return nil
	}
	return &domain.Position{Latitude: *lat, Longitude: *lon}
}
