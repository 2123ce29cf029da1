package idp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/storage/postgres"
)

const providerColumns = `id, name, kind, issuer_url, client_id, client_secret,
	redirect_url, scopes, enabled, created_at, updated_at`

// Store persists identity-provider records. Scopes live in the row as a
// comma-separated list.
type Store struct {
	db *sql.DB
}

// NewStore builds a provider store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProvider(row rowScanner) (*Provider, error) {
	var p Provider
	var scopes string
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.IssuerURL, &p.ClientID, &p.ClientSecret,
		&p.RedirectURL, &scopes, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httputil.NotFound("identity provider not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity provider: %w", err)
	}
	p.Scopes = splitScopes(scopes)
	return &p, nil
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	scopes := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			scopes = append(scopes, part)
		}
	}
	return scopes
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, ",")
}

// Create inserts a provider, filling ID and timestamps.
func (s *Store) Create(ctx context.Context, p *Provider) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO identity_providers (name, kind, issuer_url, client_id, client_secret, redirect_url, scopes, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		p.Name, p.Kind, p.IssuerURL, p.ClientID, p.ClientSecret, p.RedirectURL,
		joinScopes(p.Scopes), p.Enabled).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return httputil.Conflict("identity provider %q already exists", p.Name)
	}
	if err != nil {
		return fmt.Errorf("insert identity provider: %w", err)
	}
	return nil
}

// Get fetches a provider by id.
func (s *Store) Get(ctx context.Context, id int64) (*Provider, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+providerColumns+" FROM identity_providers WHERE id = $1", id)
	return scanProvider(row)
}

// GetByName fetches a provider by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+providerColumns+" FROM identity_providers WHERE name = $1", name)
	return scanProvider(row)
}

// List returns all providers ordered by name.
func (s *Store) List(ctx context.Context) ([]Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+providerColumns+" FROM identity_providers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query identity providers: %w", err)
	}
	defer rows.Close()

	providers := []Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

// ProviderUpdate carries sparse provider changes; nil fields are left
// untouched.
type ProviderUpdate struct {
	Name         *string
	IssuerURL    *string
	ClientID     *string
	ClientSecret *string
	RedirectURL  *string
	Scopes       []string
	Enabled      *bool
}

// Update applies a sparse update.
func (s *Store) Update(ctx context.Context, id int64, upd ProviderUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []interface{}{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.IssuerURL != nil {
		add("issuer_url", *upd.IssuerURL)
	}
	if upd.ClientID != nil {
		add("client_id", *upd.ClientID)
	}
	if upd.ClientSecret != nil {
		add("client_secret", *upd.ClientSecret)
	}
	if upd.RedirectURL != nil {
		add("redirect_url", *upd.RedirectURL)
	}
	if upd.Scopes != nil {
		add("scopes", joinScopes(upd.Scopes))
	}
	if upd.Enabled != nil {
		add("enabled", *upd.Enabled)
	}
	if len(args) == 0 {
		return httputil.BadRequest("no fields to update")
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE identity_providers SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if postgres.IsUniqueViolation(err) {
		return httputil.Conflict("identity provider name already in use")
	}
	if err != nil {
		return fmt.Errorf("update identity provider: %w", err)
	}
	return requireOneRow(res, "identity provider not found")
}

// Delete removes a provider.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM identity_providers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete identity provider: %w", err)
	}
	return requireOneRow(res, "identity provider not found")
}

func requireOneRow(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return httputil.NotFound("%s", msg)
	}
	return nil
}
