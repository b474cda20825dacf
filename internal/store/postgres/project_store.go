package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/launchindex/indexer/internal/indexer"
)

const projectColumns = `id, user_id, name, description, main_domain,
	credential_id, gsc_property, indexnow_key, indexnow_key_location,
	created_at, updated_at`

func scanProject(row rowScanner) (indexer.Project, error) {
	var p indexer.Project
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.MainDomain,
		&p.CredentialID, &p.GSCProperty, &p.IndexNowKey, &p.IndexNowKeyLocation,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, p indexer.Project) error {
	if p.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate project id: %w", err)
		}
		p.ID = id
	}
	now := s.clock.Now()
	_, err := s.db.Exec(ctx, `
INSERT INTO projects (id, user_id, name, description, main_domain, credential_id,
	gsc_property, indexnow_key, indexnow_key_location, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		p.ID, p.UserID, p.Name, p.Description, p.MainDomain, p.CredentialID,
		p.GSCProperty, p.IndexNowKey, p.IndexNowKeyLocation, now)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject fetches one project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (indexer.Project, error) {
	row := s.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return indexer.Project{}, fmt.Errorf("project %s: %w", id, indexer.ErrNotFound)
	}
	if err != nil {
		return indexer.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns a user's projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context, userID string) ([]indexer.Project, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+projectColumns+` FROM projects
WHERE ($1 = '' OR user_id = $1)
ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []indexer.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

// SetMainDomain records the derived main domain once known.
func (s *Store) SetMainDomain(ctx context.Context, id, domain string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE projects SET main_domain = $2, updated_at = $3 WHERE id = $1`,
		id, domain, s.clock.Now())
	if err != nil {
		return fmt.Errorf("set main domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, indexer.ErrNotFound)
	}
	return nil
}

// DeleteProject removes a project; addresses cascade via the foreign key.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, indexer.ErrNotFound)
	}
	return nil
}
