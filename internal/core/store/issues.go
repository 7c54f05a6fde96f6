package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tracklens/tracklens/internal/core"
)

// FindIssue returns an issue by id, or nil when it does not exist.
func (s *Store) FindIssue(ctx context.Context, id string) (*core.Issue, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("issue id is required")
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, status, created_at, updated_at
		FROM issues
		WHERE id = ?
	`, id)

	return scanIssue(row)
}

// FindRecentIssues returns the most recently created issues for a project.
func (s *Store) FindRecentIssues(ctx context.Context, projectID string, limit int) ([]core.Issue, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, project_id, title, description, status, created_at, updated_at
		FROM issues
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent issues: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	issues := []core.Issue{}
	for rows.Next() {
		issue, err := scanIssueRow(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent issues: %w", err)
	}

	return issues, nil
}

// FindLabels returns the labels defined for a project.
func (s *Store) FindLabels(ctx context.Context, projectID string) ([]core.Label, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("project id is required")
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, project_id, name
		FROM labels
		WHERE project_id = ?
		ORDER BY name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	labels := []core.Label{}
	for rows.Next() {
		var label core.Label
		if err := rows.Scan(&label.ID, &label.ProjectID, &label.Name); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}

	return labels, nil
}

// CreateIssue inserts an issue row. Used by seeding and tests; issue CRUD
// proper lives in the tracker application, not this service.
func (s *Store) CreateIssue(ctx context.Context, issue core.Issue) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(issue.ID) == "" {
		return errors.New("issue id is required")
	}

	now := time.Now().UTC()
	created := issue.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := issue.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	status := strings.TrimSpace(issue.Status)
	if status == "" {
		status = "open"
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO issues (id, project_id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, issue.ID, issue.ProjectID, issue.Title, issue.Description, status, created.Unix(), updated.Unix())
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

// CreateLabel inserts a label row.
func (s *Store) CreateLabel(ctx context.Context, label core.Label) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(label.ID) == "" {
		return errors.New("label id is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO labels (id, project_id, name)
		VALUES (?, ?, ?)
	`, label.ID, label.ProjectID, label.Name)
	if err != nil {
		return fmt.Errorf("create label: %w", err)
	}
	return nil
}

// UpdateIssueDescription replaces an issue's description and invalidates
// any cached AI results for it. The two writes are separate statements;
// a stale cache row between them is harmless because cache hits also
// require a description-hash match.
func (s *Store) UpdateIssueDescription(ctx context.Context, id, description string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("issue id is required")
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE issues SET description = ?, updated_at = ? WHERE id = ?
	`, description, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("update issue description: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	return s.InvalidateAICache(ctx, id)
}

func scanIssue(row *sql.Row) (*core.Issue, error) {
	var (
		issue     core.Issue
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&issue.ID, &issue.ProjectID, &issue.Title, &issue.Description, &issue.Status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch issue: %w", err)
	}
	issue.CreatedAt = time.Unix(createdAt, 0).UTC()
	issue.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &issue, nil
}

func scanIssueRow(rows *sql.Rows) (*core.Issue, error) {
	var (
		issue     core.Issue
		createdAt int64
		updatedAt int64
	)
	if err := rows.Scan(&issue.ID, &issue.ProjectID, &issue.Title, &issue.Description, &issue.Status, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan issue: %w", err)
	}
	issue.CreatedAt = time.Unix(createdAt, 0).UTC()
	issue.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &issue, nil
}
