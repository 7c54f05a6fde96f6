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

// GetAICache returns the cache entry for an issue, or nil when none exists.
func (s *Store) GetAICache(ctx context.Context, issueID string) (*core.AICacheEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return nil, errors.New("issue id is required")
	}

	var (
		summary     sql.NullString
		suggestions sql.NullString
		hash        string
		updatedAt   int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT summary, suggestions, description_hash, updated_at
		FROM ai_cache
		WHERE issue_id = ?
	`, issueID)
	if err := row.Scan(&summary, &suggestions, &hash, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch ai cache: %w", err)
	}

	return &core.AICacheEntry{
		IssueID:         issueID,
		Summary:         summary.String,
		Suggestions:     suggestions.String,
		DescriptionHash: hash,
		UpdatedAt:       time.Unix(updatedAt, 0).UTC(),
	}, nil
}

// UpsertAISummary stores a freshly generated summary under the description
// hash it was generated from. A hash change drops the other cached field:
// it was generated from a description that no longer exists.
func (s *Store) UpsertAISummary(ctx context.Context, issueID, hash, summary string) error {
	return s.upsertAIField(ctx, issueID, hash, "summary", "suggestions", summary)
}

// UpsertAISuggestions stores freshly generated suggestions; same hash
// semantics as UpsertAISummary.
func (s *Store) UpsertAISuggestions(ctx context.Context, issueID, hash, suggestions string) error {
	return s.upsertAIField(ctx, issueID, hash, "suggestions", "summary", suggestions)
}

func (s *Store) upsertAIField(ctx context.Context, issueID, hash, column, otherColumn, value string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return errors.New("issue id is required")
	}
	if strings.TrimSpace(hash) == "" {
		return errors.New("description hash is required")
	}

	// column/otherColumn are fixed identifiers supplied by the two exported
	// wrappers, never caller input.
	query := fmt.Sprintf(`
		INSERT INTO ai_cache (issue_id, %[1]s, description_hash, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(issue_id) DO UPDATE SET
			%[1]s = excluded.%[1]s,
			%[2]s = CASE WHEN ai_cache.description_hash = excluded.description_hash THEN ai_cache.%[2]s ELSE NULL END,
			description_hash = excluded.description_hash,
			updated_at = excluded.updated_at
	`, column, otherColumn)

	_, err := s.DB.ExecContext(ctx, query, issueID, value, hash, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store ai cache: %w", err)
	}
	return nil
}

// InvalidateAICache nulls the generated fields for an issue. The row itself
// persists for the life of the issue.
func (s *Store) InvalidateAICache(ctx context.Context, issueID string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return errors.New("issue id is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		UPDATE ai_cache
		SET summary = NULL, suggestions = NULL, updated_at = ?
		WHERE issue_id = ?
	`, time.Now().UTC().Unix(), issueID)
	if err != nil {
		return fmt.Errorf("invalidate ai cache: %w", err)
	}
	return nil
}
