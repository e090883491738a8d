package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MediaRecord is one row of a media source table that still lacks a storage pointer.
type MediaRecord struct {
	ID             string
	OrganizationID string
	Fields         map[string]any
}

// PendingMedia selects up to limit rows of table whose storage pointer column is null.
func (s *Store) PendingMedia(ctx context.Context, table, pointerColumn string, limit int) ([]MediaRecord, error) {
	query := fmt.Sprintf(`
		SELECT *, id::text AS __record_id, organization_id::text AS __organization_id
		FROM %s
		WHERE %s IS NULL
		ORDER BY created_at
		LIMIT $1
	`, pgx.Identifier{table}.Sanitize(), pgx.Identifier{pointerColumn}.Sanitize())

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending media from %s: %w", table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect pending media from %s: %w", table, err)
	}

	out := make([]MediaRecord, 0, len(maps))
	for _, m := range maps {
		id, _ := m["__record_id"].(string)
		org, _ := m["__organization_id"].(string)
		delete(m, "__record_id")
		delete(m, "__organization_id")
		out = append(out, MediaRecord{ID: id, OrganizationID: org, Fields: m})
	}
	return out, nil
}

// SetMediaPointer stores the durable key and the provenance URL. The pointer is only
// written while it is still null, so a racing run never replaces a committed key.
// It reports whether a row was updated.
func (s *Store) SetMediaPointer(ctx context.Context, table, pointerColumn, originalURLColumn, recordID, key, originalURL string) (bool, error) {
	pointer := pgx.Identifier{pointerColumn}.Sanitize()
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = $3
		WHERE id::text = $1 AND %s IS NULL
	`, pgx.Identifier{table}.Sanitize(), pointer, pgx.Identifier{originalURLColumn}.Sanitize(), pointer)

	tag, err := s.pool.Exec(ctx, query, recordID, key, originalURL)
	if err != nil {
		return false, fmt.Errorf("update media pointer on %s: %w", table, err)
	}
	return tag.RowsAffected() > 0, nil
}
