package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"enrichment-pipeline/internal/models"
)

// ErrContactNotFound means no contact matched the id within the organization.
var ErrContactNotFound = errors.New("contact not found")

// ContactName returns the stored name of a contact, scoped to its organization.
func (s *Store) ContactName(ctx context.Context, entityID, organizationID string) (string, error) {
	var name pgtype.Text
	err := s.pool.QueryRow(ctx,
		`SELECT name FROM `+pgx.Identifier{s.contactsTable}.Sanitize()+` WHERE id::text = $1 AND organization_id::text = $2`,
		entityID, organizationID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrContactNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup contact name: %w", err)
	}
	return name.String, nil
}

// mergeContact locks the contact row, merges the result and writes it back. Both the
// record id and the organization id are part of every predicate.
func mergeContact(ctx context.Context, tx pgx.Tx, table, entityID, organizationID string, result models.EnrichmentResult) error {
	ident := pgx.Identifier{table}.Sanitize()

	var linkedin, email, phone, job, notes pgtype.Text
	err := tx.QueryRow(ctx, `
		SELECT linkedin, email, phone, job, notes FROM `+ident+`
		WHERE id::text = $1 AND organization_id::text = $2
		FOR UPDATE
	`, entityID, organizationID).Scan(&linkedin, &email, &phone, &job, &notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrContactNotFound
	}
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}

	existing := models.ContactFields{
		LinkedIn: textPtr(linkedin),
		Email:    textPtr(email),
		Phone:    textPtr(phone),
		Job:      textPtr(job),
		Notes:    textPtr(notes),
	}
	merged := existing.Merge(result)

	_, err = tx.Exec(ctx, `
		UPDATE `+ident+`
		SET linkedin = $3, email = $4, phone = $5, job = $6, notes = $7, enriched_at = NOW()
		WHERE id::text = $1 AND organization_id::text = $2
	`, entityID, organizationID, merged.LinkedIn, merged.Email, merged.Phone, merged.Job, merged.Notes)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}
