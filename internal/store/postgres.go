// Package store persists pipeline state in Postgres. Every read and write is
// scoped by tenant, and the write contracts the orchestrators rely on
// (indicator replace, metadata merge, signal creation) are transactional: a
// crash mid-operation leaves either the old or the new state, never a mix.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	json "github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/dtrinh/signalforge/internal/model"
)

// undefinedTable is the Postgres error code raised when a relation is
// missing, e.g. when the signal tables have not been migrated yet.
const undefinedTable = "42P01"

// Postgres implements the store contracts over database/sql.
type Postgres struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// New wraps an open connection pool.
func New(db *sql.DB) *Postgres {
	return &Postgres{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// IsUndefinedTable reports whether err indicates a missing relation.
func IsUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == undefinedTable
}

// GetEvidence loads one evidence item. Absent rows return (nil, nil).
func (s *Postgres) GetEvidence(ctx context.Context, tenantID, evidenceID string) (*model.EvidenceItem, error) {
	query, args, err := s.sb.
		Select("id", "tenant_id", "fetched_at", "source_type", "source_uri",
			"title", "summary", "content_text", "tags", "content_hash", "metadata").
		From("evidence_items").
		Where(sq.Eq{"tenant_id": tenantID, "id": evidenceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building evidence query: %w", err)
	}

	var (
		ev          model.EvidenceItem
		sourceURI   sql.NullString
		title       sql.NullString
		summary     sql.NullString
		contentText sql.NullString
		contentHash sql.NullString
		metadata    []byte
	)

	row := s.db.QueryRowContext(ctx, query, args...)
	err = row.Scan(&ev.ID, &ev.TenantID, &ev.FetchedAt, &ev.SourceType, &sourceURI,
		&title, &summary, &contentText, pq.Array(&ev.Tags), &contentHash, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading evidence: %w", err)
	}

	ev.SourceURI = sourceURI.String
	ev.Title = title.String
	ev.Summary = summary.String
	ev.ContentText = contentText.String
	ev.ContentHash = contentHash.String

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decoding evidence metadata: %w", err)
		}
	}

	return &ev, nil
}

// MergeEvidenceEnrichment writes the enrichment sub-object into the evidence
// metadata with a non-destructive top-level merge: sibling metadata keys are
// untouched.
func (s *Postgres) MergeEvidenceEnrichment(ctx context.Context, tenantID, evidenceID string, enrichment map[string]any) error {
	payload, err := json.Marshal(enrichment)
	if err != nil {
		return fmt.Errorf("encoding enrichment: %w", err)
	}

	query := `UPDATE evidence_items
	          SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('enrichment', $3::jsonb),
	              updated_at = NOW()
	          WHERE tenant_id = $1 AND id = $2`

	if _, err := s.db.ExecContext(ctx, query, tenantID, evidenceID, payload); err != nil {
		return fmt.Errorf("merging enrichment metadata: %w", err)
	}
	return nil
}

// ReplaceIndicators swaps the full indicator set for an evidence item in one
// transaction.
func (s *Postgres) ReplaceIndicators(ctx context.Context, tenantID, evidenceID string, indicators []model.Indicator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning indicator replace: %w", err)
	}
	defer tx.Rollback()

	del, args, err := s.sb.
		Delete("indicators").
		Where(sq.Eq{"tenant_id": tenantID, "evidence_id": evidenceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building indicator delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("deleting indicators: %w", err)
	}

	if len(indicators) > 0 {
		insert := s.sb.
			Insert("indicators").
			Columns("tenant_id", "evidence_id", "kind", "value", "normalized_value", "source")
		for _, ind := range indicators {
			insert = insert.Values(ind.TenantID, ind.EvidenceID, ind.Kind, ind.Value, ind.NormalizedValue, ind.Source)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("building indicator insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting indicators: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing indicator replace: %w", err)
	}
	return nil
}

// ListEvidenceEntityLinks returns the entity ids linked to an evidence item.
func (s *Postgres) ListEvidenceEntityLinks(ctx context.Context, tenantID, evidenceID string) ([]string, error) {
	query, args, err := s.sb.
		Select("entity_id").
		From("evidence_entity_links").
		Where(sq.Eq{"tenant_id": tenantID, "evidence_id": evidenceID}).
		OrderBy("entity_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building entity link query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entity links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning entity link: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity links: %w", err)
	}

	return ids, nil
}

// GetEntities loads entities by id list, filtered by tenant. Missing ids are
// simply absent from the result.
func (s *Postgres) GetEntities(ctx context.Context, tenantID string, ids []string) ([]*model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := s.sb.
		Select("id", "tenant_id", "type", "name", "metadata").
		From("entities").
		Where(sq.Eq{"tenant_id": tenantID, "id": ids}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building entity query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		var (
			ent      model.Entity
			name     sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&ent.ID, &ent.TenantID, &ent.Type, &name, &metadata); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		ent.Name = name.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ent.Metadata); err != nil {
				return nil, fmt.Errorf("decoding entity metadata: %w", err)
			}
		}
		entities = append(entities, &ent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}

	return entities, nil
}

// HasSignalEvidenceLink reports whether a signal already exists for the
// evidence item.
func (s *Postgres) HasSignalEvidenceLink(ctx context.Context, tenantID, evidenceID string) (bool, error) {
	query, args, err := s.sb.
		Select("1").
		From("signal_evidence_links").
		Where(sq.Eq{"tenant_id": tenantID, "evidence_id": evidenceID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building signal link query: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking signal link: %w", err)
	}
	return true, nil
}

// CreateSignal inserts the signal row, its evidence link and one entity link
// per linked entity atomically. Link inserts are idempotent on conflict, so
// the rare duplicate-invocation race degrades to a no-op.
func (s *Postgres) CreateSignal(ctx context.Context, sig *model.Signal, evidenceID string, entityIDs []string) error {
	rationale, err := json.Marshal(sig.Rationale)
	if err != nil {
		return fmt.Errorf("encoding rationale: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning signal insert: %w", err)
	}
	defer tx.Rollback()

	insertSignal := `INSERT INTO signals (id, tenant_id, kind, title, severity, score, status, rationale, created_at)
	                 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.ExecContext(ctx, insertSignal,
		sig.ID, sig.TenantID, sig.Kind, sig.Title, sig.Severity, sig.Score, sig.Status, rationale, sig.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting signal: %w", err)
	}

	insertEvidenceLink := `INSERT INTO signal_evidence_links (tenant_id, signal_id, evidence_id)
	                       VALUES ($1, $2, $3)
	                       ON CONFLICT (tenant_id, evidence_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insertEvidenceLink, sig.TenantID, sig.ID, evidenceID); err != nil {
		return fmt.Errorf("inserting signal evidence link: %w", err)
	}

	insertEntityLink := `INSERT INTO signal_entity_links (tenant_id, signal_id, entity_id)
	                     VALUES ($1, $2, $3)
	                     ON CONFLICT DO NOTHING`
	for _, entityID := range entityIDs {
		if _, err := tx.ExecContext(ctx, insertEntityLink, sig.TenantID, sig.ID, entityID); err != nil {
			return fmt.Errorf("inserting signal entity link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing signal insert: %w", err)
	}
	return nil
}

// InsertAuditEvent appends one audit record.
func (s *Postgres) InsertAuditEvent(ctx context.Context, event model.AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encoding audit metadata: %w", err)
	}

	query, args, err := s.sb.
		Insert("audit_events").
		Columns("id", "tenant_id", "action", "actor_id", "target_type", "target_id", "metadata", "created_at").
		Values(event.ID, event.TenantID, event.Action, nullIfEmpty(event.ActorID),
			event.TargetType, event.TargetID, metadata, event.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
