package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// DocumentRepository stores finished document records. Lookups that find
// nothing return an error wrapping common.ErrNotFound.
type DocumentRepository interface {
	Save(ctx context.Context, rec *entity.DocumentRecord) error
	Get(ctx context.Context, id uuid.UUID) (*entity.DocumentRecord, error)
	FindByHash(ctx context.Context, hash string) (*entity.DocumentRecord, error)
	List(ctx context.Context, limit int) ([]*entity.DocumentRecord, error)
}

type documentRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{db: db, logger: logger}
}

func (r *documentRepo) Save(ctx context.Context, rec *entity.DocumentRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	created := rec.Metadata.FinishedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := r.db.rebind(`INSERT INTO documents
		(id, source, format, content_hash, state, page_count, failed_pages, mean_confidence, language, created_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			page_count = excluded.page_count,
			failed_pages = excluded.failed_pages,
			mean_confidence = excluded.mean_confidence,
			language = excluded.language,
			record = excluded.record`)
	_, err = r.db.SQL.ExecContext(ctx, q,
		rec.ID.String(),
		rec.Source,
		string(rec.Format),
		rec.ContentHash,
		string(rec.State),
		rec.Metadata.PageCount,
		len(rec.Metadata.FailedPages),
		rec.Metadata.MeanConfidence,
		rec.Metadata.Language,
		created.UTC().Format(time.RFC3339Nano),
		string(body),
	)
	if err != nil {
		r.logger.Error("failed to save document", "document_id", rec.ID, "error", err)
		return fmt.Errorf("%w: save document: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *documentRepo) Get(ctx context.Context, id uuid.UUID) (*entity.DocumentRecord, error) {
	q := r.db.rebind(`SELECT record FROM documents WHERE id = ?`)
	return r.one(ctx, q, id.String())
}

// FindByHash returns the most recent record for identical bytes.
func (r *documentRepo) FindByHash(ctx context.Context, hash string) (*entity.DocumentRecord, error) {
	q := r.db.rebind(`SELECT record FROM documents WHERE content_hash = ? ORDER BY created_at DESC LIMIT 1`)
	return r.one(ctx, q, hash)
}

// List returns the newest records first.
func (r *documentRepo) List(ctx context.Context, limit int) ([]*entity.DocumentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.rebind(`SELECT record FROM documents ORDER BY created_at DESC LIMIT ?`)
	rows, err := r.db.SQL.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.DocumentRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", common.ErrDatabase, err)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *documentRepo) one(ctx context.Context, q string, arg any) (*entity.DocumentRecord, error) {
	var body string
	err := r.db.SQL.QueryRowContext(ctx, q, arg).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %v: %w", arg, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", common.ErrDatabase, err)
	}
	return decodeRecord(body)
}

func decodeRecord(body string) (*entity.DocumentRecord, error) {
	var rec entity.DocumentRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", common.ErrDatabase, err)
	}
	return &rec, nil
}
