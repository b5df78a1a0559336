package postgresql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"document-processing-service/internal/entity"
)

var ErrNotFound = errors.New("not found")

type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

const documentColumns = `
id, original_name, storage_path, size_bytes, mime_type, uploaded_at,
text_extracted, extracted_text, extraction_error,
anonymized, anonymized_name, anonymized_text,
has_summary, summary`

func scanDocument(row pgx.Row) (*entity.Document, error) {
	var d entity.Document
	err := row.Scan(
		&d.ID,
		&d.OriginalName,
		&d.StoragePath,
		&d.SizeBytes,
		&d.MimeType,
		&d.UploadedAt,
		&d.TextExtracted,
		&d.ExtractedText,
		&d.ExtractionError,
		&d.Anonymized,
		&d.AnonymizedName,
		&d.AnonymizedText,
		&d.HasSummary,
		&d.Summary,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DocumentRepository) Create(ctx context.Context, originalName, storagePath, mimeType string, sizeBytes int64) (*entity.Document, error) {
	const q = `
INSERT INTO documents (original_name, storage_path, size_bytes, mime_type)
VALUES ($1, $2, $3, $4)
RETURNING ` + documentColumns + `;
`
	return scanDocument(r.pool.QueryRow(ctx, q, originalName, storagePath, sizeBytes, mimeType))
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1;`
	return scanDocument(r.pool.QueryRow(ctx, q, id))
}

func (r *DocumentRepository) List(ctx context.Context) ([]*entity.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents ORDER BY uploaded_at DESC;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetExtractedText records a successful extraction. The write is
// deterministic for identical input, so last-write-wins between duplicate
// jobs is safe.
func (r *DocumentRepository) SetExtractedText(ctx context.Context, id uuid.UUID, text string) error {
	const q = `
UPDATE documents
SET text_extracted = TRUE, extracted_text = $2, extraction_error = NULL
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, text)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetExtractionFailed marks a terminal extraction failure. Leaves
// text_extracted untouched so a later successful run can still complete.
func (r *DocumentRepository) SetExtractionFailed(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `
UPDATE documents
SET extraction_error = $2
WHERE id = $1 AND text_extracted = FALSE;
`
	tag, err := r.pool.Exec(ctx, q, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) SetAnonymized(ctx context.Context, id uuid.UUID, name, text string) error {
	const q = `
UPDATE documents
SET anonymized = TRUE, anonymized_name = $2, anonymized_text = $3
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, name, text)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) SetSummary(ctx context.Context, id uuid.UUID, summary string) error {
	const q = `
UPDATE documents
SET has_summary = TRUE, summary = $2
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
