// Package postgres implements the asset repository on PostgreSQL. The
// typed metadata document is stored as a JSONB column, so prober output
// in Extra survives round trips without schema churn.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// DBTX allows using either a connection pool or a transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements assetkit.Repository using PostgreSQL.
type Repository struct {
	db DBTX
}

// New creates a PostgreSQL repository.
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a PostgreSQL repository over a connection pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Schema is the table definition the repository expects. Exposed so
// callers can apply it through their own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS assets (
    id           UUID PRIMARY KEY,
    filename     TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT '',
    bucket       TEXT NOT NULL DEFAULT '',
    meta         JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS assets_filename_idx ON assets (filename);
CREATE INDEX IF NOT EXISTS assets_url_idx ON assets ((meta->>'url'));
CREATE INDEX IF NOT EXISTS assets_created_at_idx ON assets (created_at DESC);
`

// EnsureSchema applies Schema. Safe to call at every startup.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.wrapError("ensure schema", err)
	}
	return nil
}

func (r *Repository) wrapError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("duplicate asset record")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("assets table does not exist - run EnsureSchema first")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Save(ctx context.Context, rec *assetkit.AssetRecord) error {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}

	query := `
		INSERT INTO assets (id, filename, content_type, bucket, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			content_type = EXCLUDED.content_type,
			bucket = EXCLUDED.bucket,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query,
		rec.ID, rec.Filename, rec.ContentType, rec.Bucket, meta,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return r.wrapError("save asset", err)
	}
	return nil
}

const selectColumns = `id, filename, content_type, bucket, meta, created_at, updated_at`

func scanRecord(row pgx.Row) (*assetkit.AssetRecord, error) {
	var rec assetkit.AssetRecord
	var meta []byte
	err := row.Scan(&rec.ID, &rec.Filename, &rec.ContentType, &rec.Bucket,
		&meta, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &rec.Meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &rec, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*assetkit.AssetRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM assets WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assetkit.ErrAssetNotFound
		}
		return nil, r.wrapError("get asset", err)
	}
	return rec, nil
}

func buildWhere(filter assetkit.Filter) (string, []interface{}) {
	clause := " WHERE 1=1"
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		clause += fmt.Sprintf(" AND "+cond, len(args))
	}

	if filter.ID != uuid.Nil {
		add("id = $%d", filter.ID)
	}
	if filter.Filename != "" {
		add("filename = $%d", filter.Filename)
	}
	if filter.ContentType != "" {
		add("content_type ~* $%d", "^"+regexp.QuoteMeta(filter.ContentType)+"$")
	}
	if filter.Bucket != "" {
		add("bucket = $%d", filter.Bucket)
	}
	if filter.URL != "" {
		add("meta->>'url' = $%d", filter.URL)
	}
	if filter.UploadedAfter != nil {
		add("(meta->>'uploadTime')::timestamptz > $%d", *filter.UploadedAfter)
	}
	return clause, args
}

func (r *Repository) Find(ctx context.Context, filter assetkit.Filter) (*assetkit.AssetRecord, error) {
	where, args := buildWhere(filter)
	query := `SELECT ` + selectColumns + ` FROM assets` + where +
		` ORDER BY created_at DESC LIMIT 1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, r.wrapError("find asset", err)
	}
	return rec, nil
}

func (r *Repository) FindMany(ctx context.Context, filter assetkit.Filter) ([]*assetkit.AssetRecord, error) {
	where, args := buildWhere(filter)
	query := `SELECT ` + selectColumns + ` FROM assets` + where +
		` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.wrapError("find assets", err)
	}
	defer rows.Close()

	var recs []*assetkit.AssetRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, r.wrapError("scan asset", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, r.wrapError("iterate assets", err)
	}
	return recs, nil
}

func (r *Repository) UpdateMeta(ctx context.Context, id uuid.UUID, meta assetkit.AssetMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE assets SET meta = $1, updated_at = $2 WHERE id = $3`,
		raw, time.Now().UTC(), id)
	if err != nil {
		return r.wrapError("update meta", err)
	}
	if tag.RowsAffected() == 0 {
		return assetkit.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return r.wrapError("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return assetkit.ErrAssetNotFound
	}
	return nil
}
