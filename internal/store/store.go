package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Source types a content record can have.
const (
	SourceTypePDF = "pdf"
	SourceTypeURL = "url"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	DB *sql.DB
}

// ContentRecord is one ingested item owned by a tenant. Source is the
// dedup key: the filename for PDFs, the normalized URL for web pages.
type ContentRecord struct {
	ID                 string    `json:"content_id"`
	TenantID           string    `json:"tenant_id"`
	Source             string    `json:"source"`
	SourceType         string    `json:"source_type"`
	Title              string    `json:"title,omitempty"`
	Author             string    `json:"author,omitempty"`
	Summary            string    `json:"summary,omitempty"`
	Keywords           []string  `json:"keywords,omitempty"`
	Topics             []string  `json:"topics,omitempty"`
	SuggestedQuestions []string  `json:"suggested_questions,omitempty"`
	NumChunks          int       `json:"num_chunks"`
	ByteSize           int64     `json:"file_size,omitempty"`
	NumPages           int       `json:"num_pages,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// HistoryEntry is one question/answer exchange of a tenant.
type HistoryEntry struct {
	ID        int64     `json:"query_id"`
	TenantID  string    `json:"tenant_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Content operations

func (s *Store) CreateContent(ctx context.Context, rec ContentRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO contents (id, tenant_id, source, source_type, title, author, summary, keywords, topics, suggested_questions, num_chunks, byte_size, num_pages, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
`, rec.ID, rec.TenantID, rec.Source, rec.SourceType, rec.Title, rec.Author, rec.Summary,
		pq.Array(rec.Keywords), pq.Array(rec.Topics), pq.Array(rec.SuggestedQuestions),
		rec.NumChunks, rec.ByteSize, rec.NumPages)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

const contentColumns = `id, tenant_id, source, source_type, title, author, summary, keywords, topics, suggested_questions, num_chunks, byte_size, num_pages, created_at`

func scanContent(row interface{ Scan(...any) error }) (ContentRecord, error) {
	var rec ContentRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Source, &rec.SourceType, &rec.Title, &rec.Author, &rec.Summary,
		pq.Array(&rec.Keywords), pq.Array(&rec.Topics), pq.Array(&rec.SuggestedQuestions),
		&rec.NumChunks, &rec.ByteSize, &rec.NumPages, &rec.CreatedAt)
	return rec, err
}

func (s *Store) GetContent(ctx context.Context, tenantID, id string) (ContentRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+contentColumns+` FROM contents WHERE tenant_id=$1 AND id=$2
`, tenantID, id)
	rec, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentRecord{}, ErrNotFound
	}
	return rec, err
}

// GetContentBySource looks up a tenant's record by its dedup key.
func (s *Store) GetContentBySource(ctx context.Context, tenantID, source string) (ContentRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+contentColumns+` FROM contents WHERE tenant_id=$1 AND source=$2
`, tenantID, source)
	rec, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentRecord{}, false, nil
	}
	if err != nil {
		return ContentRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListContent(ctx context.Context, tenantID string) ([]ContentRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+contentColumns+` FROM contents WHERE tenant_id=$1 ORDER BY created_at DESC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountContent(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM contents WHERE tenant_id=$1`, tenantID).Scan(&n)
	return n, err
}

func (s *Store) DeleteContent(ctx context.Context, tenantID, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM contents WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearTenantContent removes every content record of a tenant.
func (s *Store) ClearTenantContent(ctx context.Context, tenantID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM contents WHERE tenant_id=$1`, tenantID)
	return err
}

// History operations

// AppendHistory stores one exchange and evicts the oldest entries beyond
// limit so history stays bounded per tenant. Returns the new entry's id.
func (s *Store) AppendHistory(ctx context.Context, tenantID, question, answer string, limit int) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO history (tenant_id, question, answer, created_at) VALUES ($1,$2,$3,NOW()) RETURNING id
`, tenantID, question, answer).Scan(&id)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return id, nil
	}
	_, err = s.DB.ExecContext(ctx, `
DELETE FROM history WHERE tenant_id=$1 AND id NOT IN (
  SELECT id FROM history WHERE tenant_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2
)
`, tenantID, limit)
	return id, err
}

// GetHistory returns one exchange by id.
func (s *Store) GetHistory(ctx context.Context, tenantID string, id int64) (HistoryEntry, error) {
	var h HistoryEntry
	err := s.DB.QueryRowContext(ctx, `
SELECT id, tenant_id, question, answer, created_at FROM history WHERE tenant_id=$1 AND id=$2
`, tenantID, id).Scan(&h.ID, &h.TenantID, &h.Question, &h.Answer, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryEntry{}, ErrNotFound
	}
	return h, err
}

// ListHistory returns up to limit exchanges, newest first.
func (s *Store) ListHistory(ctx context.Context, tenantID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, tenant_id, question, answer, created_at FROM history
WHERE tenant_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2
`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.TenantID, &h.Question, &h.Answer, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ClearHistory(ctx context.Context, tenantID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM history WHERE tenant_id=$1`, tenantID)
	return err
}
