package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tidwall/gjson"

	"github.com/tupa/internal/apperr"
)

// PostgresStore keeps each collection as a jsonb document table:
// (id text primary key, created_at timestamptz, doc jsonb)
type PostgresStore struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	ensured map[string]bool
}

// NewPostgresStore connects to databaseURL and verifies the connection
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, ensured: make(map[string]bool)}, nil
}

func (s *PostgresStore) Table(name string) Table {
	return &postgresTable{store: s, name: name, ident: pgx.Identifier{name}.Sanitize()}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ensureTable creates the backing table on first use
func (s *PostgresStore) ensureTable(ctx context.Context, name, ident string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[name] {
		return nil
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         text PRIMARY KEY,
			created_at timestamptz NOT NULL DEFAULT now(),
			doc        jsonb NOT NULL
		)`, ident))
	if err != nil {
		return fmt.Errorf("failed to ensure table %s: %w", name, err)
	}
	s.ensured[name] = true
	return nil
}

type postgresTable struct {
	store *PostgresStore
	name  string
	ident string
}

func (t *postgresTable) Select(ctx context.Context, q Query) ([]Row, error) {
	if err := validQuery(q); err != nil {
		return nil, err
	}
	if err := t.store.ensureTable(ctx, t.name, t.ident); err != nil {
		return nil, err
	}

	var (
		sb   strings.Builder
		args []any
	)
	fmt.Fprintf(&sb, "SELECT doc FROM %s", t.ident)
	for i, f := range q.Filters {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, f.Value)
		// field names are validated against fieldPattern
		fmt.Fprintf(&sb, "doc->>'%s' = $%d", f.Field, len(args))
	}
	switch q.OrderBy {
	case "":
	case "created_at":
		sb.WriteString(" ORDER BY created_at")
	default:
		sb.WriteString(" ORDER BY " + orderExpr(q.OrderBy))
	}
	if q.OrderBy != "" {
		if q.Descending {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := t.store.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		out = append(out, Row(doc))
	}
	return out, rows.Err()
}

func (t *postgresTable) Insert(ctx context.Context, row Row) (Row, error) {
	if err := t.store.ensureTable(ctx, t.name, t.ident); err != nil {
		return nil, err
	}
	prepared, id, err := prepareInsert(row, time.Now())
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, gjson.GetBytes(prepared, "created_at").String())
	if err != nil {
		createdAt = time.Now().UTC()
	}

	var doc []byte
	err = t.store.pool.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, created_at, doc) VALUES ($1, $2, $3) RETURNING doc`, t.ident),
		id, createdAt, []byte(prepared),
	).Scan(&doc)
	if err != nil {
		return nil, err
	}
	return Row(doc), nil
}

func (t *postgresTable) Update(ctx context.Context, id string, patch Row) (Row, error) {
	if err := t.store.ensureTable(ctx, t.name, t.ident); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(patch) || !gjson.ParseBytes(patch).IsObject() {
		return nil, fmt.Errorf("patch must be a JSON object")
	}
	patch, err := stripID(patch)
	if err != nil {
		return nil, err
	}

	var doc []byte
	err = t.store.pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE %s SET doc = doc || $2::jsonb WHERE id = $1 RETURNING doc`, t.ident),
		id, []byte(patch),
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", apperr.ErrNotFound, t.name, id)
	}
	if err != nil {
		return nil, err
	}
	return Row(doc), nil
}

func (t *postgresTable) Delete(ctx context.Context, id string) error {
	if err := t.store.ensureTable(ctx, t.name, t.ident); err != nil {
		return err
	}
	tag, err := t.store.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.ident), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", apperr.ErrNotFound, t.name, id)
	}
	return nil
}

// orderExpr sorts time fields chronologically, matching the memory store.
// Timestamps with differing offsets do not sort correctly as text.
func orderExpr(field string) string {
	if strings.HasSuffix(field, "_time") || strings.HasSuffix(field, "_at") {
		return fmt.Sprintf("(doc->>'%s')::timestamptz", field)
	}
	return fmt.Sprintf("doc->>'%s'", field)
}
