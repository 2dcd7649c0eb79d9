package remote

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/common/cache"
	"github.com/lyzr/datasync/common/db"
	"github.com/lyzr/datasync/common/logger"
)

var pgIntegerTypes = map[string]bool{
	"smallint": true,
	"integer":  true,
	"bigint":   true,
}

// PostgresSource reads datasets from tables named <prefix><rid> in the
// current schema of a Postgres database
type PostgresSource struct {
	db          *db.DB
	tablePrefix string
	rowKey      string
	schemas     *schemaCache
	log         *logger.Logger
}

// NewPostgresSource creates a source over database. c may be nil to disable
// schema caching.
func NewPostgresSource(database *db.DB, tablePrefix, rowKey string, c cache.Cache, ttl time.Duration, log *logger.Logger) *PostgresSource {
	return &PostgresSource{
		db:          database,
		tablePrefix: tablePrefix,
		rowKey:      rowKey,
		schemas:     &schemaCache{cache: c, ttl: ttl, prefix: "remote:schema:postgres:", log: log},
		log:         log,
	}
}

// Count returns the number of rows of the dataset table
func (s *PostgresSource) Count(ctx context.Context, id models.Identity) (int64, error) {
	query := fmt.Sprintf("SELECT count(*) FROM %s", tableName(s.tablePrefix, id))

	var n int64
	if err := s.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", id.ExternalID, err)
	}
	return n, nil
}

// Schema returns the table columns in ordinal order
func (s *PostgresSource) Schema(ctx context.Context, id models.Identity) ([]Column, error) {
	return s.schemas.get(ctx, id, func() ([]Column, error) {
		query := `
			SELECT column_name, data_type
			FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position
		`

		rows, err := s.db.Query(ctx, query, s.tablePrefix+id.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to query schema of %s: %w", id.ExternalID, err)
		}
		defer rows.Close()

		var cols []Column
		for rows.Next() {
			var c Column
			if err := rows.Scan(&c.Name, &c.Type); err != nil {
				return nil, fmt.Errorf("failed to scan column: %w", err)
			}
			c.RowKey = c.Name == s.rowKey && pgIntegerTypes[c.Type]
			cols = append(cols, c)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read schema of %s: %w", id.ExternalID, err)
		}
		if len(cols) == 0 {
			return nil, fmt.Errorf("table for %s not found", id.ExternalID)
		}
		return cols, nil
	})
}

// FetchAll streams every row, ordered by the row key when there is one
func (s *PostgresSource) FetchAll(ctx context.Context, id models.Identity) (RowStream, error) {
	query := fmt.Sprintf("SELECT * FROM %s", tableName(s.tablePrefix, id))
	if key, ok := s.key(ctx, id); ok {
		query += " ORDER BY " + quote(key)
	}
	return s.stream(ctx, id, query)
}

// FetchRange streams limit rows starting at offset in row key order
func (s *PostgresSource) FetchRange(ctx context.Context, id models.Identity, offset, limit int64) (RowStream, error) {
	query := fmt.Sprintf("SELECT * FROM %s", tableName(s.tablePrefix, id))
	if key, ok := s.key(ctx, id); ok {
		query += " ORDER BY " + quote(key)
	}
	query += " LIMIT $1 OFFSET $2"
	return s.stream(ctx, id, query, limit, offset)
}

func (s *PostgresSource) key(ctx context.Context, id models.Identity) (string, bool) {
	cols, err := s.Schema(ctx, id)
	if err != nil {
		return "", false
	}
	c, ok := RowKey(cols)
	return c.Name, ok
}

func (s *PostgresSource) stream(ctx context.Context, id models.Identity, query string, args ...any) (RowStream, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", id.ExternalID, err)
	}

	fields := rows.FieldDescriptions()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	return &pgxStream{rows: rows, header: header}, nil
}

type pgxStream struct {
	rows   pgx.Rows
	header []string
}

func (p *pgxStream) Header() []string {
	return p.header
}

func (p *pgxStream) Next() ([]string, error) {
	if !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	vals, err := p.rows.Values()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = formatValue(v)
	}
	return out, nil
}

func (p *pgxStream) Close() error {
	p.rows.Close()
	return p.rows.Err()
}
