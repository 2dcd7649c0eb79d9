package remote

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/common/cache"
	"github.com/lyzr/datasync/common/logger"
)

// SQLSource reads datasets from a SQLite database, one table per dataset
type SQLSource struct {
	db          *sql.DB
	tablePrefix string
	rowKey      string
	schemas     *schemaCache
	log         *logger.Logger
}

// OpenSQLite opens the SQLite database at dsn
func OpenSQLite(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", dsn, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping sqlite %s: %w", dsn, err)
	}
	return conn, nil
}

// NewSQLSource creates a source over conn. c may be nil to disable schema
// caching.
func NewSQLSource(conn *sql.DB, tablePrefix, rowKey string, c cache.Cache, ttl time.Duration, log *logger.Logger) *SQLSource {
	return &SQLSource{
		db:          conn,
		tablePrefix: tablePrefix,
		rowKey:      rowKey,
		schemas:     &schemaCache{cache: c, ttl: ttl, prefix: "remote:schema:sqlite:", log: log},
		log:         log,
	}
}

// Close closes the underlying database
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// Count returns the number of rows of the dataset table
func (s *SQLSource) Count(ctx context.Context, id models.Identity) (int64, error) {
	query := fmt.Sprintf("SELECT count(*) FROM %s", tableName(s.tablePrefix, id))

	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", id.ExternalID, err)
	}
	return n, nil
}

// Schema returns the table columns in declaration order
func (s *SQLSource) Schema(ctx context.Context, id models.Identity) ([]Column, error) {
	return s.schemas.get(ctx, id, func() ([]Column, error) {
		query := fmt.Sprintf("PRAGMA table_info(%s)", tableName(s.tablePrefix, id))

		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to query schema of %s: %w", id.ExternalID, err)
		}
		defer rows.Close()

		var cols []Column
		for rows.Next() {
			var (
				cid     int
				name    string
				typ     string
				notNull int
				dflt    sql.NullString
				pk      int
			)
			if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
				return nil, fmt.Errorf("failed to scan column: %w", err)
			}
			cols = append(cols, Column{
				Name:   name,
				Type:   typ,
				RowKey: name == s.rowKey && strings.Contains(strings.ToUpper(typ), "INT"),
			})
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
func (s *SQLSource) FetchAll(ctx context.Context, id models.Identity) (RowStream, error) {
	query := fmt.Sprintf("SELECT * FROM %s", tableName(s.tablePrefix, id))
	if key, ok := s.key(ctx, id); ok {
		query += " ORDER BY " + quote(key)
	}
	return s.stream(ctx, id, query)
}

// FetchRange streams limit rows starting at offset in row key order
func (s *SQLSource) FetchRange(ctx context.Context, id models.Identity, offset, limit int64) (RowStream, error) {
	query := fmt.Sprintf("SELECT * FROM %s", tableName(s.tablePrefix, id))
	if key, ok := s.key(ctx, id); ok {
		query += " ORDER BY " + quote(key)
	}
	query += " LIMIT ? OFFSET ?"
	return s.stream(ctx, id, query, limit, offset)
}

func (s *SQLSource) key(ctx context.Context, id models.Identity) (string, bool) {
	cols, err := s.Schema(ctx, id)
	if err != nil {
		return "", false
	}
	c, ok := RowKey(cols)
	return c.Name, ok
}

func (s *SQLSource) stream(ctx context.Context, id models.Identity, query string, args ...any) (RowStream, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", id.ExternalID, err)
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read columns of %s: %w", id.ExternalID, err)
	}
	return &sqlStream{rows: rows, header: header}, nil
}

type sqlStream struct {
	rows   *sql.Rows
	header []string
}

func (s *sqlStream) Header() []string {
	return s.header
}

func (s *sqlStream) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	vals := make([]any, len(s.header))
	dest := make([]any, len(s.header))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := s.rows.Scan(dest...); err != nil {
		return nil, err
	}

	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = formatValue(v)
	}
	return out, nil
}

func (s *sqlStream) Close() error {
	return s.rows.Close()
}
