package remote

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/common/cache"
	"github.com/lyzr/datasync/common/logger"
)

// Column describes one remote column. RowKey marks an integer column that
// orders rows stably and so allows paginated fetches.
type Column struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	RowKey bool   `json:"row_key"`
}

// RowStream yields rows as strings, header first. Next returns io.EOF after
// the last row.
type RowStream interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

// DataSource is the remote tabular source behind the cache
type DataSource interface {
	Count(ctx context.Context, id models.Identity) (int64, error)
	Schema(ctx context.Context, id models.Identity) ([]Column, error)
	FetchAll(ctx context.Context, id models.Identity) (RowStream, error)
	FetchRange(ctx context.Context, id models.Identity, offset, limit int64) (RowStream, error)
}

// RowKey returns the row key column of a schema, if any
func RowKey(cols []Column) (Column, bool) {
	for _, c := range cols {
		if c.RowKey {
			return c, true
		}
	}
	return Column{}, false
}

// tableName builds the quoted remote table for an identity
func tableName(prefix string, id models.Identity) string {
	return pgx.Identifier{prefix + id.ExternalID}.Sanitize()
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// schemaCache memoizes schema lookups in a cache.Cache
type schemaCache struct {
	cache  cache.Cache
	ttl    time.Duration
	prefix string
	log    *logger.Logger
}

func (s *schemaCache) get(ctx context.Context, id models.Identity, load func() ([]Column, error)) ([]Column, error) {
	if s == nil || s.cache == nil {
		return load()
	}

	key := s.prefix + id.ExternalID
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cols []Column
		if err := json.Unmarshal(data, &cols); err == nil {
			return cols, nil
		}
	} else if err != nil {
		s.log.Warn("schema cache read failed", "rid", id.ExternalID, "error", err)
	}

	cols, err := load()
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cols); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.log.Warn("schema cache write failed", "rid", id.ExternalID, "error", err)
		}
	}
	return cols, nil
}

// formatValue renders a driver value as a CSV field
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(x).String()
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return ""
		}
		return formatValue(inner)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
