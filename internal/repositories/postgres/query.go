package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/platform/pagination"
)

// whereBuilder accumulates AND-ed predicates with positional parameters.
type whereBuilder struct {
	clauses []string
	args    []any
}

// add appends a predicate where each "?" is replaced by the next positional parameter.
func (b *whereBuilder) add(clause string, values ...any) {
	for _, value := range values {
		b.args = append(b.args, value)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(b.args)), 1)
	}
	b.clauses = append(b.clauses, clause)
}

// keyset restricts rows to those strictly after the cursor in (created_at desc, id desc) order.
func (b *whereBuilder) keyset(table string, cursor pagination.Cursor) {
	if cursor.IsZero() {
		return
	}
	b.add(fmt.Sprintf("(%[1]s.created_at, %[1]s.id) < (?, ?)", table), cursor.CreatedAt.UTC(), cursor.ID)
}

func (b *whereBuilder) sql() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *whereBuilder) limit(n int) string {
	b.args = append(b.args, n)
	return fmt.Sprintf(" LIMIT $%d", len(b.args))
}

func nextToken(hasMore bool, createdAt time.Time, id string) (string, error) {
	if !hasMore {
		return "", nil
	}
	return pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt, ID: id})
}

func marshalJSON(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if v == nil {
			return nil, nil
		}
	}
	return json.Marshal(value)
}

func unmarshalMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullableText(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time.UTC()
	return &v
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
