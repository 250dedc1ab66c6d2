package sqlstore

import (
	"fmt"
	"strings"
)

// dialect captures the few places where SQLite and PostgreSQL disagree.
type dialect struct {
	name   string
	driver string
	schema []string
	// jsonText renders an expression extracting a top-level field of data
	// as text. The field argument is bound as returned by jsonPath.
	jsonText string
	jsonPath func(field string) string
	// nowSQL, when set, reads the database clock.
	nowSQL   string
	numbered bool
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT    NOT NULL,
			id         TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			data       TEXT    NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE TABLE IF NOT EXISTS changes (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			doc_id     TEXT NOT NULL,
			op         TEXT NOT NULL
		)`,
	},
	jsonText: "json_extract(data, ?)",
	jsonPath: func(field string) string { return "$." + field },
}

var postgresDialect = dialect{
	name:   "postgres",
	driver: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT   NOT NULL,
			id         TEXT   NOT NULL,
			version    BIGINT NOT NULL,
			data       TEXT   NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE TABLE IF NOT EXISTS changes (
			seq        BIGSERIAL PRIMARY KEY,
			collection TEXT NOT NULL,
			doc_id     TEXT NOT NULL,
			op         TEXT NOT NULL
		)`,
	},
	jsonText: "(data::jsonb ->> ?)",
	jsonPath: func(field string) string { return field },
	nowSQL:   "SELECT now()",
	numbered: true,
}

// rebind rewrites ? placeholders into $n for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
