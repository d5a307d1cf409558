package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/recall/internal/db"
	"github.com/xxxsen/recall/internal/pkg/dbutil"
)

// DB couples a connection pool with the SQL dialect the repos must speak.
type DB struct {
	conn    *sql.DB
	dialect db.Dialect
}

func NewDB(conn *sql.DB, dialect db.Dialect) *DB {
	return &DB{conn: conn, dialect: dialect}
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Dialect() db.Dialect {
	return d.dialect
}

func (d *DB) finalize(query string, args []interface{}) (string, []interface{}) {
	if d.dialect == db.DialectPostgres {
		return dbutil.Finalize(query, args)
	}
	return query, args
}

func (d *DB) rebind(query string) string {
	return d.dialect.Rebind(query)
}

func (d *DB) encodeVector(v []float32) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if d.dialect == db.DialectPostgres {
		return pgvector.NewVector(v), nil
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// vectorValue scans an embedding column in either storage format.
type vectorValue struct {
	dialect db.Dialect
	vec     []float32
}

func (v *vectorValue) Scan(src interface{}) error {
	v.vec = nil
	if src == nil {
		return nil
	}
	if v.dialect == db.DialectPostgres {
		var pv pgvector.Vector
		if err := pv.Scan(src); err != nil {
			return err
		}
		v.vec = pv.Slice()
		return nil
	}
	var data []byte
	switch t := src.(type) {
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return fmt.Errorf("unsupported embedding type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &v.vec)
}

var spaceRegex = regexp.MustCompile(`\s+`)

// NormalizeSearchText lower-cases s and collapses whitespace runs.
func NormalizeSearchText(s string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(strings.ToLower(s), " "))
}

func likePattern(query string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(NormalizeSearchText(query)) + "%"
}
