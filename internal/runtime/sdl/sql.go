package sdl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQL stores keys and groups in two tables of a relational database.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

var _ Storage = (*SQL)(nil)

// OpenSQLite opens (or creates) the database file at path. ":memory:" keeps
// the database in process.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if path == "" {
		return nil, errors.New("sdl: sqlite file is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sdl: open sqlite: %w", err)
	}
	// sqlite only allows one writer.
	db.SetMaxOpenConns(1)
	return newSQL(ctx, db, dialectSQLite)
}

// OpenPostgres connects to the database at url.
func OpenPostgres(ctx context.Context, url string) (*SQL, error) {
	if url == "" {
		return nil, errors.New("sdl: postgres url is required")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("sdl: open postgres: %w", err)
	}
	return newSQL(ctx, db, dialectPostgres)
}

func newSQL(ctx context.Context, db *sql.DB, d dialect) (*SQL, error) {
	s := &SQL{db: db, dialect: d}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) initSchema(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == dialectPostgres {
		blob = "BYTEA"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sdl_kv (
			ns    TEXT NOT NULL,
			name  TEXT NOT NULL,
			value ` + blob + ` NOT NULL,
			PRIMARY KEY (ns, name)
		)`,
		`CREATE TABLE IF NOT EXISTS sdl_members (
			ns     TEXT NOT NULL,
			grp    TEXT NOT NULL,
			member ` + blob + ` NOT NULL,
			PRIMARY KEY (ns, grp, member)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sdl: init schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites "?" placeholders into "$n" for postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) IsReady(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQL) Set(ctx context.Context, ns string, pairs map[string][]byte) error {
	for key := range pairs {
		if err := checkKey(ns, key); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sdl: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.rebind(`INSERT INTO sdl_kv (ns, name, value) VALUES (?, ?, ?)
		ON CONFLICT (ns, name) DO UPDATE SET value = excluded.value`)
	for key, value := range pairs {
		if _, err := tx.ExecContext(ctx, query, ns, key, nonNil(value)); err != nil {
			return fmt.Errorf("sdl: set %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) SetIfNotExists(ctx context.Context, ns, key string, value []byte) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO sdl_kv (ns, name, value) VALUES (?, ?, ?)
		ON CONFLICT (ns, name) DO NOTHING`), ns, key, nonNil(value))
	if err != nil {
		return false, fmt.Errorf("sdl: set %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQL) Get(ctx context.Context, ns string, keys ...string) (map[string][]byte, error) {
	if ns == "" {
		return nil, ErrNamespaceRequired
	}
	out := make(map[string][]byte, len(keys))
	query := s.rebind(`SELECT value FROM sdl_kv WHERE ns = ? AND name = ?`)
	for _, key := range keys {
		var value []byte
		err := s.db.QueryRowContext(ctx, query, ns, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sdl: get %s: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

func (s *SQL) Delete(ctx context.Context, ns string, keys ...string) error {
	if ns == "" {
		return ErrNamespaceRequired
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sdl: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.rebind(`DELETE FROM sdl_kv WHERE ns = ? AND name = ?`)
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, query, ns, key); err != nil {
			return fmt.Errorf("sdl: delete %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) DeleteIf(ctx context.Context, ns, key string, value []byte) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sdl_kv WHERE ns = ? AND name = ? AND value = ?`), ns, key, nonNil(value))
	if err != nil {
		return false, fmt.Errorf("sdl: delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQL) ListKeys(ctx context.Context, ns, pattern string) ([]string, error) {
	if ns == "" {
		return nil, ErrNamespaceRequired
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT name FROM sdl_kv WHERE ns = ? ORDER BY name`), ns)
	if err != nil {
		return nil, fmt.Errorf("sdl: list keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

func (s *SQL) DeleteAll(ctx context.Context, ns string) error {
	if ns == "" {
		return ErrNamespaceRequired
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sdl_kv WHERE ns = ?`), ns)
	return err
}

func (s *SQL) AddMember(ctx context.Context, ns, group string, members ...[]byte) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	return s.eachMember(ctx, `INSERT INTO sdl_members (ns, grp, member) VALUES (?, ?, ?)
		ON CONFLICT (ns, grp, member) DO NOTHING`, ns, group, members)
}

func (s *SQL) DeleteMember(ctx context.Context, ns, group string, members ...[]byte) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	return s.eachMember(ctx, `DELETE FROM sdl_members WHERE ns = ? AND grp = ? AND member = ?`, ns, group, members)
}

func (s *SQL) eachMember(ctx context.Context, query, ns, group string, members [][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sdl: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query = s.rebind(query)
	for _, member := range members {
		if _, err := tx.ExecContext(ctx, query, ns, group, nonNil(member)); err != nil {
			return fmt.Errorf("sdl: group %s: %w", group, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) GetMembers(ctx context.Context, ns, group string) ([][]byte, error) {
	if err := checkKey(ns, group); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT member FROM sdl_members WHERE ns = ? AND grp = ?`), ns, group)
	if err != nil {
		return nil, fmt.Errorf("sdl: group %s: %w", group, err)
	}
	defer rows.Close()

	members := [][]byte{}
	for rows.Next() {
		var member []byte
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortMembers(members)
	return members, nil
}

func (s *SQL) DelGroup(ctx context.Context, ns, group string) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sdl_members WHERE ns = ? AND grp = ?`), ns, group)
	return err
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
