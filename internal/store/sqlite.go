package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"
)

const (
	keyData  = "data"
	keyToken = "SUB_TOKEN"
)

// SQLite stores the record as JSON in a single-table key-value layout.
type SQLite struct {
	DB *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeError("open", err)
	}
	// A single connection also keeps a ":memory:" database shared.
	db.SetMaxOpenConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, storeError("open", err)
		}
	}
	return &SQLite{DB: db}, nil
}

func (s *SQLite) Close() error {
	return s.DB.Close()
}

func (s *SQLite) Load(ctx context.Context) (Data, error) {
	v, ok, err := s.get(ctx, keyData)
	if err != nil {
		return Data{}, storeError("load", err)
	}
	if !ok {
		return Data{}.normalized(), nil
	}
	d, err := decodeData([]byte(v))
	if err != nil {
		return Data{}, storeError("load", err)
	}
	return d, nil
}

func (s *SQLite) Save(ctx context.Context, d Data) error {
	b, err := json.Marshal(d.normalized())
	if err != nil {
		return storeError("save", err)
	}
	if err := s.put(ctx, keyData, string(b)); err != nil {
		return storeError("save", err)
	}
	return nil
}

func (s *SQLite) LoadToken(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, keyToken)
	if err != nil {
		return "", storeError("load", err)
	}
	return v, nil
}

func (s *SQLite) SaveToken(ctx context.Context, token string) error {
	if err := s.put(ctx, keyToken, token); err != nil {
		return storeError("save", err)
	}
	return nil
}

func (s *SQLite) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLite) put(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}
