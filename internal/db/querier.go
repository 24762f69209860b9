package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type CacheEntry struct {
	Scope     string
	Key       string
	Version   string
	Data      []byte
	Checksum  string
	Size      int64
	UpdatedAt int64
}

type GetCacheEntryParams struct {
	Scope   string
	Key     string
	Version string
}

type UpsertCacheEntryParams struct {
	Scope     string
	Key       string
	Version   string
	Data      []byte
	Checksum  string
	Size      int64
	UpdatedAt int64
}

type DeleteCacheEntryParams struct {
	Scope   string
	Key     string
	Version string
}

type Querier interface {
	GetCacheEntry(ctx context.Context, params GetCacheEntryParams) (CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, params UpsertCacheEntryParams) error
	DeleteCacheEntry(ctx context.Context, params DeleteCacheEntryParams) error
	ListCacheEntries(ctx context.Context) ([]CacheEntry, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const getCacheEntry = `
SELECT scope, key, version, data, checksum, size, updated_at
FROM cache_entries
WHERE scope = ? AND key = ? AND version = ?
`

func (q *Queries) GetCacheEntry(ctx context.Context, params GetCacheEntryParams) (CacheEntry, error) {
	row := q.db.QueryRowContext(ctx, getCacheEntry, params.Scope, params.Key, params.Version)
	var e CacheEntry
	err := row.Scan(&e.Scope, &e.Key, &e.Version, &e.Data, &e.Checksum, &e.Size, &e.UpdatedAt)
	return e, err
}

const upsertCacheEntry = `
INSERT INTO cache_entries (scope, key, version, data, checksum, size, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (scope, key, version) DO UPDATE SET
    data = excluded.data,
    checksum = excluded.checksum,
    size = excluded.size,
    updated_at = excluded.updated_at
`

func (q *Queries) UpsertCacheEntry(ctx context.Context, params UpsertCacheEntryParams) error {
	_, err := q.db.ExecContext(ctx, upsertCacheEntry,
		params.Scope,
		params.Key,
		params.Version,
		params.Data,
		params.Checksum,
		params.Size,
		params.UpdatedAt,
	)
	return err
}

const deleteCacheEntry = `
DELETE FROM cache_entries
WHERE scope = ? AND key = ? AND version = ?
`

func (q *Queries) DeleteCacheEntry(ctx context.Context, params DeleteCacheEntryParams) error {
	_, err := q.db.ExecContext(ctx, deleteCacheEntry, params.Scope, params.Key, params.Version)
	return err
}

const listCacheEntries = `
SELECT scope, key, version, data, checksum, size, updated_at
FROM cache_entries
ORDER BY updated_at ASC
`

func (q *Queries) ListCacheEntries(ctx context.Context) ([]CacheEntry, error) {
	rows, err := q.db.QueryContext(ctx, listCacheEntries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []CacheEntry
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.Scope, &e.Key, &e.Version, &e.Data, &e.Checksum, &e.Size, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
