// Package db is the SQLite backend of the item store
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"feedcast/models"
	"feedcast/store"
)

// Store keeps items in a single table with their expiry time. Expired rows
// are ignored by reads and removed by Tidy.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open migrates the database at path and returns a store backed by it
func Open(path string) (*Store, error) {
	if err := Migrate(path); err != nil {
		return nil, store.Unavailable("migrate", err)
	}

	conn, err := connection(path)
	if err != nil {
		return nil, store.Unavailable("open", err)
	}

	log.WithField("database", path).Info("Opened SQLite store")
	return &Store{db: conn, now: time.Now}, nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("1").From("items").Where(
		sb.Equal("id", id),
		sb.GreaterThan("expires_at", s.nowMillis()),
	)
	query, args := sb.Build()

	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, store.Unavailable("exists", err)
	}
	return true, nil
}

func (s *Store) Put(ctx context.Context, item models.Item, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.ID, err)
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("items").
		Cols("id", "payload", "published_at", "expires_at").
		Values(item.ID, string(payload), item.Timestamp.UnixMilli(), s.now().Add(ttl).UnixMilli())
	ib.SQL("ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, published_at = excluded.published_at, expires_at = excluded.expires_at")
	query, args := ib.Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return store.Unavailable("put", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]models.Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "payload").From("items").
		Where(sb.GreaterThan("expires_at", s.nowMillis())).
		OrderBy("published_at").Desc().
		Limit(limit)
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable("recent", err)
	}
	defer rows.Close()

	items := make([]models.Item, 0, limit)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, store.Unavailable("recent", err)
		}

		var item models.Item
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			log.WithFields(log.Fields{
				"id":    id,
				"error": err,
			}).Warn("Skipping undecodable item")
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("recent", err)
	}

	return items, nil
}

func (s *Store) Clear(ctx context.Context) error {
	del := sqlbuilder.SQLite.NewDeleteBuilder()
	query, args := del.DeleteFrom("items").Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return store.Unavailable("clear", err)
	}

	deleted, _ := res.RowsAffected()
	log.WithField("deleted", deleted).Info("Cleared SQLite store")
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
