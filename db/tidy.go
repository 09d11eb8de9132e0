package db

import (
	"context"
	"database/sql"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes expired items from the database at path
func Tidy(ctx context.Context, database string) (int64, error) {
	db, err := connection(database)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return tidy(ctx, db, time.Now())
}

// Tidy removes expired items and returns how many were deleted
func (s *Store) Tidy(ctx context.Context) (int64, error) {
	return tidy(ctx, s.db, s.now())
}

func tidy(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	deleteItems := sb.SQLite.NewDeleteBuilder()
	sql, args := deleteItems.DeleteFrom("items").Where(deleteItems.LessEqualThan("expires_at", now.UnixMilli())).Build()

	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Debug("Tidying database")

	res, err := db.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, err
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	log.WithField("deleted", deleted).Info("Tidied database")
	return deleted, nil
}
