// Package pg stores tracked offsets in a PostgreSQL table with the same
// layout as the Oracle TXEVENTQ_TRACK_OFFSETS table.
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is the subset of *pgx.Conn and *pgxpool.Pool the store needs.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS txeventq_track_offsets (
	kafka_topic_name TEXT NOT NULL,
	queue_name TEXT NOT NULL,
	queue_schema TEXT NOT NULL,
	partition INTEGER NOT NULL,
	"offset" BIGINT NOT NULL,
	PRIMARY KEY (kafka_topic_name, queue_name, queue_schema, partition)
)`

	selectSQL = `SELECT "offset" FROM txeventq_track_offsets
WHERE kafka_topic_name = $1 AND queue_name = $2 AND queue_schema = $3 AND partition = $4`

	upsertSQL = `INSERT INTO txeventq_track_offsets AS t
	(kafka_topic_name, queue_name, queue_schema, partition, "offset")
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (kafka_topic_name, queue_name, queue_schema, partition)
DO UPDATE SET "offset" = GREATEST(t."offset", EXCLUDED."offset")`
)

type store struct {
	conn  Conn
	close func()
}

// New returns a store on an existing connection or pool. Close is a no-op;
// the caller owns conn.
func New(conn Conn) offset.Store {
	return &store{conn: conn, close: func() {}}
}

// Open creates a pool from connString and verifies it with a ping.
func Open(ctx context.Context, connString string) (offset.Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping connection: %w", err)
	}
	return &store{conn: pool, close: pool.Close}, nil
}

func (s *store) Ensure(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create offsets table: %w", err)
	}
	return nil
}

func (s *store) Get(ctx context.Context, key offset.Key) (int64, bool, error) {
	var pos int64
	err := s.conn.QueryRow(ctx, selectSQL, key.Topic, key.Queue, key.Schema, key.Partition).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

func (s *store) Put(ctx context.Context, key offset.Key, position int64) error {
	_, err := s.conn.Exec(ctx, upsertSQL, key.Topic, key.Queue, key.Schema, key.Partition, position)
	return err
}

func (s *store) Close() error {
	s.close()
	return nil
}
