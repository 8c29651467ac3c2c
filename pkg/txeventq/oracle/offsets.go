package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
)

const (
	// ORA-00955 (name already used) means the table is already there.
	createOffsetsSQL = `BEGIN
  EXECUTE IMMEDIATE 'CREATE TABLE ` + offset.TableName + ` (
    kafka_topic_name VARCHAR2(249) NOT NULL,
    queue_name VARCHAR2(128) NOT NULL,
    queue_schema VARCHAR2(128) NOT NULL,
    partition NUMBER(10) NOT NULL,
    offset NUMBER(19) NOT NULL,
    PRIMARY KEY (kafka_topic_name, queue_name, queue_schema, partition))';
EXCEPTION
  WHEN OTHERS THEN
    IF SQLCODE != -955 THEN
      RAISE;
    END IF;
END;`

	selectOffsetSQL = `SELECT offset FROM ` + offset.TableName + `
WHERE kafka_topic_name = :1 AND queue_name = :2 AND queue_schema = :3 AND partition = :4`

	// Two writers inserting the same new key race to ORA-00001; the loser's
	// retry takes the matched branch.
	mergeOffsetSQL = `MERGE INTO ` + offset.TableName + ` t
USING (SELECT :1 AS kafka_topic_name, :2 AS queue_name, :3 AS queue_schema, :4 AS partition, :5 AS offset FROM dual) s
ON (t.kafka_topic_name = s.kafka_topic_name AND t.queue_name = s.queue_name
    AND t.queue_schema = s.queue_schema AND t.partition = s.partition)
WHEN MATCHED THEN UPDATE SET t.offset = GREATEST(t.offset, s.offset)
WHEN NOT MATCHED THEN INSERT (kafka_topic_name, queue_name, queue_schema, partition, offset)
  VALUES (s.kafka_topic_name, s.queue_name, s.queue_schema, s.partition, s.offset)`
)

type offsetStore struct {
	c *Client
}

// OffsetStore returns an offset.Store backed by the client's connection.
// Closing the store does not close the client.
func (c *Client) OffsetStore() offset.Store {
	return &offsetStore{c: c}
}

func (s *offsetStore) Ensure(ctx context.Context) error {
	if s.c.db == nil {
		return ErrNotConnected
	}
	if _, err := s.c.db.ExecContext(ctx, createOffsetsSQL); err != nil {
		return fmt.Errorf("oracle: create %s: %w", offset.TableName, err)
	}
	return nil
}

func (s *offsetStore) Get(ctx context.Context, key offset.Key) (int64, bool, error) {
	if s.c.db == nil {
		return 0, false, ErrNotConnected
	}
	var pos int64
	err := s.c.db.QueryRowContext(ctx, selectOffsetSQL,
		key.Topic, key.Queue, key.Schema, key.Partition).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

func (s *offsetStore) Put(ctx context.Context, key offset.Key, position int64) error {
	if s.c.db == nil {
		return fmt.Errorf("%w: %w", offset.ErrPermanent, ErrNotConnected)
	}
	_, err := s.c.db.ExecContext(ctx, mergeOffsetSQL,
		key.Topic, key.Queue, key.Schema, key.Partition, position)
	return err
}

func (s *offsetStore) Close() error { return nil }
