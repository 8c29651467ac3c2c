// Package oracle talks to Oracle Transactional Event Queues through the
// pure-Go go-ora driver: queue checks, shard counts, JMS bytes enqueue and
// the TXEVENTQ_TRACK_OFFSETS offset store.
package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/edgeflare/txeventq/pkg/txeventq/jms"
	"go.uber.org/zap"
)

var (
	ErrNotConnected          = errors.New("oracle: not connected")
	ErrUnsupportedProperty   = errors.New("oracle: property kind has no JMS setter")
	ErrInvalidShardParameter = errors.New("oracle: invalid SHARD_NUM")
)

// Client is a connection to the database hosting the queue.
type Client struct {
	cfg    Config
	db     *sql.DB
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Connect opens the pool and pings the database.
func (c *Client) Connect(ctx context.Context) error {
	dsn, err := c.cfg.DSN()
	if err != nil {
		return err
	}
	db, err := sql.Open("oracle", dsn)
	if err != nil {
		return fmt.Errorf("oracle: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("oracle: ping: %w", err)
	}
	c.db = db
	c.logger.Info("connected to oracle", zap.String("alias", c.cfg.TNSAlias))
	return nil
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// DB returns the underlying pool, or nil before Connect.
func (c *Client) DB() *sql.DB {
	return c.db
}

// QueueExists reports whether schema.name is a queue visible to the user.
// Names are compared upper-cased, as Oracle stores unquoted identifiers.
func (c *Client) QueueExists(ctx context.Context, schema, name string) (bool, error) {
	if c.db == nil {
		return false, ErrNotConnected
	}
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM all_queues WHERE owner = :1 AND name = :2`,
		strings.ToUpper(schema), strings.ToUpper(name)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("oracle: lookup queue %s.%s: %w", schema, name, err)
	}
	return n > 0, nil
}

// ShardCount returns the SHARD_NUM parameter of the queue.
func (c *Client) ShardCount(ctx context.Context, schema, name string) (uint32, error) {
	if c.db == nil {
		return 0, ErrNotConnected
	}
	var shards int64
	_, err := c.db.ExecContext(ctx,
		`BEGIN DBMS_AQADM.GET_QUEUE_PARAMETER(:1, 'SHARD_NUM', :2); END;`,
		qualifiedName(schema, name), sql.Out{Dest: &shards})
	if err != nil {
		return 0, fmt.Errorf("oracle: shard count of %s.%s: %w", schema, name, err)
	}
	if shards < 0 || shards > int64(^uint32(0)) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidShardParameter, shards)
	}
	return uint32(shards), nil
}

// Enqueue writes msgs to schema.name as JMS bytes messages in a single
// transaction.
func (c *Client) Enqueue(ctx context.Context, schema, name string, msgs []jms.BytesMessage) error {
	if c.db == nil {
		return ErrNotConnected
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("oracle: begin: %w", err)
	}
	defer tx.Rollback()

	queue := qualifiedName(schema, name)
	for i, m := range msgs {
		stmt, args, err := enqueueStatement(queue, m)
		if err != nil {
			return fmt.Errorf("oracle: message %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("oracle: enqueue message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("oracle: commit: %w", err)
	}
	c.logger.Debug("enqueued", zap.String("queue", queue), zap.Int("count", len(msgs)))
	return nil
}

func qualifiedName(schema, name string) string {
	return strings.ToUpper(schema) + "." + strings.ToUpper(name)
}

var propertySetters = map[jms.Kind]string{
	jms.KindBoolean: "SET_BOOLEAN_PROPERTY",
	jms.KindByte:    "SET_BYTE_PROPERTY",
	jms.KindShort:   "SET_SHORT_PROPERTY",
	jms.KindInteger: "SET_INT_PROPERTY",
	jms.KindLong:    "SET_LONG_PROPERTY",
	jms.KindFloat:   "SET_FLOAT_PROPERTY",
	jms.KindDouble:  "SET_DOUBLE_PROPERTY",
	jms.KindString:  "SET_STRING_PROPERTY",
}

// enqueueStatement builds the anonymous PL/SQL block that constructs and
// enqueues one bytes message. Properties are emitted in name order.
func enqueueStatement(queue string, m jms.BytesMessage) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf(":%d", len(args))
	}

	sb.WriteString("DECLARE\n")
	sb.WriteString("  msg SYS.AQ$_JMS_BYTES_MESSAGE;\n")
	sb.WriteString("  enq DBMS_AQ.ENQUEUE_OPTIONS_T;\n")
	sb.WriteString("  mp DBMS_AQ.MESSAGE_PROPERTIES_T;\n")
	sb.WriteString("  id RAW(16);\n")
	sb.WriteString("BEGIN\n")
	sb.WriteString("  msg := SYS.AQ$_JMS_BYTES_MESSAGE.CONSTRUCT();\n")
	fmt.Fprintf(&sb, "  msg.SET_BYTES(%s);\n", bind(m.Body))
	if m.CorrelationID != "" {
		fmt.Fprintf(&sb, "  mp.CORRELATION := %s;\n", bind(m.CorrelationID))
	}

	names := make([]string, 0, len(m.Properties))
	for n := range m.Properties {
		names = append(names, n)
	}
	slices.Sort(names)

	for _, n := range names {
		p := m.Properties[n]
		if p.IsNull() {
			continue
		}
		setter, ok := propertySetters[p.Kind()]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedProperty, n, p.Kind())
		}
		value := p.Native()
		if p.Kind() == jms.KindBoolean {
			// PL/SQL BOOLEAN cannot be bound from a client
			b := 0
			if value.(bool) {
				b = 1
			}
			fmt.Fprintf(&sb, "  msg.%s(%s, %s = 1);\n", setter, bind(n), bind(b))
			continue
		}
		fmt.Fprintf(&sb, "  msg.%s(%s, %s);\n", setter, bind(n), bind(value))
	}

	fmt.Fprintf(&sb, "  DBMS_AQ.ENQUEUE(queue_name => %s, enqueue_options => enq, message_properties => mp, payload => msg, msgid => id);\n", bind(queue))
	sb.WriteString("END;")
	return sb.String(), args, nil
}
