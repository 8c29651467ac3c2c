package oracle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edgeflare/txeventq/pkg/txeventq/jms"
	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tnsnames = `
# production
ORDERS_HIGH, ORDERS =
  (DESCRIPTION =
    (ADDRESS = (PROTOCOL = TCPS)(HOST = db.example.com)(PORT = 1522))
    (CONNECT_DATA = (SERVICE_NAME = orders_high.example.com))
  )

reporting=(DESCRIPTION=(ADDRESS=(PROTOCOL=TCP)(HOST=10.0.0.5)(PORT=1521))(CONNECT_DATA=(SID=REP)))
`

func TestParseTNSNames(t *testing.T) {
	entries, err := parseTNSNames(strings.NewReader(tnsnames))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	want := "(DESCRIPTION=(ADDRESS=(PROTOCOL=TCPS)(HOST=db.example.com)(PORT=1522))(CONNECT_DATA=(SERVICE_NAME=orders_high.example.com)))"
	assert.Equal(t, want, entries["ORDERS_HIGH"])
	assert.Equal(t, want, entries["ORDERS"])
	assert.Contains(t, entries["REPORTING"], "(SID=REP)")

	_, err = parseTNSNames(strings.NewReader("broken = (DESCRIPTION=(ADDRESS="))
	require.Error(t, err)
	_, err = parseTNSNames(strings.NewReader("noparen = value"))
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tnsnames.ora"), []byte(tnsnames), 0o600))

	dsn, err := Config{ConnString: "oracle://u:p@host:1521/svc"}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "oracle://u:p@host:1521/svc", dsn)

	dsn, err = Config{User: "app", Password: "secret", TNSAlias: "orders_high", TNSNamesPath: dir, WalletPath: "/wallet"}.DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "oracle://app:secret@"), dsn)
	assert.Contains(t, strings.ToLower(dsn), "wallet")

	_, err = Config{TNSAlias: "missing", TNSNamesPath: dir}.DSN()
	require.ErrorIs(t, err, ErrAliasNotFound)

	_, err = Config{}.DSN()
	require.Error(t, err)
}

func TestEnqueueStatement(t *testing.T) {
	m := jms.BytesMessage{CorrelationID: "order-17", Body: []byte("payload")}
	m.SetProperty(jms.PropMessageVersion, jms.Int(2))
	m.SetProperty(jms.PropHeaderCount, jms.Int(1))
	m.SetProperty("flag", jms.Bool(true))
	m.SetProperty("skip", jms.Null())

	stmt, args, err := enqueueStatement("APP.ORDERS_Q", m)
	require.NoError(t, err)

	assert.Contains(t, stmt, "msg.SET_BYTES(:1);")
	assert.Contains(t, stmt, "mp.CORRELATION := :2;")
	assert.Contains(t, stmt, "msg.SET_INT_PROPERTY(:3, :4);")
	assert.Contains(t, stmt, "msg.SET_INT_PROPERTY(:5, :6);")
	assert.Contains(t, stmt, "msg.SET_BOOLEAN_PROPERTY(:7, :8 = 1);")
	assert.Contains(t, stmt, "queue_name => :9")
	assert.NotContains(t, stmt, "skip")

	assert.Equal(t, []any{
		[]byte("payload"), "order-17",
		jms.PropHeaderCount, int32(1),
		jms.PropMessageVersion, int32(2),
		"flag", 1,
		"APP.ORDERS_Q",
	}, args)

	m.SetProperty("raw", jms.Bytes([]byte{1}))
	_, _, err = enqueueStatement("APP.ORDERS_Q", m)
	require.ErrorIs(t, err, ErrUnsupportedProperty)
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	c := NewClient(Config{}, nil)

	_, err := c.QueueExists(ctx, "APP", "Q")
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = c.ShardCount(ctx, "APP", "Q")
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, c.Enqueue(ctx, "APP", "Q", []jms.BytesMessage{{}}), ErrNotConnected)
	require.ErrorIs(t, c.OffsetStore().Ensure(ctx), ErrNotConnected)
	require.NoError(t, c.Close())
}

// TestIntegration runs against the database named by TEST_ORACLE, a go-ora
// URL. TEST_ORACLE_QUEUE names an existing sharded queue as SCHEMA.NAME.
func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_ORACLE")
	if url == "" {
		t.Skip("TEST_ORACLE not set")
	}

	ctx := context.Background()
	c := NewClient(Config{ConnString: url}, nil)
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { c.Close() })

	store := c.OffsetStore()
	require.NoError(t, store.Ensure(ctx))
	require.NoError(t, store.Ensure(ctx))

	key := offset.Key{Topic: "it-topic", Queue: "IT_Q", Schema: "IT", Partition: 0}
	_, err := c.DB().ExecContext(ctx, "DELETE FROM "+offset.TableName+" WHERE kafka_topic_name = :1", key.Topic)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, key, 100))
	require.NoError(t, store.Put(ctx, key, 50))
	pos, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), pos)

	qn := os.Getenv("TEST_ORACLE_QUEUE")
	schema, name, found := strings.Cut(qn, ".")
	if !found {
		return
	}

	exists, err := c.QueueExists(ctx, schema, name)
	require.NoError(t, err)
	require.True(t, exists)

	shards, err := c.ShardCount(ctx, schema, name)
	require.NoError(t, err)
	assert.Positive(t, shards)

	msg := jms.BytesMessage{Body: []byte("hello")}
	msg.SetProperty(jms.PropMessageVersion, jms.Int(1))
	require.NoError(t, c.Enqueue(ctx, schema, name, []jms.BytesMessage{msg}))
}
