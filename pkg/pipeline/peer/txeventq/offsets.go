package txeventq

import (
	"context"
	"fmt"

	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
	"github.com/edgeflare/txeventq/pkg/txeventq/offset/bolt"
	"github.com/edgeflare/txeventq/pkg/txeventq/offset/pg"
	"github.com/edgeflare/txeventq/pkg/txeventq/oracle"
	"go.uber.org/zap"
)

// Offset store types
const (
	OffsetsOracle   = "oracle"
	OffsetsBolt     = "bolt"
	OffsetsPostgres = "postgres"
	OffsetsMemory   = "memory"
)

// OffsetsConfig selects where tracked offsets live. The default keeps them
// in the queue database, next to the messages they describe.
type OffsetsConfig struct {
	Type       string `mapstructure:"type"`
	Path       string `mapstructure:"path"`       // bolt file
	ConnString string `mapstructure:"connString"` // postgres
}

// OpenStore opens the configured store. The oracle type needs db; it must be
// connected before the store is used.
func (c OffsetsConfig) OpenStore(ctx context.Context, db *oracle.Client, logger *zap.Logger) (offset.Store, error) {
	switch c.Type {
	case "", OffsetsOracle:
		if db == nil {
			return nil, fmt.Errorf("oracle offset store needs an oracle queue backend")
		}
		return db.OffsetStore(), nil
	case OffsetsBolt:
		if c.Path == "" {
			return nil, fmt.Errorf("bolt offset store needs a path")
		}
		return bolt.Open(c.Path, logger)
	case OffsetsPostgres:
		return pg.Open(ctx, c.ConnString)
	case OffsetsMemory:
		return offset.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown offset store type %q", c.Type)
	}
}
