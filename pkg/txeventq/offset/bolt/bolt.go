// Package bolt stores tracked offsets in an embedded bbolt file, for
// deployments that have no database table to keep them in.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeflare/txeventq/pkg/metrics"
	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
	bb "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var offsetsBucket = []byte(offset.TableName)

var (
	errCorruptValue = errors.New("corrupt offset value")
	errNoBucket     = fmt.Errorf("%w: %w", offset.ErrPermanent, bb.ErrBucketNotFound)
)

type store struct {
	handle *bb.DB
	logger *zap.Logger
}

// Open opens or creates the bbolt file at path.
func Open(path string, logger *zap.Logger) (offset.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("opening bolt offset store", zap.String("path", path))
	db, err := bb.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}
	return &store{handle: db, logger: logger}, nil
}

func (s *store) Ensure(context.Context) error {
	return s.handle.Update(func(tx *bb.Tx) error {
		_, err := tx.CreateBucketIfNotExists(offsetsBucket)
		return err
	})
}

// encodeKey joins the key parts with NUL, which cannot appear in Kafka topic
// names or Oracle identifiers.
func encodeKey(k offset.Key) []byte {
	return []byte(strings.Join([]string{
		k.Topic,
		k.Schema,
		k.Queue,
		strconv.FormatInt(int64(k.Partition), 10),
	}, "\x00"))
}

func decodeValue(v []byte) (int64, error) {
	if len(v) != 8 {
		return 0, fmt.Errorf("%w: %w: %d bytes", offset.ErrPermanent, errCorruptValue, len(v))
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

func (s *store) Get(_ context.Context, key offset.Key) (int64, bool, error) {
	var (
		pos   int64
		found bool
	)
	err := s.handle.View(func(tx *bb.Tx) error {
		bk := tx.Bucket(offsetsBucket)
		if bk == nil {
			return errNoBucket
		}
		v := bk.Get(encodeKey(key))
		if v == nil {
			return nil
		}
		p, err := decodeValue(v)
		if err != nil {
			return err
		}
		pos, found = p, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return pos, found, nil
}

// Put reads and writes inside one update transaction; bbolt allows a single
// writer, so the max is atomic.
func (s *store) Put(_ context.Context, key offset.Key, position int64) error {
	return s.handle.Update(func(tx *bb.Tx) error {
		bk := tx.Bucket(offsetsBucket)
		if bk == nil {
			return errNoBucket
		}
		k := encodeKey(key)
		if v := bk.Get(k); v != nil {
			cur, err := decodeValue(v)
			if err != nil {
				return err
			}
			if cur >= position {
				metrics.StaleOffsetsIgnored.Inc()
				s.logger.Debug("ignoring stale offset",
					zap.Stringer("key", key),
					zap.Int64("stored", cur),
					zap.Int64("position", position))
				return nil
			}
		}
		return bk.Put(k, binary.BigEndian.AppendUint64(nil, uint64(position)))
	})
}

func (s *store) Close() error {
	return s.handle.Close()
}
