package task

import (
	"errors"
	"fmt"
)

var ErrInsufficientShardCapacity = errors.New("queue has fewer shards than topic partitions")

// CheckShardCapacity fails when the queue cannot give every Kafka partition
// a shard of its own. Records of one partition keep their order only while
// they land in a single shard.
func CheckShardCapacity(kafkaPartitions, queueShards uint32) error {
	if kafkaPartitions > queueShards {
		return fmt.Errorf("%w: %d partitions, %d shards", ErrInsufficientShardCapacity, kafkaPartitions, queueShards)
	}
	return nil
}
