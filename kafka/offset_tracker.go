package kafka

import (
	"errors"
	"fmt"
	"time"
)

var errNoRecord = errors.New(`message does not carry a record`)

// Commit synchronously commits the offset following the message, for the message's partition only.
func (g *GroupConsumer) Commit(message *Message) error {
	offsets, err := g.messageOffsets(message)
	if err != nil {
		return err
	}

	return g.CommitOffsets(offsets)
}

// AsyncCommit is the non-blocking version of Commit. A failure is reported through the returned
// result and the Errors() channel.
func (g *GroupConsumer) AsyncCommit(message *Message) (*CommitResult, error) {
	offsets, err := g.messageOffsets(message)
	if err != nil {
		return nil, err
	}

	return g.AsyncCommitOffsets(offsets)
}

// CommitOffsets synchronously commits each partition at the offset it carries.
func (g *GroupConsumer) CommitOffsets(offsets TopicPartitionList) error {
	if g.isClosing() {
		return ErrConsumerClosed
	}

	defer func(since time.Time) {
		g.metrics.commitLatency.Observe(float64(time.Since(since).Microseconds()), map[string]string{`mode`: `sync`})
	}(time.Now())

	if err := g.client.Commit(offsets); err != nil {
		g.metrics.commitErrors.Count(1, map[string]string{`mode`: `sync`})
		g.logger.Error(fmt.Sprintf(`Commit %s failed due to %s`, offsets, err))
		return brokerErr(`commit`, err)
	}

	g.logger.Debug(fmt.Sprintf(`Offsets %s committed`, offsets))

	return nil
}

// AsyncCommitOffsets commits without waiting for the broker.
func (g *GroupConsumer) AsyncCommitOffsets(offsets TopicPartitionList) (*CommitResult, error) {
	if g.isClosing() {
		return nil, ErrConsumerClosed
	}

	since := time.Now()
	result := g.client.CommitAsync(offsets)
	result.onComplete(func(err error) {
		g.metrics.commitLatency.Observe(float64(time.Since(since).Microseconds()), map[string]string{`mode`: `async`})
		if err == nil {
			return
		}

		g.metrics.commitErrors.Count(1, map[string]string{`mode`: `async`})
		g.logger.Error(fmt.Sprintf(`Async commit %s failed due to %s`, offsets, err))
		g.notifyErr(brokerErr(`commit`, err))
	})

	return result, nil
}

// Offsets returns the low and high watermarks of a partition as seen by the broker at call time.
func (g *GroupConsumer) Offsets(tp TopicPartition) (low, high int64, err error) {
	if g.isClosing() {
		return 0, 0, ErrConsumerClosed
	}

	low, high, err = g.client.Watermarks(tp.Topic, tp.Partition)
	if err != nil {
		return 0, 0, brokerErr(`watermarks`, err)
	}

	return low, high, nil
}

// Committed returns the partitions with their last committed offsets. Partitions without a commit
// get OffsetInvalid.
func (g *GroupConsumer) Committed(partitions TopicPartitionList) (TopicPartitionList, error) {
	if g.isClosing() {
		return nil, ErrConsumerClosed
	}

	committed, err := g.client.Committed(partitions.Copy())
	if err != nil {
		return nil, brokerErr(`committed`, err)
	}

	return committed, nil
}

// Position returns the partitions with the consumer's current fetch positions.
func (g *GroupConsumer) Position(partitions TopicPartitionList) (TopicPartitionList, error) {
	if g.isClosing() {
		return nil, ErrConsumerClosed
	}

	positions, err := g.client.Position(partitions.Copy())
	if err != nil {
		return nil, brokerErr(`position`, err)
	}

	return positions, nil
}

func (g *GroupConsumer) messageOffsets(message *Message) (TopicPartitionList, error) {
	if message == nil || message.Record() == nil {
		return nil, brokerErr(`commit`, errNoRecord)
	}

	tp := message.TopicPartition()
	tp.Offset++
	tp.Err = nil

	return TopicPartitionList{tp}, nil
}
