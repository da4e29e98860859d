package kafka

import (
	"fmt"
)

// LagSource provides the offsets needed to compute consumer lag. GroupConsumer implements it, and so
// do out-of-group inspectors which look at a group from the outside.
type LagSource interface {
	Offsets(tp TopicPartition) (low, high int64, err error)
	Committed(partitions TopicPartitionList) (TopicPartitionList, error)
}

type PartitionLag struct {
	TopicPartition
	Committed Offset
	Low       int64
	High      int64
	Lag       int64
}

func (l PartitionLag) String() string {
	return fmt.Sprintf(`%s committed:%s high:%d lag:%d`, l.TopicPartition, l.Committed, l.High, l.Lag)
}

// ConsumerLag computes the lag of each partition as high watermark minus committed offset. A
// partition without a commit lags by the whole partition (high - low).
func ConsumerLag(source LagSource, partitions TopicPartitionList) ([]PartitionLag, error) {
	if len(partitions) < 1 {
		return []PartitionLag{}, nil
	}

	committed, err := source.Committed(partitions)
	if err != nil {
		return nil, err
	}

	lags := make([]PartitionLag, 0, len(committed))
	for _, tp := range committed {
		low, high, err := source.Offsets(tp)
		if err != nil {
			return nil, err
		}

		lag := PartitionLag{
			TopicPartition: TopicPartition{Topic: tp.Topic, Partition: tp.Partition},
			Committed:      tp.Offset,
			Low:            low,
			High:           high,
		}

		switch {
		case tp.Offset.IsLogical():
			lag.Lag = high - low
		case int64(tp.Offset) > high:
			lag.Lag = 0
		default:
			lag.Lag = high - int64(tp.Offset)
		}

		lags = append(lags, lag)
	}

	return lags, nil
}

// Lag returns the lag of the partitions currently assigned to this consumer.
func (g *GroupConsumer) Lag() ([]PartitionLag, error) {
	return ConsumerLag(g, g.Assignment())
}
