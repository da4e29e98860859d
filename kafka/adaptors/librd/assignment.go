package librd

import (
	"fmt"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/kgroup/kafka"
)

// toLibrdPartitions converts a partition list. kafka.Offset shares librdkafka's logical offset values.
func toLibrdPartitions(list kafka.TopicPartitionList) []librdKafka.TopicPartition {
	tps := make([]librdKafka.TopicPartition, len(list))
	for i, tp := range list {
		topic := tp.Topic
		tps[i] = librdKafka.TopicPartition{
			Topic:     &topic,
			Partition: tp.Partition,
			Offset:    librdKafka.Offset(tp.Offset),
		}
	}

	return tps
}

func fromLibrdPartitions(tps []librdKafka.TopicPartition) kafka.TopicPartitionList {
	list := make(kafka.TopicPartitionList, 0, len(tps))
	for _, tp := range tps {
		list = append(list, fromLibrdPartition(tp))
	}

	return list
}

func fromLibrdPartition(tp librdKafka.TopicPartition) kafka.TopicPartition {
	var topic string
	if tp.Topic != nil {
		topic = *tp.Topic
	}

	return kafka.TopicPartition{
		Topic:     topic,
		Partition: tp.Partition,
		Offset:    kafka.Offset(tp.Offset),
		Err:       tp.Error,
	}
}

// partitionsErr returns the first per partition error of a librdkafka response to op.
func partitionsErr(op string, tps []librdKafka.TopicPartition) error {
	for _, tp := range tps {
		if tp.Error != nil {
			return &kafka.BrokerError{Op: op, Err: fmt.Errorf(`%s: %w`, fromLibrdPartition(tp), tp.Error)}
		}
	}

	return nil
}
