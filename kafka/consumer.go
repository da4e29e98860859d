package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// TopicPartition represents a kafka topic partition along with an offset. Only Topic and Partition
// are part of the identity, Offset and Err are metadata carried by the partition.
type TopicPartition struct {
	Topic     string
	Partition int32
	Offset    Offset
	Err       error
}

// String returns the identity of the partition (`topic-partition`). It is used as the map key
// wherever partitions are indexed.
func (tp TopicPartition) String() string {
	return fmt.Sprintf(`%s-%d`, tp.Topic, tp.Partition)
}

// Equal reports whether both partitions refer to the same topic partition regardless of offsets.
func (tp TopicPartition) Equal(other TopicPartition) bool {
	return tp.Topic == other.Topic && tp.Partition == other.Partition
}

// TopicPartitionList is an ordered list of partitions. Rebalance callbacks may change offsets in place.
type TopicPartitionList []TopicPartition

// Copy returns a detached copy of the list.
func (list TopicPartitionList) Copy() TopicPartitionList {
	if list == nil {
		return nil
	}

	cp := make(TopicPartitionList, len(list))
	copy(cp, list)

	return cp
}

// Find returns the index of the given partition in the list or -1 if the list does not contain it.
func (list TopicPartitionList) Find(topic string, partition int32) int {
	for i, tp := range list {
		if tp.Topic == topic && tp.Partition == partition {
			return i
		}
	}

	return -1
}

func (list TopicPartitionList) Contains(tp TopicPartition) bool {
	return list.Find(tp.Topic, tp.Partition) > -1
}

// Topics returns the distinct topics of the list in order of appearance.
func (list TopicPartitionList) Topics() []string {
	var topics []string
	seen := map[string]struct{}{}
	for _, tp := range list {
		if _, ok := seen[tp.Topic]; ok {
			continue
		}
		seen[tp.Topic] = struct{}{}
		topics = append(topics, tp.Topic)
	}

	return topics
}

func (list TopicPartitionList) String() string {
	parts := make([]string, len(list))
	for i, tp := range list {
		parts[i] = fmt.Sprintf(`%s@%s`, tp, tp.Offset)
	}

	return fmt.Sprintf(`[%s]`, strings.Join(parts, `, `))
}

// Offset values match librdkafka's logical offsets so adaptors can convert them by a plain cast.
type Offset int64

const (
	OffsetEarliest Offset = -2
	OffsetLatest   Offset = -1
	OffsetStored   Offset = -1000
	// OffsetInvalid is the "no offset" sentinel. Committed offset lookups return it for partitions
	// without any commit history.
	OffsetInvalid Offset = -1001
)

func (o Offset) String() string {
	switch o {
	case OffsetEarliest:
		return `Earliest`
	case OffsetLatest:
		return `Latest`
	case OffsetStored:
		return `Stored`
	case OffsetInvalid:
		return `Invalid`
	default:
		return fmt.Sprint(int64(o))
	}
}

// IsLogical reports whether the offset is one of the logical (negative) offsets.
func (o Offset) IsLogical() bool {
	return o < 0
}

type IsolationLevel int8

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
)

type RecordContextBinderFunc func(record Record) context.Context

type GroupConsumerConfig struct {
	Id               string
	GroupId          string
	BootstrapServers []string
	IsolationLevel   IsolationLevel
	// PollTimeout is used by Poll() when no explicit timeout is given.
	PollTimeout time.Duration
	// ErrorsChanSize is the buffer size of the Errors() channel.
	ErrorsChanSize int
	Offsets        struct {
		Initial Offset
	}

	Logger           log.Logger
	MetricsReporter  metrics.Reporter
	ContextExtractor RecordContextBinderFunc
}

func (conf *GroupConsumerConfig) Copy() *GroupConsumerConfig {
	servers := make([]string, len(conf.BootstrapServers))
	copy(servers, conf.BootstrapServers)

	return &GroupConsumerConfig{
		Id:               conf.Id,
		GroupId:          conf.GroupId,
		BootstrapServers: servers,
		IsolationLevel:   conf.IsolationLevel,
		PollTimeout:      conf.PollTimeout,
		ErrorsChanSize:   conf.ErrorsChanSize,
		Offsets:          conf.Offsets,
		Logger:           conf.Logger,
		MetricsReporter:  conf.MetricsReporter,
		ContextExtractor: conf.ContextExtractor,
	}
}

func (conf *GroupConsumerConfig) validate() error {
	if conf.GroupId == `` {
		return &ConfigurationError{Key: `group.id`, Err: ErrNoGroupId}
	}

	if conf.PollTimeout < 0 {
		return &ConfigurationError{Key: `poll.timeout`, Err: fmt.Errorf(`negative poll timeout %s`, conf.PollTimeout)}
	}

	return nil
}

func NewConfig() *GroupConsumerConfig {
	conf := &GroupConsumerConfig{
		IsolationLevel:  ReadCommitted,
		PollTimeout:     1 * time.Second,
		ErrorsChanSize:  100,
		Logger:          log.NewNoopLogger(),
		MetricsReporter: metrics.NoopReporter(),
	}
	conf.Offsets.Initial = OffsetEarliest

	return conf
}

type GroupConsumerProvider interface {
	NewBuilder(config *GroupConsumerConfig) GroupConsumerBuilder
}

type GroupConsumerBuilder func(func(config *GroupConsumerConfig)) (*GroupConsumer, error)
