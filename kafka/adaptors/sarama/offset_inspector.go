package sarama

import (
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gmbyapa/kgroup/kafka"
	"github.com/gmbyapa/kgroup/pkg/errors"
	"github.com/tryfix/log"
)

type inspectorOptions struct {
	KafkaVersion sarama.KafkaVersion
	ClientId     string
	Timeout      time.Duration
	Logger       log.Logger
}

func (opts *inspectorOptions) apply(options ...InspectorOption) {
	opts.KafkaVersion = sarama.V2_4_0_0
	opts.ClientId = `kgroup-offset-inspector`
	opts.Timeout = 20 * time.Second
	opts.Logger = log.NewNoopLogger()
	for _, opt := range options {
		opt(opts)
	}
}

type InspectorOption func(*inspectorOptions)

func WithKafkaVersion(version sarama.KafkaVersion) InspectorOption {
	return func(options *inspectorOptions) {
		options.KafkaVersion = version
	}
}

func WithClientId(id string) InspectorOption {
	return func(options *inspectorOptions) {
		options.ClientId = id
	}
}

func WithTimeout(timeout time.Duration) InspectorOption {
	return func(options *inspectorOptions) {
		options.Timeout = timeout
	}
}

func WithLogger(logger log.Logger) InspectorOption {
	return func(options *inspectorOptions) {
		options.Logger = logger
	}
}

type offsetClient interface {
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
}

type groupAdmin interface {
	ListConsumerGroupOffsets(group string, topicPartitions map[string][]int32) (*sarama.OffsetFetchResponse, error)
	Close() error
}

// OffsetInspector reads the offsets of a consumer group without joining it. It implements
// kafka.LagSource so the lag of any group can be computed with kafka.ConsumerLag.
type OffsetInspector struct {
	group  string
	client offsetClient
	admin  groupAdmin
	logger log.Logger
}

func NewOffsetInspector(group string, bootstrapServers []string, options ...InspectorOption) (*OffsetInspector, error) {
	if group == `` {
		return nil, &kafka.ConfigurationError{Key: `group.id`, Err: kafka.ErrNoGroupId}
	}

	opts := new(inspectorOptions)
	opts.apply(options...)

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = opts.KafkaVersion
	saramaConfig.ClientID = opts.ClientId
	saramaConfig.Admin.Timeout = opts.Timeout

	client, err := sarama.NewClient(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, `sarama client failed`)
	}

	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			opts.Logger.Warn(fmt.Sprintf(`Client close failed due to %s`, closeErr))
		}
		return nil, errors.Wrap(err, `admin client failed`)
	}

	return newOffsetInspector(group, client, admin, opts.Logger), nil
}

func newOffsetInspector(group string, client offsetClient, admin groupAdmin, logger log.Logger) *OffsetInspector {
	return &OffsetInspector{
		group:  group,
		client: client,
		admin:  admin,
		logger: logger.NewLog(log.Prefixed(`OffsetInspector`)),
	}
}

func (i *OffsetInspector) Group() string {
	return i.group
}

// Offsets returns the low and high watermarks of a partition.
func (i *OffsetInspector) Offsets(tp kafka.TopicPartition) (low, high int64, err error) {
	low, err = i.client.GetOffset(tp.Topic, tp.Partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, errors.Wrapf(err, `cannot get oldest offset for %s`, tp)
	}

	high, err = i.client.GetOffset(tp.Topic, tp.Partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, errors.Wrapf(err, `cannot get latest offset for %s`, tp)
	}

	return low, high, nil
}

// Committed returns the committed offsets of the group. Partitions without a commit get
// kafka.OffsetInvalid, per partition failures are set on TopicPartition.Err.
func (i *OffsetInspector) Committed(partitions kafka.TopicPartitionList) (kafka.TopicPartitionList, error) {
	if len(partitions) < 1 {
		return kafka.TopicPartitionList{}, nil
	}

	request := map[string][]int32{}
	for _, tp := range partitions {
		request[tp.Topic] = append(request[tp.Topic], tp.Partition)
	}

	res, err := i.admin.ListConsumerGroupOffsets(i.group, request)
	if err != nil {
		return nil, errors.Wrapf(err, `offset fetch failed for group %s`, i.group)
	}

	if res.Err != sarama.ErrNoError {
		return nil, errors.Wrapf(res.Err, `offset fetch failed for group %s`, i.group)
	}

	committed := partitions.Copy()
	for idx, tp := range committed {
		committed[idx].Offset = kafka.OffsetInvalid
		committed[idx].Err = nil

		block := res.GetBlock(tp.Topic, tp.Partition)
		if block == nil {
			continue
		}

		if block.Err != sarama.ErrNoError {
			committed[idx].Err = block.Err
			i.logger.Warn(fmt.Sprintf(`Offset fetch for %s failed due to %s`, tp, block.Err))
			continue
		}

		if block.Offset >= 0 {
			committed[idx].Offset = kafka.Offset(block.Offset)
		}
	}

	return committed, nil
}

func (i *OffsetInspector) Lag(partitions kafka.TopicPartitionList) ([]kafka.PartitionLag, error) {
	return kafka.ConsumerLag(i, partitions)
}

// Close closes the admin and the underlying client.
func (i *OffsetInspector) Close() error {
	return i.admin.Close()
}
