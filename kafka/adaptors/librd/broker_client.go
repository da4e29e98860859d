package librd

import (
	"fmt"
	"sync"
	"time"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/kgroup/kafka"
	"github.com/gmbyapa/kgroup/pkg/errors"
	"github.com/tryfix/log"
)

// groupErrorCodes are coordinator errors surfaced through Poll which belong to the rebalance
// protocol rather than to a partition.
var groupErrorCodes = map[librdKafka.ErrorCode]bool{
	librdKafka.ErrUnknownMemberID:     true,
	librdKafka.ErrIllegalGeneration:   true,
	librdKafka.ErrRebalanceInProgress: true,
	librdKafka.ErrFencedInstanceID:    true,
}

// librdConsumer is the part of *librdKafka.Consumer the broker client drives.
type librdConsumer interface {
	SubscribeTopics(topics []string, rebalanceCb librdKafka.RebalanceCb) error
	Unsubscribe() error
	Assign(partitions []librdKafka.TopicPartition) error
	Unassign() error
	Pause(partitions []librdKafka.TopicPartition) error
	Resume(partitions []librdKafka.TopicPartition) error
	Poll(timeoutMs int) librdKafka.Event
	CommitOffsets(offsets []librdKafka.TopicPartition) ([]librdKafka.TopicPartition, error)
	QueryWatermarkOffsets(topic string, partition int32, timeoutMs int) (low, high int64, err error)
	Committed(partitions []librdKafka.TopicPartition, timeoutMs int) ([]librdKafka.TopicPartition, error)
	Position(partitions []librdKafka.TopicPartition) ([]librdKafka.TopicPartition, error)
	Assignment() ([]librdKafka.TopicPartition, error)
	Subscription() ([]string, error)
	AssignmentLost() bool
	Logs() chan librdKafka.LogEvent
	Close() error
}

// brokerClient implements kafka.BrokerClient on top of a librdkafka consumer.
type brokerClient struct {
	consumer  librdConsumer
	config    *GroupConsumerConfig
	logger    log.Logger
	rebalance kafka.RebalanceFunc
	mu        sync.Mutex
	commits   sync.WaitGroup
	logsDone  chan struct{}
}

func newBrokerClient(consumer librdConsumer, config *GroupConsumerConfig) *brokerClient {
	c := &brokerClient{
		consumer: consumer,
		config:   config,
		logger:   config.Logger.NewLog(log.Prefixed(`Librdkafka`)),
		logsDone: make(chan struct{}),
	}

	go c.printLogs()

	return c
}

func (c *brokerClient) Subscribe(topics []string, rebalance kafka.RebalanceFunc) error {
	c.mu.Lock()
	c.rebalance = rebalance
	c.mu.Unlock()

	return c.consumer.SubscribeTopics(topics, c.onRebalance)
}

func (c *brokerClient) Unsubscribe() error {
	return c.consumer.Unsubscribe()
}

func (c *brokerClient) Assign(partitions kafka.TopicPartitionList) error {
	return c.consumer.Assign(toLibrdPartitions(partitions))
}

func (c *brokerClient) Unassign() error {
	return c.consumer.Unassign()
}

func (c *brokerClient) Pause(partitions kafka.TopicPartitionList) error {
	return c.consumer.Pause(toLibrdPartitions(partitions))
}

func (c *brokerClient) Resume(partitions kafka.TopicPartitionList) error {
	return c.consumer.Resume(toLibrdPartitions(partitions))
}

func (c *brokerClient) Poll(timeout time.Duration) *kafka.Message {
	ev := c.consumer.Poll(int(timeout.Milliseconds()))
	if ev == nil {
		return nil
	}

	return c.toMessage(ev)
}

// toMessage converts a polled event. Group errors are handed to the rebalance func instead.
func (c *brokerClient) toMessage(ev librdKafka.Event) *kafka.Message {
	switch e := ev.(type) {
	case *librdKafka.Message:
		if e.TopicPartition.Error != nil {
			return kafka.NewErrorMessage(fromLibrdPartition(e.TopicPartition), e.TopicPartition.Error)
		}

		return kafka.NewRecordMessage(newRecord(e, c.config.ContextExtractor))

	case librdKafka.PartitionEOF:
		return kafka.NewEOFMessage(fromLibrdPartition(librdKafka.TopicPartition(e)))

	case librdKafka.Error:
		if groupErrorCodes[e.Code()] {
			c.dispatch(kafka.RebalanceEvent{Type: kafka.RebalanceFailed, Err: e})
			return nil
		}

		if e.IsFatal() {
			c.logger.Error(fmt.Sprintf(`Fatal consumer error %s`, e))
		}

		return kafka.NewErrorMessage(kafka.TopicPartition{}, e)

	default:
		c.logger.Trace(fmt.Sprintf(`Ignored event %s`, ev))
		return nil
	}
}

func (c *brokerClient) Commit(offsets kafka.TopicPartitionList) error {
	committed, err := c.consumer.CommitOffsets(toLibrdPartitions(offsets))
	if err != nil {
		return err
	}

	return partitionsErr(`commit`, committed)
}

// CommitAsync runs the commit on its own goroutine. librdkafka's offset commit callbacks are not
// available without the events channel. Close waits for these commits.
func (c *brokerClient) CommitAsync(offsets kafka.TopicPartitionList) *kafka.CommitResult {
	result := kafka.NewCommitResult(offsets)

	c.commits.Add(1)
	go func() {
		defer c.commits.Done()
		result.Resolve(c.Commit(offsets))
	}()

	return result
}

func (c *brokerClient) Watermarks(topic string, partition int32) (low, high int64, err error) {
	return c.consumer.QueryWatermarkOffsets(topic, partition, c.timeoutMs())
}

func (c *brokerClient) Committed(partitions kafka.TopicPartitionList) (kafka.TopicPartitionList, error) {
	committed, err := c.consumer.Committed(toLibrdPartitions(partitions), c.timeoutMs())
	if err != nil {
		return nil, err
	}

	return fromLibrdPartitions(committed), nil
}

func (c *brokerClient) Position(partitions kafka.TopicPartitionList) (kafka.TopicPartitionList, error) {
	positions, err := c.consumer.Position(toLibrdPartitions(partitions))
	if err != nil {
		return nil, err
	}

	return fromLibrdPartitions(positions), nil
}

func (c *brokerClient) Assignment() (kafka.TopicPartitionList, error) {
	tps, err := c.consumer.Assignment()
	if err != nil {
		return nil, err
	}

	return fromLibrdPartitions(tps), nil
}

func (c *brokerClient) Subscription() ([]string, error) {
	return c.consumer.Subscription()
}

// MemberID is not exposed by confluent-kafka-go v1.9, the member id stays empty.
func (c *brokerClient) MemberID() (string, error) {
	return ``, nil
}

// Close leaves the group. librdkafka serves the final revocation through the rebalance callback
// while closing.
func (c *brokerClient) Close() error {
	c.logger.Info(`Consumer closing...`)
	defer c.logger.Info(`Consumer closed`)

	c.commits.Wait()

	if err := c.consumer.Close(); err != nil {
		return errors.Wrap(err, `librdkafka consumer close failed`)
	}

	select {
	case <-c.logsDone:
	case <-time.After(c.config.RequestTimeout):
		c.logger.Warn(`Log forwarder did not stop in time`)
	}

	return nil
}

func (c *brokerClient) onRebalance(_ *librdKafka.Consumer, event librdKafka.Event) error {
	switch ev := event.(type) {
	case librdKafka.AssignedPartitions:
		c.dispatch(kafka.RebalanceEvent{
			Type:       kafka.PartitionsAssigned,
			Partitions: fromLibrdPartitions(ev.Partitions),
		})

	case librdKafka.RevokedPartitions:
		c.dispatch(kafka.RebalanceEvent{
			Type:       kafka.PartitionsRevoked,
			Partitions: fromLibrdPartitions(ev.Partitions),
			Lost:       c.consumer.AssignmentLost(),
		})

	case librdKafka.Error:
		c.dispatch(kafka.RebalanceEvent{Type: kafka.RebalanceFailed, Err: ev})

	default:
		c.dispatch(kafka.RebalanceEvent{
			Type: kafka.RebalanceFailed,
			Err:  errors.Errorf(`unexpected rebalance event %s`, event),
		})
	}

	return nil
}

func (c *brokerClient) dispatch(event kafka.RebalanceEvent) {
	c.mu.Lock()
	rebalance := c.rebalance
	c.mu.Unlock()

	if rebalance == nil {
		c.logger.Warn(fmt.Sprintf(`Rebalance event %s dropped, consumer not subscribed`, event.Type))
		return
	}

	rebalance(event)
}

func (c *brokerClient) timeoutMs() int {
	return int(c.config.RequestTimeout.Milliseconds())
}

func (c *brokerClient) printLogs() {
	defer close(c.logsDone)

	for lg := range c.consumer.Logs() {
		switch lg.Level {
		case 0, 1, 2:
			c.logger.Error(lg.String())
		case 3, 4, 5:
			c.logger.Warn(lg.String())
		case 6:
			c.logger.Info(lg.String())
		case 7:
			c.logger.Debug(lg.String())
		}
	}
}
