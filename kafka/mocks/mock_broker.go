package mocks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gmbyapa/kgroup/kafka"
	"github.com/google/uuid"
)

const (
	OpSubscribe   = `subscribe`
	OpUnsubscribe = `unsubscribe`
	OpAssign      = `assign`
	OpUnassign    = `unassign`
	OpCommit      = `commit`
	OpWatermarks  = `watermarks`
	OpCommitted   = `committed`
	OpPosition    = `position`
	OpPause       = `pause`
	OpResume      = `resume`
	OpClose       = `close`
)

var ErrBrokerClosed = errors.New(`mock broker closed`)

// MockBroker is an in-memory kafka.BrokerClient. Coordinator events queued with the Trigger* methods
// are delivered one per Poll call, the way librdkafka serves rebalances from its poll loop.
type MockBroker struct {
	topics *Topics
	// EmitEOF makes Poll return a partition EOF marker each time a partition is drained.
	EmitEOF bool

	mu           sync.Mutex
	memberId     string
	subscription []string
	rebalance    kafka.RebalanceFunc
	assignment   kafka.TopicPartitionList
	positions    map[string]int64
	eofSent      map[string]bool
	paused       map[string]bool
	committed    map[string]kafka.Offset
	events       []kafka.RebalanceEvent
	pollErrors   []*kafka.Message
	failures     map[string]error
	assignCalls  []kafka.TopicPartitionList
	closed       bool
	notify       chan struct{}
}

func NewMockBroker(topics *Topics) *MockBroker {
	return &MockBroker{
		topics:    topics,
		positions: map[string]int64{},
		eofSent:   map[string]bool{},
		paused:    map[string]bool{},
		committed: map[string]kafka.Offset{},
		failures:  map[string]error{},
		notify:    make(chan struct{}, 1),
	}
}

func (b *MockBroker) Topics() *Topics {
	return b.topics
}

// Produce appends a record to a partition and wakes up a pending Poll.
func (b *MockBroker) Produce(topic string, partition int32, key, value []byte) (kafka.Record, error) {
	pt, err := b.topics.Partition(topic, partition)
	if err != nil {
		return nil, err
	}

	rec := pt.Append(key, value)
	b.wakeUp()

	return rec, nil
}

// FailNext makes the next call of the given operation fail with err.
func (b *MockBroker) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

func (b *MockBroker) TriggerAssign(partitions kafka.TopicPartitionList) {
	b.queue(kafka.RebalanceEvent{Type: kafka.PartitionsAssigned, Partitions: partitions.Copy()})
}

// TriggerRevoke queues a revocation of the assignment current at the time of the call.
func (b *MockBroker) TriggerRevoke() {
	b.mu.Lock()
	partitions := b.assignment.Copy()
	b.mu.Unlock()

	b.queue(kafka.RebalanceEvent{Type: kafka.PartitionsRevoked, Partitions: partitions})
}

func (b *MockBroker) TriggerLost() {
	b.mu.Lock()
	partitions := b.assignment.Copy()
	b.mu.Unlock()

	b.queue(kafka.RebalanceEvent{Type: kafka.PartitionsRevoked, Partitions: partitions, Lost: true})
}

func (b *MockBroker) TriggerRebalanceError(err error) {
	b.queue(kafka.RebalanceEvent{Type: kafka.RebalanceFailed, Err: err})
}

// InjectPollError makes a following Poll return an error message for tp. An empty topic simulates
// a client level error.
func (b *MockBroker) InjectPollError(tp kafka.TopicPartition, err error) {
	b.mu.Lock()
	b.pollErrors = append(b.pollErrors, kafka.NewErrorMessage(tp, err))
	b.mu.Unlock()

	b.wakeUp()
}

// AssignCalls returns every list passed to Assign, in call order.
func (b *MockBroker) AssignCalls() []kafka.TopicPartitionList {
	b.mu.Lock()
	defer b.mu.Unlock()

	calls := make([]kafka.TopicPartitionList, len(b.assignCalls))
	copy(calls, b.assignCalls)

	return calls
}

func (b *MockBroker) PendingEvents() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *MockBroker) IsPaused(tp kafka.TopicPartition) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused[tp.String()]
}

func (b *MockBroker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *MockBroker) Subscribe(topics []string, rebalance kafka.RebalanceFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failure(OpSubscribe); err != nil {
		return err
	}

	for _, topic := range topics {
		if _, err := b.topics.Topic(topic); err != nil {
			return fmt.Errorf(`topic %s: %w`, topic, err)
		}
	}

	b.subscription = append([]string(nil), topics...)
	b.rebalance = rebalance
	if b.memberId == `` {
		b.memberId = fmt.Sprintf(`mock-member-%s`, uuid.New())
	}

	return nil
}

// Unsubscribe leaves the group, the current assignment is revoked on the next Poll.
func (b *MockBroker) Unsubscribe() error {
	b.mu.Lock()
	if err := b.failure(OpUnsubscribe); err != nil {
		b.mu.Unlock()
		return err
	}

	b.subscription = nil
	b.memberId = ``
	partitions := b.assignment.Copy()
	b.mu.Unlock()

	if len(partitions) > 0 {
		b.queue(kafka.RebalanceEvent{Type: kafka.PartitionsRevoked, Partitions: partitions})
	}

	return nil
}

func (b *MockBroker) Assign(partitions kafka.TopicPartitionList) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failure(OpAssign); err != nil {
		return err
	}

	for _, tp := range partitions {
		if _, err := b.topics.Partition(tp.Topic, tp.Partition); err != nil {
			return fmt.Errorf(`%s: %w`, tp, err)
		}
	}

	b.assignCalls = append(b.assignCalls, partitions.Copy())
	b.assignment = partitions.Copy()
	b.positions = map[string]int64{}
	b.eofSent = map[string]bool{}
	b.paused = map[string]bool{}
	for _, tp := range partitions {
		b.positions[tp.String()] = b.startOffset(tp)
	}

	return nil
}

func (b *MockBroker) Unassign() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failure(OpUnassign); err != nil {
		return err
	}

	b.assignment = nil
	b.positions = map[string]int64{}
	b.eofSent = map[string]bool{}
	b.paused = map[string]bool{}

	return nil
}

func (b *MockBroker) Pause(partitions kafka.TopicPartitionList) error {
	return b.setPaused(OpPause, partitions, true)
}

func (b *MockBroker) Resume(partitions kafka.TopicPartitionList) error {
	if err := b.setPaused(OpResume, partitions, false); err != nil {
		return err
	}
	b.wakeUp()

	return nil
}

func (b *MockBroker) setPaused(op string, partitions kafka.TopicPartitionList, paused bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failure(op); err != nil {
		return err
	}

	for _, tp := range partitions {
		b.paused[tp.String()] = paused
	}

	return nil
}

// Poll serves one pending coordinator event (returning nil), otherwise the next record or EOF
// marker of the assignment, waiting up to timeout for one to be produced.
func (b *MockBroker) Poll(timeout time.Duration) *kafka.Message {
	if b.serveEvent() {
		return nil
	}

	if msg := b.next(); msg != nil {
		return msg
	}

	if timeout <= 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.notify:
		if b.serveEvent() {
			return nil
		}
		return b.next()
	case <-timer.C:
		return nil
	}
}

func (b *MockBroker) Commit(offsets kafka.TopicPartitionList) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	if err := b.failure(OpCommit); err != nil {
		return err
	}

	for _, tp := range offsets {
		if _, err := b.topics.Partition(tp.Topic, tp.Partition); err != nil {
			return fmt.Errorf(`%s: %w`, tp, err)
		}

		if tp.Offset < 0 {
			return fmt.Errorf(`%s@%s: %w`, tp, tp.Offset, sarama.ErrOffsetOutOfRange)
		}
	}

	for _, tp := range offsets {
		b.committed[tp.String()] = tp.Offset
	}

	return nil
}

// CommitAsync resolves the result before returning.
func (b *MockBroker) CommitAsync(offsets kafka.TopicPartitionList) *kafka.CommitResult {
	result := kafka.NewCommitResult(offsets)
	result.Resolve(b.Commit(offsets))

	return result
}

func (b *MockBroker) Watermarks(topic string, partition int32) (low, high int64, err error) {
	b.mu.Lock()
	err = b.failure(OpWatermarks)
	b.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}

	pt, err := b.topics.Partition(topic, partition)
	if err != nil {
		return 0, 0, err
	}

	return pt.Low(), pt.High(), nil
}

func (b *MockBroker) Committed(partitions kafka.TopicPartitionList) (kafka.TopicPartitionList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failure(OpCommitted); err != nil {
		return nil, err
	}

	committed := partitions.Copy()
	for i, tp := range committed {
		offset, ok := b.committed[tp.String()]
		if !ok {
			offset = kafka.OffsetInvalid
		}
		committed[i].Offset = offset
	}

	return committed, nil
}

func (b *MockBroker) Position(partitions kafka.TopicPartitionList) (kafka.TopicPartitionList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failure(OpPosition); err != nil {
		return nil, err
	}

	positions := partitions.Copy()
	for i, tp := range positions {
		position, ok := b.positions[tp.String()]
		if !ok {
			positions[i].Offset = kafka.OffsetInvalid
			continue
		}
		positions[i].Offset = kafka.Offset(position)
	}

	return positions, nil
}

func (b *MockBroker) Assignment() (kafka.TopicPartitionList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.assignment.Copy(), nil
}

func (b *MockBroker) Subscription() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscription...), nil
}

func (b *MockBroker) MemberID() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.memberId, nil
}

// Close revokes the assignment through the rebalance function, if any, and leaves the group.
func (b *MockBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}

	if err := b.failure(OpClose); err != nil {
		b.mu.Unlock()
		return err
	}

	partitions := b.assignment.Copy()
	rebalance := b.rebalance
	b.events = nil
	b.mu.Unlock()

	if rebalance != nil && len(partitions) > 0 {
		rebalance(kafka.RebalanceEvent{Type: kafka.PartitionsRevoked, Partitions: partitions})
	}

	b.mu.Lock()
	b.closed = true
	b.subscription = nil
	b.memberId = ``
	b.rebalance = nil
	b.mu.Unlock()

	return nil
}

func (b *MockBroker) queue(event kafka.RebalanceEvent) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()

	b.wakeUp()
}

func (b *MockBroker) wakeUp() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// serveEvent delivers the oldest pending event. The lock is released while the handler runs since
// handlers call back into the broker.
func (b *MockBroker) serveEvent() bool {
	b.mu.Lock()
	if len(b.events) < 1 || b.rebalance == nil || b.closed {
		b.mu.Unlock()
		return false
	}

	event := b.events[0]
	b.events = b.events[1:]
	rebalance := b.rebalance
	b.mu.Unlock()

	rebalance(event)

	return true
}

func (b *MockBroker) next() *kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	if len(b.pollErrors) > 0 {
		msg := b.pollErrors[0]
		b.pollErrors = b.pollErrors[1:]
		return msg
	}

	for _, tp := range b.assignment {
		key := tp.String()
		if b.paused[key] {
			continue
		}

		pt, err := b.topics.Partition(tp.Topic, tp.Partition)
		if err != nil {
			continue
		}

		position := b.positions[key]
		if rec := pt.Fetch(position); rec != nil {
			b.positions[key] = position + 1
			b.eofSent[key] = false
			return kafka.NewRecordMessage(rec)
		}

		if b.EmitEOF && !b.eofSent[key] {
			b.eofSent[key] = true
			return kafka.NewEOFMessage(kafka.TopicPartition{
				Topic:     tp.Topic,
				Partition: tp.Partition,
				Offset:    kafka.Offset(position),
			})
		}
	}

	return nil
}

// startOffset resolves logical offsets the way librdkafka does with auto.offset.reset=earliest.
func (b *MockBroker) startOffset(tp kafka.TopicPartition) int64 {
	pt, err := b.topics.Partition(tp.Topic, tp.Partition)
	if err != nil {
		return 0
	}

	switch tp.Offset {
	case kafka.OffsetLatest:
		return pt.High()
	case kafka.OffsetEarliest:
		return pt.Low()
	case kafka.OffsetStored, kafka.OffsetInvalid:
		if committed, ok := b.committed[tp.String()]; ok {
			return int64(committed)
		}
		return pt.Low()
	default:
		return int64(tp.Offset)
	}
}

// failure returns and clears the injected failure of op. Callers hold the lock.
func (b *MockBroker) failure(op string) error {
	err, ok := b.failures[op]
	if !ok {
		return nil
	}
	delete(b.failures, op)

	return err
}
