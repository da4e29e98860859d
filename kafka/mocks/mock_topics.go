package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gmbyapa/kgroup/kafka"
)

// logRecord is a record stored in a mock partition. It owns copies of the produced bytes, so a
// producer reusing its buffers cannot rewrite the partition log.
type logRecord struct {
	tp        kafka.TopicPartition
	key       []byte
	value     []byte
	timestamp time.Time
	headers   kafka.RecordHeaders
}

func (r *logRecord) Key() []byte { return r.key }
func (r *logRecord) Value() []byte { return r.value }
func (r *logRecord) Topic() string { return r.tp.Topic }
func (r *logRecord) Partition() int32 { return r.tp.Partition }
func (r *logRecord) Offset() int64 { return int64(r.tp.Offset) }
func (r *logRecord) Timestamp() time.Time { return r.timestamp }
func (r *logRecord) Headers() kafka.RecordHeaders { return r.headers }
func (r *logRecord) Ctx() context.Context { return context.Background() }

func (r *logRecord) String() string {
	return fmt.Sprintf(`%s[%d]@%d`, r.Topic(), r.Partition(), r.Offset())
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}

type MockPartition struct {
	topic     string
	partition int32
	records   []kafka.Record
	*sync.Mutex
}

// Append adds a record at the end of the partition and returns it with its offset set.
func (p *MockPartition) Append(key, value []byte, headers ...kafka.RecordHeader) kafka.Record {
	p.Lock()
	defer p.Unlock()

	hs := make(kafka.RecordHeaders, len(headers))
	for i, h := range headers {
		hs[i] = kafka.RecordHeader{Key: cloneBytes(h.Key), Value: cloneBytes(h.Value)}
	}

	rec := &logRecord{
		tp: kafka.TopicPartition{
			Topic:     p.topic,
			Partition: p.partition,
			Offset:    kafka.Offset(len(p.records)),
		},
		key:       cloneBytes(key),
		value:     cloneBytes(value),
		timestamp: time.Now(),
		headers:   hs,
	}
	p.records = append(p.records, rec)

	return rec
}

// Low is always zero since mock partitions never truncate.
func (p *MockPartition) Low() int64 {
	return 0
}

// High returns the offset the next appended record will get.
func (p *MockPartition) High() int64 {
	p.Lock()
	defer p.Unlock()

	return int64(len(p.records))
}

// Fetch returns the record at the given offset or nil if the partition has no such offset.
func (p *MockPartition) Fetch(offset int64) kafka.Record {
	p.Lock()
	defer p.Unlock()

	if offset < 0 || offset >= int64(len(p.records)) {
		return nil
	}

	return p.records[offset]
}

func (p *MockPartition) FetchAll() []kafka.Record {
	p.Lock()
	defer p.Unlock()

	records := make([]kafka.Record, len(p.records))
	copy(records, p.records)

	return records
}

type MockTopic struct {
	Name       string
	partitions []*MockPartition
}

func (tp *MockTopic) Partition(id int32) (*MockPartition, error) {
	if id < 0 || int(id) >= len(tp.partitions) {
		return nil, sarama.ErrUnknownTopicOrPartition
	}

	return tp.partitions[id], nil
}

func (tp *MockTopic) NumPartitions() int32 {
	return int32(len(tp.partitions))
}

type Topics struct {
	*sync.Mutex
	topics map[string]*MockTopic
}

func NewMockTopics() *Topics {
	return &Topics{
		topics: make(map[string]*MockTopic),
		Mutex:  new(sync.Mutex),
	}
}

func (td *Topics) AddTopic(name string, numPartitions int32) (*MockTopic, error) {
	td.Lock()
	defer td.Unlock()

	if _, ok := td.topics[name]; ok {
		return nil, errors.New(`topic already exists`)
	}

	if numPartitions < 1 {
		return nil, sarama.ErrInvalidPartitions
	}

	topic := &MockTopic{
		Name:       name,
		partitions: make([]*MockPartition, numPartitions),
	}
	for i := int32(0); i < numPartitions; i++ {
		topic.partitions[i] = &MockPartition{
			topic:     name,
			partition: i,
			records:   make([]kafka.Record, 0),
			Mutex:     new(sync.Mutex),
		}
	}
	td.topics[name] = topic

	return topic, nil
}

func (td *Topics) Topic(name string) (*MockTopic, error) {
	td.Lock()
	defer td.Unlock()

	t, ok := td.topics[name]
	if !ok {
		return nil, sarama.ErrUnknownTopicOrPartition
	}

	return t, nil
}

// Partition looks up a partition of a topic, sarama.ErrUnknownTopicOrPartition when there is none.
func (td *Topics) Partition(topic string, partition int32) (*MockPartition, error) {
	t, err := td.Topic(topic)
	if err != nil {
		return nil, err
	}

	return t.Partition(partition)
}
