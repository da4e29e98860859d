package mocks

import (
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/bxcodec/faker/v3"
	"github.com/gmbyapa/kgroup/kafka"
)

func newBroker(t *testing.T, topic string, partitions int32) *MockBroker {
	t.Helper()

	topics := NewMockTopics()
	if _, err := topics.AddTopic(topic, partitions); err != nil {
		t.Fatal(err)
	}

	return NewMockBroker(topics)
}

func TestTopics_AddTopic(t *testing.T) {
	topics := NewMockTopics()

	if _, err := topics.AddTopic(`t`, 0); !errors.Is(err, sarama.ErrInvalidPartitions) {
		t.Errorf(`expected ErrInvalidPartitions, got %v`, err)
	}

	if _, err := topics.AddTopic(`t`, 2); err != nil {
		t.Fatal(err)
	}

	if _, err := topics.AddTopic(`t`, 2); err == nil {
		t.Error(`duplicate topic added`)
	}

	if _, err := topics.Partition(`t`, 2); !errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
		t.Errorf(`expected ErrUnknownTopicOrPartition, got %v`, err)
	}
}

func TestMockPartition_Append(t *testing.T) {
	broker := newBroker(t, `t`, 1)

	var values []string
	for i := 0; i < 5; i++ {
		value := faker.Sentence()
		values = append(values, value)
		rec, err := broker.Produce(`t`, 0, []byte(faker.Word()), []byte(value))
		if err != nil {
			t.Fatal(err)
		}

		if rec.Offset() != int64(i) {
			t.Errorf(`expected offset %d, got %d`, i, rec.Offset())
		}
	}

	pt, _ := broker.Topics().Partition(`t`, 0)
	if pt.High() != 5 {
		t.Errorf(`unexpected high watermark %d`, pt.High())
	}

	for i, rec := range pt.FetchAll() {
		if string(rec.Value()) != values[i] {
			t.Errorf(`unexpected value at %d`, i)
		}
	}

	if pt.Fetch(5) != nil {
		t.Error(`fetch beyond high watermark returned a record`)
	}
}

func TestMockPartition_Append_Owns_Bytes(t *testing.T) {
	broker := newBroker(t, `t`, 1)
	pt, _ := broker.Topics().Partition(`t`, 0)

	key := []byte(`key`)
	value := []byte(faker.Word())
	want := string(value)
	header := kafka.RecordHeader{Key: []byte(`h`), Value: []byte(`v1`)}

	rec := pt.Append(key, value, header)
	value[0] = '#'
	key[0] = '#'
	header.Value[1] = '2'

	stored := pt.Fetch(rec.Offset())
	if string(stored.Value()) != want || string(stored.Key()) != `key` {
		t.Errorf(`stored record changed through the produced buffers %s`, stored.Value())
	}

	if string(stored.Headers().Read([]byte(`h`))) != `v1` {
		t.Error(`stored header changed through the produced buffer`)
	}

	if stored.Ctx() == nil || stored.Topic() != `t` || stored.Partition() != 0 {
		t.Errorf(`unexpected record %s`, stored)
	}
}

func TestMockBroker_Events_Served_One_Per_Poll(t *testing.T) {
	broker := newBroker(t, `t`, 2)

	var events []kafka.RebalanceEvent
	err := broker.Subscribe([]string{`t`}, func(event kafka.RebalanceEvent) {
		events = append(events, event)
		if event.Type == kafka.PartitionsAssigned {
			if err := broker.Assign(event.Partitions); err != nil {
				t.Error(err)
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	broker.TriggerAssign(kafka.TopicPartitionList{{Topic: `t`, Partition: 0, Offset: kafka.OffsetEarliest}})
	broker.TriggerRebalanceError(errors.New(`illegal generation`))

	if broker.PendingEvents() != 2 {
		t.Fatalf(`expected 2 pending events, got %d`, broker.PendingEvents())
	}

	broker.Poll(0)
	if len(events) != 1 || broker.PendingEvents() != 1 {
		t.Fatal(`poll must serve exactly one event`)
	}

	broker.Poll(0)
	if len(events) != 2 || events[1].Type != kafka.RebalanceFailed {
		t.Errorf(`unexpected events %v`, events)
	}
}

func TestMockBroker_Subscribe_Unknown_Topic(t *testing.T) {
	broker := newBroker(t, `t`, 1)

	if err := broker.Subscribe([]string{`missing`}, func(kafka.RebalanceEvent) {}); !errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
		t.Errorf(`expected ErrUnknownTopicOrPartition, got %v`, err)
	}
}

func TestMockBroker_Assign_Start_Offsets(t *testing.T) {
	broker := newBroker(t, `t`, 4)
	for p := int32(0); p < 4; p++ {
		for i := 0; i < 3; i++ {
			if _, err := broker.Produce(`t`, p, nil, []byte(faker.Word())); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := broker.Commit(kafka.TopicPartitionList{{Topic: `t`, Partition: 3, Offset: 2}}); err != nil {
		t.Fatal(err)
	}

	err := broker.Assign(kafka.TopicPartitionList{
		{Topic: `t`, Partition: 0, Offset: kafka.OffsetEarliest},
		{Topic: `t`, Partition: 1, Offset: kafka.OffsetLatest},
		{Topic: `t`, Partition: 2, Offset: 1},
		{Topic: `t`, Partition: 3, Offset: kafka.OffsetStored},
	})
	if err != nil {
		t.Fatal(err)
	}

	positions, err := broker.Position(kafka.TopicPartitionList{
		{Topic: `t`, Partition: 0}, {Topic: `t`, Partition: 1}, {Topic: `t`, Partition: 2}, {Topic: `t`, Partition: 3},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []kafka.Offset{0, 3, 1, 2}
	for i, tp := range positions {
		if tp.Offset != want[i] {
			t.Errorf(`%s: expected position %s, got %s`, tp, want[i], tp.Offset)
		}
	}
}

func TestMockBroker_Commit_Validation(t *testing.T) {
	broker := newBroker(t, `t`, 1)

	if err := broker.Commit(kafka.TopicPartitionList{{Topic: `t`, Partition: 0, Offset: kafka.OffsetLatest}}); !errors.Is(err, sarama.ErrOffsetOutOfRange) {
		t.Errorf(`expected ErrOffsetOutOfRange, got %v`, err)
	}

	if err := broker.Commit(kafka.TopicPartitionList{{Topic: `t`, Partition: 1, Offset: 1}}); err == nil {
		t.Error(`commit to unknown partition succeeded`)
	}
}

func TestMockBroker_FailNext(t *testing.T) {
	broker := newBroker(t, `t`, 1)

	injected := errors.New(`injected`)
	broker.FailNext(OpWatermarks, injected)

	if _, _, err := broker.Watermarks(`t`, 0); err != injected {
		t.Errorf(`expected injected error, got %v`, err)
	}

	if _, _, err := broker.Watermarks(`t`, 0); err != nil {
		t.Errorf(`failure must only apply once, got %v`, err)
	}
}

func TestMockBroker_Poll_Wakes_Up_On_Produce(t *testing.T) {
	broker := newBroker(t, `t`, 1)
	if err := broker.Assign(kafka.TopicPartitionList{{Topic: `t`, Partition: 0, Offset: kafka.OffsetEarliest}}); err != nil {
		t.Fatal(err)
	}

	value := faker.Sentence()
	go func() {
		time.Sleep(10 * time.Millisecond)
		if _, err := broker.Produce(`t`, 0, nil, []byte(value)); err != nil {
			t.Error(err)
		}
	}()

	msg := broker.Poll(2 * time.Second)
	if msg == nil || string(msg.Value()) != value {
		t.Errorf(`unexpected message %v`, msg)
	}
}

func TestMockBroker_Close(t *testing.T) {
	broker := newBroker(t, `t`, 1)

	var revoked kafka.TopicPartitionList
	if err := broker.Subscribe([]string{`t`}, func(event kafka.RebalanceEvent) {
		if event.Type == kafka.PartitionsRevoked {
			revoked = event.Partitions
		}
	}); err != nil {
		t.Fatal(err)
	}

	if err := broker.Assign(kafka.TopicPartitionList{{Topic: `t`, Partition: 0}}); err != nil {
		t.Fatal(err)
	}

	if err := broker.Close(); err != nil {
		t.Fatal(err)
	}

	if len(revoked) != 1 {
		t.Errorf(`close must revoke the assignment, got %s`, revoked)
	}

	if err := broker.Close(); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf(`expected ErrBrokerClosed, got %v`, err)
	}

	if id, _ := broker.MemberID(); id != `` {
		t.Errorf(`member id kept after close %s`, id)
	}
}
