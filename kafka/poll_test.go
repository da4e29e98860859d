package kafka_test

import (
	"errors"
	"testing"
	"time"

	"github.com/gmbyapa/kgroup/kafka"
)

func TestGroupConsumer_PollTimeout_Nothing_Available(t *testing.T) {
	consumer, _ := assignedConsumer(t, 0)

	start := time.Now()
	if msg := consumer.PollTimeout(0); msg != nil {
		t.Errorf(`unexpected message %s`, msg)
	}

	if time.Since(start) > 500*time.Millisecond {
		t.Error(`zero timeout poll blocked`)
	}
}

func TestGroupConsumer_PollTimeout_Waits_For_Record(t *testing.T) {
	consumer, broker := assignedConsumer(t, 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		if _, err := broker.Produce(`t`, 1, []byte(`k`), []byte(`v`)); err != nil {
			t.Error(err)
		}
	}()

	msg := consumer.PollTimeout(2 * time.Second)
	if msg == nil || msg.Record() == nil {
		t.Fatal(`expected a record`)
	}

	if msg.TopicPartition().Partition != 1 || string(msg.Key()) != `k` || string(msg.Value()) != `v` {
		t.Errorf(`unexpected message %s`, msg)
	}
}

func TestGroupConsumer_Poll_EOF(t *testing.T) {
	consumer, broker := newTestConsumer(t, 1, `t`)
	broker.EmitEOF = true

	if _, err := broker.Produce(`t`, 0, nil, []byte(`v`)); err != nil {
		t.Fatal(err)
	}

	if err := consumer.Assign(tpl(`t`, 0)); err != nil {
		t.Fatal(err)
	}

	if msg := consumer.PollTimeout(0); msg == nil || msg.Record() == nil {
		t.Fatal(`expected a record`)
	}

	msg := consumer.PollTimeout(0)
	if msg == nil || !msg.IsEOF() {
		t.Fatalf(`expected partition EOF, got %v`, msg)
	}

	if msg.Err() != nil {
		t.Errorf(`EOF must not carry an error, got %s`, msg.Err())
	}

	if msg.TopicPartition().Offset != 1 {
		t.Errorf(`unexpected EOF offset %s`, msg.TopicPartition().Offset)
	}

	// EOF is reported once per drained partition
	if msg := consumer.PollTimeout(0); msg != nil {
		t.Errorf(`unexpected message %s`, msg)
	}
}

func TestGroupConsumer_Poll_Default_Timeout(t *testing.T) {
	consumer, _ := assignedConsumer(t, 0)

	start := time.Now()
	if msg := consumer.Poll(); msg != nil {
		t.Errorf(`unexpected message %s`, msg)
	}

	// configured timeout is 10ms
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf(`poll returned before the default timeout %s`, elapsed)
	}
}

func TestGroupConsumer_Poll_Rebalance_Then_Record(t *testing.T) {
	consumer, broker := newTestConsumer(t, 1, `t`)

	var assigned kafka.TopicPartitionList
	consumer.SetAssignmentCallback(func(partitions *kafka.TopicPartitionList) {
		assigned = partitions.Copy()
	})

	if _, err := broker.Produce(`t`, 0, nil, []byte(`v`)); err != nil {
		t.Fatal(err)
	}

	if err := consumer.Subscribe([]string{`t`}); err != nil {
		t.Fatal(err)
	}

	broker.TriggerAssign(tpl(`t`, 0))

	msg := consumer.PollTimeout(time.Second)
	if len(assigned) != 1 {
		t.Fatal(`assignment callback not invoked during poll`)
	}

	if msg == nil || msg.Record() == nil {
		t.Fatal(`expected a record in the same poll call`)
	}

	if msg.TopicPartition().Offset != 0 {
		t.Errorf(`unexpected offset %s`, msg.TopicPartition().Offset)
	}
}

func TestGroupConsumer_Poll_After_Close(t *testing.T) {
	consumer, _ := assignedConsumer(t, 3)

	if err := consumer.Close(); err != nil {
		t.Fatal(err)
	}

	if msg := consumer.PollTimeout(0); msg != nil {
		t.Errorf(`closed consumer returned %s`, msg)
	}
}

func TestGroupConsumer_Poll_Errors(t *testing.T) {
	consumer, broker := assignedConsumer(t, 0)

	partitionErr := errors.New(`message corrupt`)
	broker.InjectPollError(kafka.TopicPartition{Topic: `t`, Partition: 0, Offset: 3}, partitionErr)

	msg := consumer.PollTimeout(0)
	if msg == nil || msg.Err() != partitionErr || msg.Record() != nil {
		t.Fatalf(`expected partition error, got %v`, msg)
	}

	select {
	case err := <-consumer.Errors():
		t.Errorf(`partition error forwarded to Errors() %v`, err)
	default:
	}

	clientErr := errors.New(`all brokers down`)
	broker.InjectPollError(kafka.TopicPartition{}, clientErr)

	if msg := consumer.PollTimeout(0); msg == nil || msg.Err() != clientErr {
		t.Fatalf(`expected client error, got %v`, msg)
	}

	select {
	case err := <-consumer.Errors():
		var brokerErr *kafka.BrokerError
		if !errors.As(err, &brokerErr) || !errors.Is(err, clientErr) {
			t.Errorf(`unexpected error %v`, err)
		}
	default:
		t.Error(`client error not forwarded to Errors()`)
	}
}
