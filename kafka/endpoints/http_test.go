package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/gmbyapa/kgroup/kafka"
	"github.com/gmbyapa/kgroup/kafka/mocks"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

func newConsumer(t *testing.T) (*kafka.GroupConsumer, *mocks.MockBroker) {
	t.Helper()

	topics := mocks.NewMockTopics()
	if _, err := topics.AddTopic(`orders`, 2); err != nil {
		t.Fatal(err)
	}
	broker := mocks.NewMockBroker(topics)

	conf := kafka.NewConfig()
	conf.GroupId = `orders-group`
	conf.Logger = log.NewNoopLogger()
	conf.MetricsReporter = metrics.NoopReporter()
	conf.PollTimeout = 10 * time.Millisecond

	consumer, err := kafka.NewGroupConsumer(broker, conf)
	if err != nil {
		t.Fatal(err)
	}

	return consumer, broker
}

func get(t *testing.T, h http.Handler, path string, v interface{}) int {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatal(err)
	}

	return rec.Code
}

func TestStatus(t *testing.T) {
	consumer, broker := newConsumer(t)
	h := NewHandler(consumer, log.NewNoopLogger())

	if err := consumer.Subscribe([]string{`orders`}); err != nil {
		t.Fatal(err)
	}

	broker.TriggerAssign(kafka.TopicPartitionList{{Topic: `orders`, Partition: 0, Offset: kafka.OffsetStored}})
	consumer.PollTimeout(0)

	status := consumerStatus{}
	if code := get(t, h, `/consumer`, &status); code != http.StatusOK {
		t.Fatalf(`unexpected status code %d`, code)
	}

	if status.GroupId != `orders-group` || status.State != `Assigned` || status.MemberId == `` {
		t.Errorf(`unexpected status %+v`, status)
	}

	if len(status.Subscription) != 1 || status.Subscription[0] != `orders` {
		t.Errorf(`unexpected subscription %v`, status.Subscription)
	}
}

func TestAssignment(t *testing.T) {
	consumer, broker := newConsumer(t)
	h := NewHandler(consumer, log.NewNoopLogger())

	var list []partition
	get(t, h, `/consumer/assignment`, &list)
	if list == nil || len(list) != 0 {
		t.Errorf(`expected an empty list, got %v`, list)
	}

	if err := consumer.Subscribe([]string{`orders`}); err != nil {
		t.Fatal(err)
	}

	broker.TriggerAssign(kafka.TopicPartitionList{
		{Topic: `orders`, Partition: 0, Offset: kafka.OffsetEarliest},
		{Topic: `orders`, Partition: 1, Offset: 5},
	})
	consumer.PollTimeout(0)

	get(t, h, `/consumer/assignment`, &list)
	if len(list) != 2 || list[0].Offset != `Earliest` || list[1].Partition != 1 || list[1].Offset != `5` {
		t.Errorf(`unexpected assignment %+v`, list)
	}
}

func TestLag(t *testing.T) {
	consumer, broker := newConsumer(t)
	h := NewHandler(consumer, log.NewNoopLogger())

	for i := 0; i < 6; i++ {
		if _, err := broker.Produce(`orders`, 0, []byte(faker.UUIDDigit()), []byte(faker.Sentence())); err != nil {
			t.Fatal(err)
		}
	}

	if err := consumer.Assign(kafka.TopicPartitionList{{Topic: `orders`, Partition: 0}}); err != nil {
		t.Fatal(err)
	}

	if err := consumer.CommitOffsets(kafka.TopicPartitionList{{Topic: `orders`, Partition: 0, Offset: 4}}); err != nil {
		t.Fatal(err)
	}

	var lags []partitionLag
	if code := get(t, h, `/consumer/lag`, &lags); code != http.StatusOK {
		t.Fatalf(`unexpected status code %d`, code)
	}

	if len(lags) != 1 || lags[0].Lag != 2 || lags[0].High != 6 || lags[0].Committed != `4` {
		t.Errorf(`unexpected lag %+v`, lags)
	}
}

func TestLag_Error(t *testing.T) {
	consumer, broker := newConsumer(t)
	h := NewHandler(consumer, log.NewNoopLogger())

	if err := consumer.Assign(kafka.TopicPartitionList{{Topic: `orders`, Partition: 0}}); err != nil {
		t.Fatal(err)
	}

	broker.FailNext(mocks.OpCommitted, errors.New(`coordinator not available`))

	res := Err{}
	if code := get(t, h, `/consumer/lag`, &res); code != http.StatusInternalServerError {
		t.Errorf(`unexpected status code %d`, code)
	}

	if res.Err == `` {
		t.Error(`error message missing`)
	}
}

func TestStatus_Closed_Consumer(t *testing.T) {
	consumer, _ := newConsumer(t)
	h := NewHandler(consumer, log.NewNoopLogger())

	if err := consumer.Close(); err != nil {
		t.Fatal(err)
	}

	res := Err{}
	if code := get(t, h, `/consumer`, &res); code != http.StatusInternalServerError {
		t.Errorf(`unexpected status code %d`, code)
	}
}

type panicSource struct {
	StatusSource
}

func (panicSource) Assignment() kafka.TopicPartitionList {
	panic(`assignment unavailable`)
}

func TestRecovery(t *testing.T) {
	h := NewHandler(panicSource{}, log.NewNoopLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, `/consumer/assignment`, nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf(`expected recovered panic to return 500, got %d`, rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	consumer, _ := newConsumer(t)
	h := NewHandler(consumer, log.NewNoopLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, `/consumer`, nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf(`unexpected status code %d`, rec.Code)
	}
}
