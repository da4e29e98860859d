package librd

import (
	"errors"
	"strings"
	"testing"

	"github.com/gmbyapa/kgroup/kafka"
)

func testConfig() *GroupConsumerConfig {
	conf := NewGroupConsumerConfig()
	conf.GroupId = `test-group`
	conf.BootstrapServers = []string{`localhost:9092`, `localhost:9093`}

	return conf
}

func TestGroupConsumerConfig_configMap(t *testing.T) {
	conf := testConfig()
	conf.Offsets.Initial = kafka.OffsetLatest
	conf.IsolationLevel = kafka.ReadUncommitted

	cm, err := conf.configMap()
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]interface{}{
		`group.id`:                        `test-group`,
		`bootstrap.servers`:               `localhost:9092,localhost:9093`,
		`auto.offset.reset`:               `latest`,
		`isolation.level`:                 `read_uncommitted`,
		`go.application.rebalance.enable`: false,
		`enable.auto.commit`:              false,
		`log_level`:                       6,
	}

	for key, val := range want {
		got, err := cm.Get(key, nil)
		if err != nil {
			t.Fatal(err)
		}

		if got != val {
			t.Errorf(`%s: expected %v, got %v`, key, val, got)
		}
	}
}

func TestGroupConsumerConfig_configMap_Client_Id(t *testing.T) {
	conf := testConfig()

	cm, err := conf.configMap()
	if err != nil {
		t.Fatal(err)
	}

	id, _ := cm.Get(`client.id`, nil)
	if !strings.HasPrefix(id.(string), `kgroup-`) {
		t.Errorf(`unexpected generated client id %v`, id)
	}

	if conf.Id != `` {
		t.Errorf(`generated client id written to the config %s`, conf.Id)
	}

	conf.Id = `my-consumer`
	cm, _ = conf.configMap()
	if id, _ := cm.Get(`client.id`, nil); id != `my-consumer` {
		t.Errorf(`configured client id not used, got %v`, id)
	}
}

func TestGroupConsumerConfig_configMap_Does_Not_Modify_Defaults(t *testing.T) {
	conf := testConfig()

	if _, err := conf.configMap(); err != nil {
		t.Fatal(err)
	}

	if _, ok := (*conf.Librd)[`group.id`]; ok {
		t.Error(`defaults modified`)
	}
}

func TestGroupConsumerConfig_configMap_Validation(t *testing.T) {
	conf := testConfig()
	conf.GroupId = ``

	var confErr *kafka.ConfigurationError
	if _, err := conf.configMap(); !errors.As(err, &confErr) || !errors.Is(err, kafka.ErrNoGroupId) {
		t.Errorf(`expected ErrNoGroupId, got %v`, err)
	}

	conf = testConfig()
	conf.BootstrapServers = nil
	if _, err := conf.configMap(); !errors.As(err, &confErr) || confErr.Key != `bootstrap.servers` {
		t.Errorf(`expected bootstrap.servers configuration error, got %v`, err)
	}
}

func TestNewGroupConsumer_Without_GroupId(t *testing.T) {
	conf := NewGroupConsumerConfig()
	conf.BootstrapServers = []string{`localhost:9092`}

	if _, err := NewGroupConsumer(conf); !errors.Is(err, kafka.ErrNoGroupId) {
		t.Errorf(`expected ErrNoGroupId, got %v`, err)
	}
}

func TestGroupConsumerConfig_copy(t *testing.T) {
	conf := testConfig()
	cp := conf.copy()

	if err := cp.Librd.SetKey(`session.timeout.ms`, 10000); err != nil {
		t.Fatal(err)
	}
	cp.GroupId = `other`

	if v, _ := conf.Librd.Get(`session.timeout.ms`, nil); v != 6000 {
		t.Errorf(`librd config shared with copy %v`, v)
	}

	if conf.GroupId != `test-group` {
		t.Error(`group config shared with copy`)
	}
}
