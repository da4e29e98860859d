package librd

import (
	"fmt"
	"strings"
	"time"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/kgroup/kafka"
	"github.com/google/uuid"
	"github.com/tryfix/log"
)

type GroupConsumerConfig struct {
	*kafka.GroupConsumerConfig
	// RequestTimeout bounds blocking broker lookups (watermarks, committed offsets).
	RequestTimeout time.Duration
	// LogLevel of the logs librdkafka forwards to the consumer logger.
	LogLevel log.Level
	Librd    *librdKafka.ConfigMap
}

func (conf *GroupConsumerConfig) copy() *GroupConsumerConfig {
	librdCopy := librdKafka.ConfigMap{}
	for key, val := range *conf.Librd {
		librdCopy[key] = val
	}

	return &GroupConsumerConfig{
		GroupConsumerConfig: conf.GroupConsumerConfig.Copy(),
		RequestTimeout:      conf.RequestTimeout,
		LogLevel:            conf.LogLevel,
		Librd:               &librdCopy,
	}
}

func NewGroupConsumerConfig() *GroupConsumerConfig {
	return &GroupConsumerConfig{
		GroupConsumerConfig: kafka.NewConfig(),
		RequestTimeout:      5 * time.Second,
		LogLevel:            log.INFO,
		Librd:               defaultLibrdGroupConfig(),
	}
}

func defaultLibrdGroupConfig() *librdKafka.ConfigMap {
	return &librdKafka.ConfigMap{
		"session.timeout.ms":   6000,
		"enable.auto.commit":   false,
		"enable.partition.eof": true,
	}
}

// configMap resolves the librdkafka configuration of a consumer. Keys owned by the adaptor always
// override user supplied values.
func (conf *GroupConsumerConfig) configMap() (*librdKafka.ConfigMap, error) {
	if conf.GroupId == `` {
		return nil, &kafka.ConfigurationError{Key: `group.id`, Err: kafka.ErrNoGroupId}
	}

	if len(conf.BootstrapServers) < 1 {
		return nil, &kafka.ConfigurationError{Key: `bootstrap.servers`, Err: fmt.Errorf(`no bootstrap servers`)}
	}

	resolved := conf.copy()
	if resolved.Id == `` {
		resolved.Id = newClientId()
	}

	cm := resolved.Librd

	var offsetReset string
	switch conf.Offsets.Initial {
	case kafka.OffsetLatest:
		offsetReset = `latest`
	default:
		offsetReset = `earliest`
	}

	isolation := `read_committed`
	if conf.IsolationLevel == kafka.ReadUncommitted {
		isolation = `read_uncommitted`
	}

	keys := []struct {
		key string
		val librdKafka.ConfigValue
	}{
		{`client.id`, resolved.Id},
		{`group.id`, conf.GroupId},
		{`bootstrap.servers`, strings.Join(conf.BootstrapServers, `,`)},
		{`auto.offset.reset`, offsetReset},
		{`isolation.level`, isolation},
		// rebalances are served through the rebalance callback from within Poll
		{`go.application.rebalance.enable`, false},
		{`go.events.channel.enable`, false},
		{`go.logs.channel.enable`, true},
		{`log_level`, toLibrdLogLevel(conf.LogLevel)},
		// eager protocol only, assignments are applied with Assign/Unassign
		{`partition.assignment.strategy`, `range,roundrobin`},
	}

	for _, kv := range keys {
		if err := cm.SetKey(kv.key, kv.val); err != nil {
			return nil, &kafka.ConfigurationError{Key: kv.key, Err: err}
		}
	}

	return cm, nil
}

func newClientId() string {
	return fmt.Sprintf(`kgroup-%s`, uuid.New())
}

func toLibrdLogLevel(level log.Level) int {
	switch level {
	case log.ERROR:
		return 2
	case log.WARN:
		return 5
	case log.INFO:
		return 6
	case log.DEBUG, log.TRACE:
		return 7
	}

	return 0
}
