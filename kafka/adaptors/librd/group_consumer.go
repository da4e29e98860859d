package librd

import (
	"fmt"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/kgroup/kafka"
	"github.com/gmbyapa/kgroup/pkg/errors"
)

type groupConsumerProvider struct {
	config *GroupConsumerConfig
}

// NewGroupConsumerProvider returns a provider building librdkafka backed group consumers. config
// carries the librdkafka defaults shared by every consumer the provider builds.
func NewGroupConsumerProvider(config *GroupConsumerConfig) kafka.GroupConsumerProvider {
	return &groupConsumerProvider{config: config}
}

func (p *groupConsumerProvider) NewBuilder(conf *kafka.GroupConsumerConfig) kafka.GroupConsumerBuilder {
	defaults := p.config.copy()
	defaults.GroupConsumerConfig = conf

	return func(configure func(*kafka.GroupConsumerConfig)) (*kafka.GroupConsumer, error) {
		config := defaults.copy()
		if configure != nil {
			configure(config.GroupConsumerConfig)
		}

		return NewGroupConsumer(config)
	}
}

// NewGroupConsumer creates a librdkafka consumer and the kafka.GroupConsumer driving it.
func NewGroupConsumer(config *GroupConsumerConfig) (*kafka.GroupConsumer, error) {
	config = config.copy()
	if config.Id == `` {
		config.Id = newClientId()
	}

	cm, err := config.configMap()
	if err != nil {
		return nil, err
	}

	con, err := librdKafka.NewConsumer(cm)
	if err != nil {
		return nil, errors.Wrap(err, `new consumer failed`)
	}

	consumer, err := kafka.NewGroupConsumer(newBrokerClient(con, config), config.GroupConsumerConfig)
	if err != nil {
		if closeErr := con.Close(); closeErr != nil {
			config.Logger.Warn(fmt.Sprintf(`Consumer close failed due to %s`, closeErr))
		}
		return nil, err
	}

	config.Logger.Info(fmt.Sprintf(`Consumer %s created for group %s`, config.Id, config.GroupId))

	return consumer, nil
}
