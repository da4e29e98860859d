package kafka

import (
	"fmt"
)

// Subscribe replaces the topic subscription of the consumer. Partitions are assigned by the group
// coordinator and delivered through Poll.
func (g *GroupConsumer) Subscribe(topics []string) error {
	if g.isClosing() {
		return ErrConsumerClosed
	}

	if g.config.GroupId == `` {
		return &ConfigurationError{Key: `group.id`, Err: ErrNoGroupId}
	}

	if len(topics) < 1 {
		return ErrEmptyTopicList
	}

	g.logger.Info(fmt.Sprintf(`Subscribing to topics %v`, topics))

	// The closure is the only way rebalance events reach the consumer.
	if err := g.client.Subscribe(topics, func(event RebalanceEvent) {
		g.handleRebalance(event)
	}); err != nil {
		g.logger.Error(fmt.Sprintf(`Subscribe to %v failed due to %s`, topics, err))
		return brokerErr(`subscribe`, err)
	}

	subscription := make([]string, len(topics))
	copy(subscription, topics)

	g.mu.Lock()
	g.subscription = subscription
	g.mu.Unlock()

	return nil
}

func (g *GroupConsumer) Unsubscribe() error {
	if g.isClosing() {
		return ErrConsumerClosed
	}

	if err := g.client.Unsubscribe(); err != nil {
		return brokerErr(`unsubscribe`, err)
	}

	g.mu.Lock()
	g.subscription = nil
	g.mu.Unlock()

	g.logger.Info(`Unsubscribed`)

	return nil
}

// Assign sets the partitions owned by this consumer, bypassing the coordinator. Offsets carried by
// the partitions are used as start offsets.
func (g *GroupConsumer) Assign(partitions TopicPartitionList) error {
	if g.isClosing() {
		return ErrConsumerClosed
	}

	return g.assign(partitions)
}

// Unassign clears the assignment, it is the same as assigning an empty list.
func (g *GroupConsumer) Unassign() error {
	if g.isClosing() {
		return ErrConsumerClosed
	}

	return g.unassign()
}

func (g *GroupConsumer) assign(partitions TopicPartitionList) error {
	if err := g.client.Assign(partitions); err != nil {
		return brokerErr(`assign`, err)
	}

	g.setAssignment(partitions.Copy())

	return nil
}

func (g *GroupConsumer) unassign() error {
	if err := g.client.Unassign(); err != nil {
		return brokerErr(`unassign`, err)
	}

	g.setAssignment(nil)

	return nil
}

func (g *GroupConsumer) setAssignment(partitions TopicPartitionList) {
	g.mu.Lock()
	g.assignment = partitions
	g.mu.Unlock()

	g.metrics.assignedPartitions.Count(float64(len(partitions)), nil)
}

// Subscription returns a copy of the current topic subscription.
func (g *GroupConsumer) Subscription() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.subscription == nil {
		return nil
	}

	topics := make([]string, len(g.subscription))
	copy(topics, g.subscription)

	return topics
}

// Assignment returns a copy of the partitions currently owned by this consumer.
func (g *GroupConsumer) Assignment() TopicPartitionList {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.assignment.Copy()
}

// Pause suspends fetching from the given partitions. All of them must be assigned.
func (g *GroupConsumer) Pause(partitions TopicPartitionList) error {
	if err := g.checkAssigned(`pause`, partitions); err != nil {
		return err
	}

	if err := g.client.Pause(partitions); err != nil {
		return brokerErr(`pause`, err)
	}

	g.logger.Info(fmt.Sprintf(`Partitions %s paused`, partitions))

	return nil
}

func (g *GroupConsumer) Resume(partitions TopicPartitionList) error {
	if err := g.checkAssigned(`resume`, partitions); err != nil {
		return err
	}

	if err := g.client.Resume(partitions); err != nil {
		return brokerErr(`resume`, err)
	}

	g.logger.Info(fmt.Sprintf(`Partitions %s resumed`, partitions))

	return nil
}

func (g *GroupConsumer) checkAssigned(op string, partitions TopicPartitionList) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closing {
		return ErrConsumerClosed
	}

	for _, tp := range partitions {
		if !g.assignment.Contains(tp) {
			return &BrokerError{Op: op, Err: fmt.Errorf(`%s: %w`, tp, ErrNotAssigned)}
		}
	}

	return nil
}
