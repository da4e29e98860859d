package kafka

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type RebalanceState int8

const (
	Unassigned RebalanceState = iota
	Assigned
)

func (s RebalanceState) String() string {
	if s == Assigned {
		return `Assigned`
	}

	return `Unassigned`
}

// AssignmentCallback observes a new assignment. It may change partition offsets in place (eg: to seek)
// and the changed list is what gets assigned.
type AssignmentCallback func(partitions *TopicPartitionList)

// RevocationCallback observes the partitions being revoked. The list is a copy.
type RevocationCallback func(partitions TopicPartitionList)

type RebalanceErrorCallback func(err error)

// GroupConsumer joins a consumer group through a BrokerClient, reacts to rebalances and tracks offsets.
//
// A GroupConsumer must be polled from a single goroutine. Rebalance callbacks run inline on that
// goroutine while Poll is in progress. Read only accessors (Assignment, Subscription, State) are safe
// to call from other goroutines.
type GroupConsumer struct {
	client BrokerClient
	config *GroupConsumerConfig
	logger log.Logger

	mu           sync.RWMutex
	subscription []string
	assignment   TopicPartitionList
	state        RebalanceState
	closing      bool

	callbacks struct {
		assignment     AssignmentCallback
		revocation     RevocationCallback
		rebalanceError RebalanceErrorCallback
	}

	errors    chan error
	closeOnce sync.Once

	metrics struct {
		rebalanceLatency   metrics.Observer
		status             metrics.Gauge
		assignedPartitions metrics.Gauge
		commitLatency      metrics.Observer
		commitErrors       metrics.Counter
		endToEndLatency    metrics.Observer
		pollTimeouts       metrics.Counter
	}
}

// NewGroupConsumer creates a consumer over the given BrokerClient. The configuration must carry a group id.
func NewGroupConsumer(client BrokerClient, config *GroupConsumerConfig) (*GroupConsumer, error) {
	if client == nil {
		return nil, &ConfigurationError{Key: `broker.client`, Err: errors.New(`broker client cannot be nil`)}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	g := &GroupConsumer{
		client: client,
		config: config,
		logger: config.Logger.NewLog(log.Prefixed(`GroupConsumer`)),
		errors: make(chan error, config.ErrorsChanSize),
		state:  Unassigned,
	}
	g.initMetrics()

	return g, nil
}

func (g *GroupConsumer) initMetrics() {
	reporter := g.config.MetricsReporter.Reporter(metrics.ReporterConf{
		Subsystem:   `kgroup_group_consumer`,
		ConstLabels: map[string]string{`group_id`: g.config.GroupId},
	})

	g.metrics.rebalanceLatency = reporter.Observer(metrics.MetricConf{
		Path: `rebalance_latency_microseconds`,
	})

	g.metrics.status = reporter.Gauge(metrics.MetricConf{
		Path: `rebalance_status`,
	})

	g.metrics.assignedPartitions = reporter.Gauge(metrics.MetricConf{
		Path: `assigned_partitions`,
	})

	g.metrics.commitLatency = reporter.Observer(metrics.MetricConf{
		Path:   `commit_latency_microseconds`,
		Labels: []string{`mode`},
	})

	g.metrics.commitErrors = reporter.Counter(metrics.MetricConf{
		Path:   `commit_errors`,
		Labels: []string{`mode`},
	})

	g.metrics.endToEndLatency = reporter.Observer(metrics.MetricConf{
		Path:   `end_to_end_latency_microseconds`,
		Labels: []string{`topic_partition`},
	})

	g.metrics.pollTimeouts = reporter.Counter(metrics.MetricConf{
		Path: `poll_timeouts`,
	})
}

func (g *GroupConsumer) unregisterMetrics() {
	g.metrics.rebalanceLatency.UnRegister()
	g.metrics.status.UnRegister()
	g.metrics.assignedPartitions.UnRegister()
	g.metrics.commitLatency.UnRegister()
	g.metrics.commitErrors.UnRegister()
	g.metrics.endToEndLatency.UnRegister()
	g.metrics.pollTimeouts.UnRegister()
}

func (g *GroupConsumer) SetAssignmentCallback(callback AssignmentCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks.assignment = callback
}

func (g *GroupConsumer) SetRevocationCallback(callback RevocationCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks.revocation = callback
}

func (g *GroupConsumer) SetRebalanceErrorCallback(callback RebalanceErrorCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks.rebalanceError = callback
}

func (g *GroupConsumer) AssignmentCallback() AssignmentCallback {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.callbacks.assignment
}

func (g *GroupConsumer) RevocationCallback() RevocationCallback {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.callbacks.revocation
}

func (g *GroupConsumer) RebalanceErrorCallback() RebalanceErrorCallback {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.callbacks.rebalanceError
}

// MemberID returns the member id the group coordinator assigned to this consumer.
func (g *GroupConsumer) MemberID() (string, error) {
	if g.isClosing() {
		return ``, ErrConsumerClosed
	}

	id, err := g.client.MemberID()
	if err != nil {
		return ``, brokerErr(`member-id`, err)
	}

	return id, nil
}

func (g *GroupConsumer) GroupId() string {
	return g.config.GroupId
}

// State returns the current rebalance state.
func (g *GroupConsumer) State() RebalanceState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Errors returns consumer level errors that have no call site to be returned to, such as failed
// async commits. The channel is closed by Close.
func (g *GroupConsumer) Errors() <-chan error {
	return g.errors
}

// Close leaves the group and blocks until the broker acknowledged it. No rebalance callback fires
// once Close has started.
func (g *GroupConsumer) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closing = true
		g.mu.Unlock()

		g.logger.Info(`Consumer closing...`)

		if closeErr := g.client.Close(); closeErr != nil {
			err = brokerErr(`close`, closeErr)
			g.logger.Error(fmt.Sprintf(`Consumer close failed due to %s`, closeErr))
		}

		g.mu.Lock()
		g.subscription = nil
		g.assignment = nil
		g.state = Unassigned
		close(g.errors)
		g.mu.Unlock()

		g.unregisterMetrics()
		g.logger.Info(`Consumer closed`)
	})

	return err
}

func (g *GroupConsumer) isClosing() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closing
}

// notifyErr never blocks, errors are dropped (and logged) when nobody drains Errors().
func (g *GroupConsumer) notifyErr(err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closing {
		g.logger.Warn(fmt.Sprintf(`Error after close dropped: %s`, err))
		return
	}

	select {
	case g.errors <- err:
	default:
		g.logger.Error(fmt.Sprintf(`Errors channel full, dropped: %s`, err))
	}
}
