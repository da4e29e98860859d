package kafka

import (
	"context"
	"sync"
	"time"
)

type RebalanceEventType int8

const (
	PartitionsAssigned RebalanceEventType = iota
	PartitionsRevoked
	RebalanceFailed
)

func (t RebalanceEventType) String() string {
	switch t {
	case PartitionsAssigned:
		return `PartitionsAssigned`
	case PartitionsRevoked:
		return `PartitionsRevoked`
	default:
		return `RebalanceFailed`
	}
}

// RebalanceEvent is issued by the group coordinator and handed over by the BrokerClient during Poll.
type RebalanceEvent struct {
	Type       RebalanceEventType
	Partitions TopicPartitionList
	Err        error
	// Lost is set on revocations when the partitions were lost (eg: session timed out) rather than
	// revoked in an orderly rebalance.
	Lost bool
}

// RebalanceFunc receives rebalance events. BrokerClient implementations must only invoke it from
// within Poll, on the polling goroutine, one event at a time.
type RebalanceFunc func(event RebalanceEvent)

// BrokerClient is the transport level consumer the GroupConsumer is built on. Implementations own
// the network, the wire protocol and the group membership.
type BrokerClient interface {
	Subscribe(topics []string, rebalance RebalanceFunc) error
	Unsubscribe() error
	Assign(partitions TopicPartitionList) error
	Unassign() error
	Pause(partitions TopicPartitionList) error
	Resume(partitions TopicPartitionList) error
	// Poll returns the next message, nil on timeout or when the call only served a rebalance event.
	Poll(timeout time.Duration) *Message
	Commit(offsets TopicPartitionList) error
	CommitAsync(offsets TopicPartitionList) *CommitResult
	Watermarks(topic string, partition int32) (low, high int64, err error)
	Committed(partitions TopicPartitionList) (TopicPartitionList, error)
	Position(partitions TopicPartitionList) (TopicPartitionList, error)
	Assignment() (TopicPartitionList, error)
	Subscription() ([]string, error)
	MemberID() (string, error)
	// Close leaves the group and blocks until the coordinator acknowledged the leave.
	Close() error
}

// CommitResult is the pending result of an asynchronous commit.
type CommitResult struct {
	offsets TopicPartitionList
	done    chan struct{}
	err     error

	mu        sync.Mutex
	resolved  bool
	listeners []func(err error)
}

func NewCommitResult(offsets TopicPartitionList) *CommitResult {
	return &CommitResult{
		offsets: offsets.Copy(),
		done:    make(chan struct{}),
	}
}

// Resolve completes the commit. Only the first call has an effect.
func (r *CommitResult) Resolve(err error) {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return
	}
	r.resolved = true
	r.err = err
	listeners := r.listeners
	r.listeners = nil
	close(r.done)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}

// Done is closed once the commit completes.
func (r *CommitResult) Done() <-chan struct{} {
	return r.done
}

// Err returns the commit error once Done is closed, nil before that.
func (r *CommitResult) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Wait blocks until the commit completes or the context is done.
func (r *CommitResult) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *CommitResult) Offsets() TopicPartitionList {
	return r.offsets
}

// onComplete registers fn to be called with the result. fn runs immediately when already resolved.
func (r *CommitResult) onComplete(fn func(err error)) {
	r.mu.Lock()
	if !r.resolved {
		r.listeners = append(r.listeners, fn)
		r.mu.Unlock()
		return
	}
	err := r.err
	r.mu.Unlock()

	fn(err)
}
