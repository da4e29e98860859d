package kafka

import (
	"context"
	"fmt"
	"time"
)

// Poll waits for the next message using the configured default poll timeout.
func (g *GroupConsumer) Poll() *Message {
	return g.PollTimeout(g.config.PollTimeout)
}

// PollTimeout waits up to timeout for a record, a partition error or an EOF marker and returns nil
// when none arrived in time. Rebalance events are served inline and use up part of the timeout,
// polling continues with whatever is left.
//
// Poll also acts as the heartbeat of the consumer, the coordinator evicts consumers that stop polling.
func (g *GroupConsumer) PollTimeout(timeout time.Duration) *Message {
	if timeout < 0 {
		timeout = 0
	}

	deadline := time.Now().Add(timeout)
	remaining := timeout

	for {
		if g.isClosing() {
			return nil
		}

		if msg := g.client.Poll(remaining); msg != nil {
			g.observe(msg)
			return msg
		}

		remaining = time.Until(deadline)
		if remaining <= 0 {
			g.metrics.pollTimeouts.Count(1, nil)
			return nil
		}
	}
}

func (g *GroupConsumer) observe(msg *Message) {
	switch {
	case msg.IsEOF():
		g.logger.Debug(fmt.Sprintf(`Partition end %s`, msg.TopicPartition()))

	case msg.Err() != nil:
		// client level errors are not bound to a partition
		if msg.TopicPartition().Topic == `` {
			g.logger.Warn(fmt.Sprintf(`Consume error due to %s`, msg.Err()))
			g.notifyErr(brokerErr(`poll`, msg.Err()))
			return
		}

		g.logger.Warn(fmt.Sprintf(`Consume error on %s due to %s`, msg.TopicPartition(), msg.Err()))

	default:
		record := msg.Record()
		t := time.Since(record.Timestamp())
		ctx := record.Ctx()
		if ctx == nil {
			ctx = context.Background()
		}
		g.logger.TraceContext(ctx, fmt.Sprintf(`Message %s with key (%s) received in %s`,
			record, record.Key(), t))

		g.metrics.endToEndLatency.Observe(float64(t.Microseconds()), map[string]string{
			`topic_partition`: fmt.Sprintf(`%s_%d`, record.Topic(), record.Partition()),
		})
	}
}
