package kafka

import (
	"errors"
	"fmt"
	"time"
)

var errUnknownRebalance = errors.New(`rebalance event without error code`)

type rebalanceCallbacks struct {
	assignment     AssignmentCallback
	revocation     RevocationCallback
	rebalanceError RebalanceErrorCallback
}

// handleRebalance is invoked by the broker client from within Poll. Events never overlap.
func (g *GroupConsumer) handleRebalance(event RebalanceEvent) {
	defer func(since time.Time) {
		g.metrics.rebalanceLatency.Observe(float64(time.Since(since).Microseconds()), nil)
		g.metrics.status.Count(0, nil)
	}(time.Now())

	g.metrics.status.Count(1, nil)

	switch {
	case event.Type == PartitionsAssigned && event.Err == nil:
		g.onAssigned(event)
	case event.Type == PartitionsRevoked && event.Err == nil:
		g.onRevoked(event)
	default:
		err := event.Err
		if err == nil {
			err = errUnknownRebalance
		}
		g.onRebalanceError(err)
	}
}

func (g *GroupConsumer) onAssigned(event RebalanceEvent) {
	partitions := event.Partitions.Copy()
	g.logger.Info(fmt.Sprintf(`Partitions %s assigning...`, partitions))

	if cb := g.activeCallbacks(); cb.assignment != nil {
		cb.assignment(&partitions)
	}

	if err := g.client.Assign(partitions); err != nil {
		g.logger.Error(fmt.Sprintf(`Assign %s failed due to %s`, partitions, err))
		g.onRebalanceError(brokerErr(`assign`, err))
		return
	}

	// the callback may keep the list it was handed
	g.setAssignment(partitions.Copy())
	g.setState(Assigned)

	g.logger.Info(fmt.Sprintf(`Partitions %s assigned`, partitions))
}

func (g *GroupConsumer) onRevoked(event RebalanceEvent) {
	// the owned partitions are what gets revoked, the event list only matters when nothing is owned
	partitions := g.Assignment()
	if len(partitions) < 1 {
		partitions = event.Partitions.Copy()
	}

	if event.Lost {
		g.logger.Warn(fmt.Sprintf(`Partitions %s lost`, partitions))
	} else {
		g.logger.Info(fmt.Sprintf(`Partitions %s revoking...`, partitions))
	}

	if cb := g.activeCallbacks(); cb.revocation != nil {
		cb.revocation(partitions.Copy())
	}

	if err := g.client.Unassign(); err != nil {
		g.logger.Error(fmt.Sprintf(`Unassign %s failed due to %s`, partitions, err))
		g.onRebalanceError(brokerErr(`unassign`, err))
		return
	}

	g.setAssignment(nil)
	g.setState(Unassigned)

	g.logger.Info(fmt.Sprintf(`Partitions %s revoked`, partitions))
}

func (g *GroupConsumer) onRebalanceError(err error) {
	rErr := &RebalanceError{Err: err}
	g.logger.Warn(rErr.Error())

	if cb := g.activeCallbacks(); cb.rebalanceError != nil {
		cb.rebalanceError(rErr)
	}
}

// activeCallbacks returns the registered callbacks, none once the consumer is closing.
func (g *GroupConsumer) activeCallbacks() rebalanceCallbacks {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closing {
		return rebalanceCallbacks{}
	}

	return rebalanceCallbacks{
		assignment:     g.callbacks.assignment,
		revocation:     g.callbacks.revocation,
		rebalanceError: g.callbacks.rebalanceError,
	}
}

func (g *GroupConsumer) setState(state RebalanceState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = state
}
