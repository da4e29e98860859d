package kafka

import (
	"errors"
	"fmt"
)

var (
	ErrNoGroupId      = errors.New(`group id is not configured`)
	ErrConsumerClosed = errors.New(`consumer closed`)
	ErrNotAssigned    = errors.New(`partition is not assigned to this consumer`)
	ErrEmptyTopicList = errors.New(`empty topic list`)
)

// ConfigurationError is returned when a consumer cannot be constructed (or subscribed) with the
// given configuration.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf(`invalid configuration [%s]: %s`, e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// BrokerError wraps a failed broker client call. Op names the primitive that failed.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf(`broker %s failed: %s`, e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// RebalanceError is delivered to the rebalance error callback. It never stops the consumer.
type RebalanceError struct {
	Err error
}

func (e *RebalanceError) Error() string {
	return fmt.Sprintf(`rebalance failed: %s`, e.Err)
}

func (e *RebalanceError) Unwrap() error {
	return e.Err
}

func brokerErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var be *BrokerError
	if errors.As(err, &be) {
		return err
	}

	return &BrokerError{Op: op, Err: err}
}
