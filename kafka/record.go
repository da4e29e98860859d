package kafka

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

type Record interface {
	Ctx() context.Context
	Key() []byte
	Value() []byte
	Topic() string
	Partition() int32
	Offset() int64
	Timestamp() time.Time
	Headers() RecordHeaders
	String() string
}

// RecordHeader stores key and value for a record header.
type RecordHeader struct {
	Key   []byte
	Value []byte
}

// RecordHeaders are list of key:value pairs.
type RecordHeaders []RecordHeader

// Read returns a RecordHeader by its name or nil if not exist
func (h RecordHeaders) Read(key []byte) []byte {
	for _, header := range h {
		if bytes.Equal(header.Key, key) {
			return header.Value
		}
	}

	return nil
}

// Message is the result of a poll. It carries exactly one of a record, a per-partition error or a
// partition EOF marker. A Message is never modified after it is returned.
type Message struct {
	record Record
	tp     TopicPartition
	err    error
	eof    bool
}

func NewRecordMessage(record Record) *Message {
	return &Message{
		record: record,
		tp: TopicPartition{
			Topic:     record.Topic(),
			Partition: record.Partition(),
			Offset:    Offset(record.Offset()),
		},
	}
}

func NewErrorMessage(tp TopicPartition, err error) *Message {
	return &Message{tp: tp, err: err}
}

// NewEOFMessage creates the end of partition marker. EOF is not an error, Err() returns nil.
func NewEOFMessage(tp TopicPartition) *Message {
	return &Message{tp: tp, eof: true}
}

// Record returns the consumed record, nil for error and EOF messages.
func (m *Message) Record() Record {
	return m.record
}

func (m *Message) TopicPartition() TopicPartition {
	return m.tp
}

func (m *Message) Err() error {
	return m.err
}

func (m *Message) IsEOF() bool {
	return m.eof
}

func (m *Message) Key() []byte {
	if m.record == nil {
		return nil
	}

	return m.record.Key()
}

func (m *Message) Value() []byte {
	if m.record == nil {
		return nil
	}

	return m.record.Value()
}

func (m *Message) Timestamp() time.Time {
	if m.record == nil {
		return time.Time{}
	}

	return m.record.Timestamp()
}

func (m *Message) String() string {
	switch {
	case m.eof:
		return fmt.Sprintf(`EOF(%s@%s)`, m.tp, m.tp.Offset)
	case m.err != nil:
		return fmt.Sprintf(`Error(%s: %s)`, m.tp, m.err)
	default:
		return m.record.String()
	}
}
