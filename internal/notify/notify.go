// Package notify publishes what an indexer committed: batches and rollbacks.
// Sinks are best effort; a failed notification never undoes a commit.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// Message types.
const (
	TypeBatchCommitted = "batch_committed"
	TypeRollback       = "rollback"
)

// Message describes one committed change of an indexer.
type Message struct {
	Type      string          `json:"type"`
	Indexer   string          `json:"indexer"`
	Cursor    stream.Cursor   `json:"cursor"`
	Finality  stream.Finality `json:"finality,omitempty"`
	Events    int             `json:"events,omitempty"`
	Mutations int             `json:"mutations,omitempty"`
	Skipped   int             `json:"skipped,omitempty"`
	FromBlock uint64          `json:"from_block,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// BatchCommitted builds the message for a committed batch.
func BatchCommitted(indexer string, cursor stream.Cursor, finality stream.Finality, events, mutations, skipped int) Message {
	return Message{
		Type:      TypeBatchCommitted,
		Indexer:   indexer,
		Cursor:    cursor,
		Finality:  finality,
		Events:    events,
		Mutations: mutations,
		Skipped:   skipped,
		Timestamp: time.Now().Unix(),
	}
}

// Rollback builds the message for a rollback to ancestor. fromBlock is the
// lowest block whose rows were removed.
func Rollback(indexer string, ancestor stream.Cursor, fromBlock uint64) Message {
	return Message{
		Type:      TypeRollback,
		Indexer:   indexer,
		Cursor:    ancestor,
		FromBlock: fromBlock,
		Timestamp: time.Now().Unix(),
	}
}

// Sink receives committed changes.
type Sink interface {
	Notify(ctx context.Context, msg Message) error
	Close() error
}

// Multi fans a message out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes every message to the log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink that logs at info level for rollbacks and debug
// level for batches.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, msg Message) error {
	switch msg.Type {
	case TypeRollback:
		s.log.Infof("rollback: indexer=%s ancestor=%s from_block=%d", msg.Indexer, msg.Cursor.String(), msg.FromBlock)
	default:
		s.log.Debugf("batch committed: indexer=%s cursor=%s finality=%s events=%d mutations=%d skipped=%d",
			msg.Indexer, msg.Cursor.String(), msg.Finality, msg.Events, msg.Mutations, msg.Skipped)
	}
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
