package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes JSON messages on <prefix>.<indexer>.
type NATSSink struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// NewNATSSink connects to cfg.NATSURL. The connection reconnects forever.
func NewNATSSink(cfg config.NotifierConfig, log *logger.Logger) (*NATSSink, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.WithComponent(common.ComponentNotifier)

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("starkindexor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second), //nolint:mnd
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnf("disconnected from NATS: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to NATS: url=%s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s := NewPublisherSink(conn, cfg.SubjectPrefix, log)
	s.conn = conn
	log.Infof("publishing notifications to NATS: url=%s prefix=%s", cfg.NATSURL, cfg.SubjectPrefix)
	return s, nil
}

// NewPublisherSink builds the sink on an existing publisher.
func NewPublisherSink(pub Publisher, prefix string, log *logger.Logger) *NATSSink {
	return &NATSSink{pub: pub, prefix: prefix, log: log}
}

// Subject returns the subject messages of indexer are published on.
func (s *NATSSink) Subject(indexer string) string {
	return s.prefix + "." + common.SQLIdentifier(indexer)
}

func (s *NATSSink) Notify(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := s.pub.Publish(s.Subject(msg.Indexer), data); err != nil {
		publishErrors.WithLabelValues(msg.Indexer).Inc()
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection it owns.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
