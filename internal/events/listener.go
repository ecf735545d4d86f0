package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader used by SyncRequestListener.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SyncRequestHandler runs the sync a request asks for.
type SyncRequestHandler func(ctx context.Context, req SyncRequested) error

// ListenerConfig holds configuration for the sync request listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for sync requests.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// SyncRequestListener consumes sync requests. A message is committed after
// its handler returns, whether or not the handler succeeded; malformed
// messages are logged and committed.
type SyncRequestListener struct {
	reader  MessageReader
	handler SyncRequestHandler
	logger  zerolog.Logger
}

// NewSyncRequestListener creates a listener backed by a kafka.Reader.
func NewSyncRequestListener(cfg ListenerConfig, handler SyncRequestHandler, logger zerolog.Logger) *SyncRequestListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return NewSyncRequestListenerWithReader(reader, handler, logger)
}

// NewSyncRequestListenerWithReader creates a listener on an existing reader.
func NewSyncRequestListenerWithReader(reader MessageReader, handler SyncRequestHandler, logger zerolog.Logger) *SyncRequestListener {
	return &SyncRequestListener{
		reader:  reader,
		handler: handler,
		logger:  logger.With().Str("component", "sync_request_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *SyncRequestListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting sync request listener")

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("sync request listener stopped via context cancellation")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.handle(ctx, msg)

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to commit message")
		}
	}
}

func (l *SyncRequestListener) handle(ctx context.Context, msg kafka.Message) {
	l.logger.Debug().
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("received sync request")

	var req SyncRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		l.logger.Error().Err(err).
			Str("raw_value", string(msg.Value)).
			Msg("failed to unmarshal sync request")
		return
	}

	if err := l.handler(ctx, req); err != nil {
		l.logger.Error().Err(err).
			Int("paper_ids", len(req.PaperIDs)).
			Str("requested_by", req.RequestedBy).
			Msg("failed to handle sync request")
	}
}

// Close closes the Kafka reader.
func (l *SyncRequestListener) Close() error {
	l.logger.Info().Msg("closing sync request listener")
	return l.reader.Close()
}
