package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/komodo-search/komodo/internal/komodo"
	"github.com/komodo-search/komodo/internal/metadata"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
	"github.com/komodo-search/komodo/pkg/kafka"
)

// Indices resolves index names to open indices. *komodo.Manager
// satisfies it.
type Indices interface {
	Get(name string) (*komodo.Index, bool)
	Add(ctx context.Context, rec metadata.IndexRecord) (*komodo.Index, error)
}

// IndexConsumer wraps a Kafka consumer to drive document adds.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "ingest-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("ingest consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that adds each event's
// document to its index. Events that can never succeed are reported as
// kafka.ErrPoison so the offset moves past them; storage failures are
// returned plainly and the message is retried.
func HandleMessage(indices Indices) kafka.MessageHandler {
	logger := slog.Default().With("component", "ingest-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			logger.Error("failed to decode ingest event", "error", err, "key", string(key))
			return err
		}
		if err := event.Validate(); err != nil {
			logger.Warn("invalid ingest event", "error", err, "key", string(key))
			return fmt.Errorf("%w: %w", kafka.ErrPoison, err)
		}
		req, err := event.Request()
		if err != nil {
			return fmt.Errorf("%w: %w", kafka.ErrPoison, err)
		}

		idx, ok := indices.Get(event.Index)
		if !ok {
			if !event.CreateIndex {
				return fmt.Errorf("%w: index %s: %w", kafka.ErrPoison, event.Index, apperrors.ErrIndexNotFound)
			}
			if idx, err = indices.Add(ctx, metadata.IndexRecord{Name: event.Index, OwnerGUID: event.OwnerGUID}); err != nil {
				return fmt.Errorf("creating index %s: %w", event.Index, err)
			}
		}

		logger.Debug("processing ingest event", "index", event.Index, "name", event.Name, "type", req.Type)
		res := idx.Add(ctx, req)
		if !res.Success {
			err := fmt.Errorf("adding %s to %s: %s: %s", event.Name, event.Index, res.Error, res.Message)
			if permanent(res) {
				return fmt.Errorf("%w: %w", kafka.ErrPoison, err)
			}
			return err
		}
		logger.Info("document ingested",
			"index", event.Index,
			"guid", res.GUID,
			"state", res.State,
		)
		return nil
	}
}

// permanent reports whether redelivering the event would fail the same
// way. A document that reached Stored is already persisted, so retrying
// would only collide with itself.
func permanent(res *komodo.IndexResult) bool {
	if res.State != komodo.StateReceived {
		return true
	}
	switch res.Error {
	case apperrors.IDMissingParams, apperrors.IDParseError, apperrors.IDDestroyInProgress:
		return true
	case apperrors.IDWriteError:
		return errors.Is(res.Err, apperrors.ErrDocumentExists)
	}
	return false
}
