package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/registry"
	"github.com/angelmondragon/marketplace-ledger/pkg/tracing"
)

// Per-row outcomes, also used as metric labels.
const (
	resultPublished    = "published"
	resultFailed       = "failed"
	resultDeferred     = "deferred"
	resultDeadLettered = "dead_lettered"
)

// processBatch claims one batch and publishes it inside a single transaction.
// It reports whether any row left the queue so Run can poll again at once.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	ctx, span := tracing.Start(ctx, "outbox.process_batch")
	defer span.End()

	tally := map[string]int{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		// keys with an unsent row earlier in this batch
		held := map[string]struct{}{}
		for _, row := range rows {
			result, err := s.dispatch(ctx, tx, row, held)
			if err != nil {
				return err
			}
			tally[result]++
			s.metrics.Inc(string(row.EventType), result)
		}
		return nil
	})
	span.SetAttributes(
		attribute.Int("outbox.published", tally[resultPublished]),
		attribute.Int("outbox.failed", tally[resultFailed]),
		attribute.Int("outbox.deferred", tally[resultDeferred]),
		attribute.Int("outbox.dead_lettered", tally[resultDeadLettered]),
	)
	if err != nil {
		return false, err
	}
	return tally[resultPublished]+tally[resultDeadLettered] > 0, nil
}

// dispatch settles one row. A row whose ordering key is already held is left
// untouched for a later batch, so its attempt count does not grow.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, held map[string]struct{}) (string, error) {
	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return resultDeadLettered, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, rowFields(row))
	}
	msg, err := buildMessage(row, resolved)
	if err != nil {
		return resultDeadLettered, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, rowFields(row))
	}

	fields := messageFields(row, msg, resolved.Descriptor.Topic)
	if _, ok := held[msg.OrderingKey]; ok {
		s.logg.Debug(s.logg.WithFields(ctx, fields), "outbox event held behind earlier failure")
		return resultDeferred, nil
	}

	err = s.send(ctx, resolved.Descriptor.Topic, msg)
	if err == nil {
		if err := s.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return resultPublished, nil
	}

	held[msg.OrderingKey] = struct{}{}
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return resultDeadLettered, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	attempt := row.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		err = fmt.Errorf("max publish attempts reached: %w", err)
		return resultDeadLettered, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, err, fields)
	}

	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error()), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, row.ID, err); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	return resultFailed, nil
}

// send publishes msg and waits for the broker ack. On failure the ordering
// key is resumed so the retry in a later batch is accepted.
func (s *Service) send(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		pub.Resume(msg.OrderingKey)
		return err
	}
	return nil
}

// deadLetter copies the row into the DLQ and retires it from the queue in the same transaction.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", cause.Error()), "outbox event dead-lettered")

	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, row.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}
