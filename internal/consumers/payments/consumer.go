// Package payments turns verified payment confirmations from Pub/Sub into
// order settlement.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/marketplace-ledger/internal/orders"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/metrics"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/registry"
	"github.com/angelmondragon/marketplace-ledger/pkg/tracing"
)

// ConsumerName scopes idempotency markers and metrics.
const ConsumerName = "payments"

const (
	resultAck     = "ack"
	resultNack    = "nack"
	resultSkipped = "skipped"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type paymentConfirmer interface {
	ConfirmPayment(ctx context.Context, input orders.ConfirmPaymentInput) (*models.Order, error)
}

type idempotencyGuard interface {
	IsProcessed(ctx context.Context, consumer, key string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, key string) (bool, error)
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

// NewDecoders registers the payload versions this consumer understands.
func NewDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventPaymentConfirmed, 1, registry.JSONDecoder[payloads.PaymentConfirmedEvent]())
	return decoders
}

// Consumer settles orders from payment_confirmed messages. Retryable failures
// are nacked for redelivery; everything else is acked.
type Consumer struct {
	subscription receiver
	orders       paymentConfirmer
	guard        idempotencyGuard
	decoders     payloadDecoder
	metrics      *metrics.ConsumerMetrics
	logg         *logger.Logger
}

// NewConsumer wires the payments consumer.
func NewConsumer(subscription receiver, confirmer paymentConfirmer, guard idempotencyGuard, decoders payloadDecoder, m *metrics.ConsumerMetrics, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("payments subscription is required")
	}
	if confirmer == nil {
		return nil, errors.New("payment confirmer is required")
	}
	if guard == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: subscription,
		orders:       confirmer,
		guard:        guard,
		decoders:     decoders,
		metrics:      m,
		logg:         logg,
	}, nil
}

// Run receives messages until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.process(innerCtx, msg.ID, msg.Attributes, msg.Data) == resultNack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type confirmation struct {
	key   string
	event *payloads.PaymentConfirmedEvent
}

func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) (result string) {
	ctx, span := tracing.Start(ctx, "payments.process")
	defer span.End()
	defer func() { c.metrics.Inc(ConsumerName, result) }()

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"trace_id":   tracing.TraceID(ctx),
	})

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(attrs["event_type"]))
	if err != nil || eventType != enums.EventPaymentConfirmed {
		c.logg.Warn(c.logg.WithField(logCtx, "event_type", attrs["event_type"]), "ignoring unsupported message")
		return resultSkipped
	}

	conf, err := c.decode(messageID, eventType, data)
	if err != nil {
		c.logg.Error(logCtx, "invalid payment confirmation", err)
		return resultSkipped
	}
	logCtx = c.logg.WithBuyerID(c.logg.WithOrderID(logCtx, conf.event.OrderID.String()), conf.event.BuyerID.String())

	done, err := c.guard.IsProcessed(logCtx, ConsumerName, conf.key)
	if err != nil {
		// ConfirmPayment is idempotent; proceed without the marker.
		c.logg.Warn(logCtx, "idempotency lookup failed, processing anyway")
	} else if done {
		c.logg.Info(logCtx, "payment confirmation already processed")
		return resultAck
	}

	_, err = c.orders.ConfirmPayment(logCtx, orders.ConfirmPaymentInput{
		OrderID:          conf.event.OrderID,
		BuyerID:          conf.event.BuyerID,
		PaymentReference: conf.event.PaymentReference,
		PaymentResult:    conf.event.PaymentResult,
	})
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			c.logg.Error(logCtx, "payment confirmation failed, will retry", err)
			return resultNack
		}
		c.logg.Error(logCtx, "payment confirmation rejected", err)
		return resultAck
	}

	if _, err := c.guard.MarkProcessed(logCtx, ConsumerName, conf.key); err != nil {
		c.logg.Warn(logCtx, "failed to record processed marker")
	}
	c.logg.Info(logCtx, "payment confirmation settled")
	return resultAck
}

func (c *Consumer) decode(messageID string, eventType enums.OutboxEventType, data []byte) (*confirmation, error) {
	envelope, err := outbox.OpenEnvelope(data)
	if err != nil {
		return nil, err
	}
	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, err
	}
	event, ok := decoded.(*payloads.PaymentConfirmedEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", decoded)
	}
	key := strings.TrimSpace(envelope.EventID)
	if key == "" {
		key = messageID
	}
	if key == "" {
		return nil, errors.New("message has no event id")
	}
	return &confirmation{key: key, event: event}, nil
}
